package service

import (
	"os"
	"time"

	"solana-wallet-service/internal/domain"
	"solana-wallet-service/internal/portfolio"
	"solana-wallet-service/internal/subscription"
)

// Config is the service's resolved configuration. Zero values are
// filled from the environment and then from hard defaults, in that
// order, by Resolve.
type Config struct {
	// RPCEndpoint is the Solana JSON-RPC HTTP endpoint.
	// Env: SOLANA_RPC_URL, RPC_URL.
	RPCEndpoint string

	// WSEndpoint is the websocket endpoint for account subscriptions.
	// Derived from RPCEndpoint when empty. Env: SOLANA_WS_URL.
	WSEndpoint string

	// PrivateKey is the wallet's private key (base58 or base64). Swaps
	// are refused when empty. Env: SOLANA_PRIVATE_KEY, WALLET_PRIVATE_KEY.
	PrivateKey string

	// BirdeyeAPIKey authenticates price lookups. Prices read as zero
	// when empty. Env: BIRDEYE_API_KEY.
	BirdeyeAPIKey string

	// RefreshInterval is the portfolio background refresh cadence.
	RefreshInterval time.Duration
}

// envOr returns the first non-empty environment variable among keys.
func envOr(fallback string, keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return fallback
}

// Resolve fills unset fields: explicit value wins over environment,
// environment over default.
func (c Config) Resolve() Config {
	if c.RPCEndpoint == "" {
		c.RPCEndpoint = envOr(domain.DefaultRPCEndpoint, "SOLANA_RPC_URL", "RPC_URL")
	}
	if c.WSEndpoint == "" {
		c.WSEndpoint = envOr("", "SOLANA_WS_URL")
	}
	if c.WSEndpoint == "" {
		c.WSEndpoint = subscription.DeriveWSEndpoint(c.RPCEndpoint)
	}
	if c.PrivateKey == "" {
		c.PrivateKey = envOr("", "SOLANA_PRIVATE_KEY", "WALLET_PRIVATE_KEY")
	}
	if c.BirdeyeAPIKey == "" {
		c.BirdeyeAPIKey = envOr("", "BIRDEYE_API_KEY")
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = portfolio.DefaultRefreshInterval
	}
	return c
}
