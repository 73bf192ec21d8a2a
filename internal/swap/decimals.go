package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"solana-wallet-service/internal/domain"
	"solana-wallet-service/internal/solana"
)

// Decimal resolution failures that are the caller's fault rather than
// the node's.
var (
	ErrMintNotFound = errors.New("mint account does not exist")
	ErrNotAMint     = errors.New("account is not a token mint")
)

// DecimalsCache remembers mint decimals across swaps. Reads dominate,
// so lookups take the read lock. Seeded with the mints every wallet
// touches.
type DecimalsCache struct {
	mu sync.RWMutex
	m  map[string]uint8
}

// NewDecimalsCache creates a cache pre-seeded with well-known mints.
func NewDecimalsCache() *DecimalsCache {
	return &DecimalsCache{
		m: map[string]uint8{
			domain.WrappedSOLMint: domain.SOLDecimals,
			domain.USDCMint:       6,
			domain.USDTMint:       6,
		},
	}
}

// Resolve returns the decimals for a mint, reading the chain on a
// cache miss and remembering the answer.
func (c *DecimalsCache) Resolve(ctx context.Context, client solana.RPCClient, mint string) (uint8, error) {
	c.mu.RLock()
	d, ok := c.m[mint]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	info, err := client.GetAccountInfo(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("mint account %s: %w", mint, err)
	}
	if info == nil {
		return 0, fmt.Errorf("mint %s: %w", mint, ErrMintNotFound)
	}
	if info.Decimals == nil {
		return 0, fmt.Errorf("account %s: %w", mint, ErrNotAMint)
	}

	c.mu.Lock()
	c.m[mint] = *info.Decimals
	c.mu.Unlock()
	return *info.Decimals, nil
}
