// Package service is the facade the rest of the system talks to. It
// owns the portfolio scheduler, the subscription manager, the price
// oracle and the swap pipeline, and exposes their operations with the
// shared error taxonomy. Nothing panics across this boundary.
package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"

	"solana-wallet-service/internal/domain"
	"solana-wallet-service/internal/jupiter"
	"solana-wallet-service/internal/keys"
	"solana-wallet-service/internal/observability"
	"solana-wallet-service/internal/portfolio"
	"solana-wallet-service/internal/price"
	"solana-wallet-service/internal/solana"
	"solana-wallet-service/internal/subscription"
	"solana-wallet-service/internal/swap"
)

// Service bundles the wallet subsystem behind one handle.
type Service struct {
	cfg     Config
	wallet  *keys.Keypair // nil when no private key is configured
	rpc     solana.RPCClient
	agg     swap.Aggregator
	logger  *log.Logger
	metrics *observability.Metrics

	scheduler *portfolio.Scheduler
	subs      *subscription.Manager
	oracle    *price.Oracle
	pipeline  *swap.Pipeline
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service's logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithMetrics attaches metrics to the service and every component it
// builds.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRPCClient injects the chain client, bypassing the HTTP client
// the service would otherwise build for the configured endpoint.
func WithRPCClient(c solana.RPCClient) Option {
	return func(s *Service) {
		s.rpc = c
	}
}

// WithAggregator injects the swap aggregator, bypassing the Jupiter
// client the service would otherwise build.
func WithAggregator(agg swap.Aggregator) Option {
	return func(s *Service) {
		s.agg = agg
	}
}

// New builds a Service from cfg (resolved against the environment).
// A missing private key is not an error; swap operations will be
// refused until one is configured.
func New(cfg Config, opts ...Option) (*Service, error) {
	cfg = cfg.Resolve()

	s := &Service{
		cfg:    cfg,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.PrivateKey != "" {
		wallet, err := keys.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wallet key: %w", err)
		}
		s.wallet = wallet
	}

	if s.rpc == nil {
		s.rpc = solana.NewHTTPClient(cfg.RPCEndpoint)
	}

	factory := func(string) solana.RPCClient { return s.rpc }
	s.scheduler = portfolio.NewScheduler(factory,
		portfolio.WithInterval(cfg.RefreshInterval),
		portfolio.WithLogger(s.logger),
		portfolio.WithMetrics(s.metrics),
	)

	s.subs = subscription.NewManager(cfg.WSEndpoint,
		subscription.WithLogger(s.logger),
		subscription.WithMetrics(s.metrics),
	)

	s.oracle = price.NewOracle(cfg.BirdeyeAPIKey,
		price.WithLogger(s.logger),
		price.WithMetrics(s.metrics),
	)

	if s.wallet != nil {
		if s.agg == nil {
			s.agg = jupiter.NewClient()
		}
		s.pipeline = swap.NewPipeline(s.rpc, s.agg, s.wallet,
			swap.WithLogger(s.logger),
			swap.WithMetrics(s.metrics),
		)
	}

	return s, nil
}

// WalletAddress returns the configured wallet's address, empty when no
// key is configured.
func (s *Service) WalletAddress() string {
	if s.wallet == nil {
		return ""
	}
	return s.wallet.PublicKey
}

// GetWalletInfo returns the holdings of an address. A warm cache
// answers without network I/O; a cold start fetches once, with
// concurrent cold calls sharing the fetch. The background refresh loop
// is started either way.
func (s *Service) GetWalletInfo(ctx context.Context, address string) (*domain.BalanceSnapshot, error) {
	if err := s.scheduler.EnsureRunning(s.cfg.RPCEndpoint, address); err != nil {
		return nil, err
	}
	if entry, ok := s.scheduler.Cached(s.cfg.RPCEndpoint, address); ok {
		return entry.Snapshot, nil
	}
	return s.scheduler.ForceRefresh(ctx, s.cfg.RPCEndpoint, address)
}

// RefreshWalletInfo bypasses the cache and fetches fresh holdings now.
func (s *Service) RefreshWalletInfo(ctx context.Context, address string) (*domain.BalanceSnapshot, error) {
	if err := s.scheduler.EnsureRunning(s.cfg.RPCEndpoint, address); err != nil {
		return nil, err
	}
	return s.scheduler.ForceRefresh(ctx, s.cfg.RPCEndpoint, address)
}

// GetPortfolio returns the holdings of an address annotated with
// oracle prices and the USD value of the native position. Price
// failures degrade to zeroed prices rather than failing the read.
func (s *Service) GetPortfolio(ctx context.Context, address string) (*domain.Portfolio, error) {
	snapshot, err := s.GetWalletInfo(ctx, address)
	if err != nil {
		return nil, err
	}

	prices, err := s.oracle.Prices(ctx, false)
	if err != nil {
		s.logger.Printf("price lookup failed: %v", err)
		prices = map[string]string{}
	}

	p := &domain.Portfolio{Snapshot: snapshot, Prices: prices}
	if sol, err := strconv.ParseFloat(prices["solana"], 64); err == nil {
		p.SOLValue = snapshot.SOL * sol
	}
	return p, nil
}

// GetBalances returns the native SOL balance for each address in one
// round trip.
func (s *Service) GetBalances(ctx context.Context, addresses []string) (map[string]float64, error) {
	if len(addresses) == 0 {
		return nil, domain.NewError(domain.KindInput, "get balances", fmt.Errorf("no addresses"))
	}
	for _, addr := range addresses {
		if err := domain.ValidateAddress(addr); err != nil {
			return nil, domain.NewError(domain.KindInput, "get balances", err)
		}
	}

	lamports, err := s.rpc.GetMultipleBalances(ctx, addresses)
	if err != nil {
		return nil, domain.NewError(domain.KindTransientRPC, "get balances", err)
	}

	out := make(map[string]float64, len(lamports))
	for addr, l := range lamports {
		out[addr] = domain.LamportsToSOL(l)
	}
	return out, nil
}

// Prices returns current oracle prices for the tracked tokens.
func (s *Service) Prices(ctx context.Context, forceRefresh bool) (map[string]string, error) {
	prices, err := s.oracle.Prices(ctx, forceRefresh)
	if err != nil {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, "prices", err)
	}
	return prices, nil
}

// SubscribeAccount opens (or rebinds) the account-change subscription
// for an address and returns its subscription id.
func (s *Service) SubscribeAccount(ctx context.Context, address string, handler subscription.Handler) (int64, error) {
	return s.subs.Subscribe(ctx, address, handler, nil)
}

// UnsubscribeAccount tears down the subscription for an address.
func (s *Service) UnsubscribeAccount(address string) error {
	return s.subs.Unsubscribe(address)
}

// SubscriptionStatus reports the subscription state for an address
// without blocking.
func (s *Service) SubscriptionStatus(address string) subscription.Status {
	return s.subs.Status(address)
}

// ExecuteSwap runs the full swap pipeline for the configured wallet.
func (s *Service) ExecuteSwap(ctx context.Context, intent domain.SwapIntent) (*domain.SwapOutcome, error) {
	if s.pipeline == nil {
		return nil, domain.NewStageError(domain.KindInput, domain.StageValidate,
			"no wallet configured", nil)
	}
	return s.pipeline.Execute(ctx, intent)
}

// ProgramAccounts is deliberately refused: enumerating every account a
// token program owns is unbounded on mainnet and no upstream will
// serve it within a request budget.
func (s *Service) ProgramAccounts(_ context.Context, programID string) error {
	return domain.NewError(domain.KindExhaustion, "program accounts",
		fmt.Errorf("enumerating accounts of program %s is refused: result set unbounded", programID))
}

// Close tears down the refresh loops, the subscription listeners and
// their transports, waiting for every goroutine to exit.
func (s *Service) Close() error {
	subErr := s.subs.Close()
	schedErr := s.scheduler.Close()
	if subErr != nil {
		return subErr
	}
	return schedErr
}
