// Package portfolio keeps wallet balance snapshots fresh. Each watched
// (endpoint, address) pair gets one background refresh loop; reads are
// served from the in-memory cache without network I/O.
package portfolio

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"solana-wallet-service/internal/domain"
	"solana-wallet-service/internal/observability"
	"solana-wallet-service/internal/solana"
)

// DefaultRefreshInterval is how often a background loop refetches.
const DefaultRefreshInterval = 120 * time.Second

// ClientFactory builds an RPC client for an endpoint. Factories are
// invoked once per endpoint and the client reused across addresses.
type ClientFactory func(endpoint string) solana.RPCClient

// key identifies one cache slot.
type key struct {
	endpoint string
	address  string
}

func (k key) String() string {
	return k.endpoint + "|" + k.address
}

// loop is one running refresher.
type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns the cache and the refresh loops.
type Scheduler struct {
	factory  ClientFactory
	interval time.Duration
	logger   *log.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	clients map[string]solana.RPCClient
	loops   map[key]*loop
	entries map[key]*domain.CacheEntry
	closed  bool

	sf singleflight.Group
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the background refresh interval.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *log.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithMetrics attaches metrics.
func WithMetrics(m *observability.Metrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// NewScheduler creates a Scheduler. factory may be nil, in which case
// endpoints get a default HTTP client.
func NewScheduler(factory ClientFactory, opts ...SchedulerOption) *Scheduler {
	if factory == nil {
		factory = func(endpoint string) solana.RPCClient {
			return solana.NewHTTPClient(endpoint)
		}
	}
	s := &Scheduler{
		factory:  factory,
		interval: DefaultRefreshInterval,
		logger:   log.New(io.Discard, "", 0),
		clients:  make(map[string]solana.RPCClient),
		loops:    make(map[key]*loop),
		entries:  make(map[key]*domain.CacheEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// client returns the shared RPC client for an endpoint.
func (s *Scheduler) client(endpoint string) solana.RPCClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[endpoint]
	if !ok {
		c = s.factory(endpoint)
		s.clients[endpoint] = c
	}
	return c
}

// EnsureRunning starts the background refresh loop for the pair if it
// is not already running. Concurrent calls start exactly one loop.
func (s *Scheduler) EnsureRunning(endpoint, address string) error {
	if err := domain.ValidateAddress(address); err != nil {
		return domain.NewError(domain.KindInput, "ensure running", err)
	}

	k := key{endpoint, address}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("scheduler closed")
	}
	if _, running := s.loops[k]; running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	s.loops[k] = l
	if s.metrics != nil {
		s.metrics.ActiveRefreshers.Inc()
	}

	go s.run(ctx, k, l)
	return nil
}

// run is one refresh loop: fetch, store, sleep. A failed fetch is
// logged and the previous entry kept.
func (s *Scheduler) run(ctx context.Context, k key, l *loop) {
	defer close(l.done)

	for {
		if _, err := s.refresh(ctx, k); err != nil && ctx.Err() == nil {
			s.logger.Printf("refresh failed endpoint=%s address=%s: %v", k.endpoint, k.address, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
	}
}

// refresh fetches a fresh snapshot and stores it. Concurrent refreshes
// of the same key collapse into one fetch.
func (s *Scheduler) refresh(ctx context.Context, k key) (*domain.BalanceSnapshot, error) {
	v, err, _ := s.sf.Do(k.String(), func() (interface{}, error) {
		snapshot, err := FetchSnapshot(ctx, s.client(k.endpoint), k.address)
		if err != nil {
			if s.metrics != nil {
				s.metrics.RefreshRuns.WithLabelValues("error").Inc()
			}
			return nil, err
		}

		s.mu.Lock()
		s.entries[k] = &domain.CacheEntry{Snapshot: snapshot, UpdatedAt: snapshot.FetchedAt}
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.RefreshRuns.WithLabelValues("ok").Inc()
		}
		return snapshot, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.BalanceSnapshot), nil
}

// Cached returns the cached entry for the pair without any network
// I/O. The second return is false when nothing has been fetched yet.
func (s *Scheduler) Cached(endpoint, address string) (*domain.CacheEntry, bool) {
	s.mu.Lock()
	entry, ok := s.entries[key{endpoint, address}]
	s.mu.Unlock()

	if s.metrics != nil {
		if ok {
			s.metrics.CacheReads.WithLabelValues("hit").Inc()
		} else {
			s.metrics.CacheReads.WithLabelValues("miss").Inc()
		}
	}
	return entry, ok
}

// ForceRefresh fetches a fresh snapshot now, bypassing the interval.
// Concurrent forced refreshes of one key share a single fetch.
func (s *Scheduler) ForceRefresh(ctx context.Context, endpoint, address string) (*domain.BalanceSnapshot, error) {
	if err := domain.ValidateAddress(address); err != nil {
		return nil, domain.NewError(domain.KindInput, "force refresh", err)
	}
	snapshot, err := s.refresh(ctx, key{endpoint, address})
	if err != nil {
		return nil, domain.NewError(domain.KindTransientRPC, "force refresh", err)
	}
	return snapshot, nil
}

// Watched lists pairs with a running loop.
func (s *Scheduler) Watched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.loops))
	for k := range s.loops {
		out = append(out, k.String())
	}
	return out
}

// Close stops every loop and waits for them to exit.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	loops := make([]*loop, 0, len(s.loops))
	for _, l := range s.loops {
		loops = append(loops, l)
	}
	s.loops = make(map[key]*loop)
	s.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
	if s.metrics != nil {
		s.metrics.ActiveRefreshers.Set(0)
	}
	return nil
}

// FetchSnapshot reads the full holdings of an address: native balance
// plus token accounts under both token programs. Zero balances are
// skipped.
func FetchSnapshot(ctx context.Context, client solana.RPCClient, address string) (*domain.BalanceSnapshot, error) {
	lamports, err := client.GetBalance(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	var tokens []domain.TokenBalance
	for _, program := range []string{domain.TokenProgramID, domain.Token2022ProgramID} {
		accounts, err := client.GetTokenAccountsByOwner(ctx, address, program)
		if err != nil {
			return nil, fmt.Errorf("token accounts (%s): %w", program, err)
		}
		for _, acct := range accounts {
			if acct.Amount == "" || acct.Amount == "0" {
				continue
			}
			tokens = append(tokens, domain.TokenBalance{
				Mint:      acct.Mint,
				RawAmount: acct.Amount,
				Decimals:  acct.Decimals,
				UIAmount:  acct.UIAmount,
				ProgramID: acct.ProgramID,
			})
		}
	}

	return &domain.BalanceSnapshot{
		Address:   address,
		Lamports:  lamports,
		SOL:       domain.LamportsToSOL(lamports),
		Tokens:    tokens,
		FetchedAt: time.Now(),
	}, nil
}
