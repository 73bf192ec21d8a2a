package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-service/internal/domain"
	"solana-wallet-service/internal/solana"
	"solana-wallet-service/internal/solana/stub"
)

const testAddress = "So11111111111111111111111111111111111111112"
const testEndpoint = "https://rpc.test"

func newTestScheduler(client solana.RPCClient, opts ...SchedulerOption) *Scheduler {
	factory := func(string) solana.RPCClient { return client }
	return NewScheduler(factory, opts...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScheduler_EnsureRunning(t *testing.T) {
	client := stub.NewRPCClient()
	client.SetBalance(testAddress, 1_500_000_000)
	client.SetTokenAccounts(testAddress, domain.TokenProgramID, []solana.TokenAccount{
		{Mint: "mint1", Amount: "750000", Decimals: 6, UIAmount: 0.75, ProgramID: domain.TokenProgramID},
		{Mint: "mint2", Amount: "0", Decimals: 9, ProgramID: domain.TokenProgramID},
	})

	s := newTestScheduler(client, WithInterval(time.Hour))
	defer s.Close()

	require.NoError(t, s.EnsureRunning(testEndpoint, testAddress))

	waitFor(t, time.Second, func() bool {
		_, ok := s.Cached(testEndpoint, testAddress)
		return ok
	})

	entry, ok := s.Cached(testEndpoint, testAddress)
	require.True(t, ok)
	assert.Equal(t, uint64(1_500_000_000), entry.Snapshot.Lamports)
	assert.Equal(t, 1.5, entry.Snapshot.SOL)

	// Zero balances are skipped.
	require.Len(t, entry.Snapshot.Tokens, 1)
	assert.Equal(t, "mint1", entry.Snapshot.Tokens[0].Mint)
}

func TestScheduler_EnsureRunning_Idempotent(t *testing.T) {
	client := stub.NewRPCClient()
	s := newTestScheduler(client, WithInterval(time.Hour))
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.EnsureRunning(testEndpoint, testAddress))
		}()
	}
	wg.Wait()

	assert.Len(t, s.Watched(), 1)

	// Exactly one loop means exactly one startup fetch.
	waitFor(t, time.Second, func() bool { return client.Calls.GetBalance.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), client.Calls.GetBalance.Load())
}

func TestScheduler_EnsureRunning_InvalidAddress(t *testing.T) {
	s := newTestScheduler(stub.NewRPCClient())
	defer s.Close()

	err := s.EnsureRunning(testEndpoint, "bogus")
	require.Error(t, err)
	assert.Equal(t, domain.KindInput, domain.KindOf(err))
}

func TestScheduler_CachedNoIO(t *testing.T) {
	client := stub.NewRPCClient()
	s := newTestScheduler(client)
	defer s.Close()

	_, ok := s.Cached(testEndpoint, testAddress)
	assert.False(t, ok)

	_, err := s.ForceRefresh(context.Background(), testEndpoint, testAddress)
	require.NoError(t, err)
	fetches := client.Calls.GetBalance.Load()

	for i := 0; i < 5; i++ {
		_, ok := s.Cached(testEndpoint, testAddress)
		assert.True(t, ok)
	}
	assert.Equal(t, fetches, client.Calls.GetBalance.Load(), "Cached must not touch the network")
}

func TestScheduler_RefreshFailurePreservesEntry(t *testing.T) {
	client := stub.NewRPCClient()
	client.SetBalance(testAddress, 42)

	s := newTestScheduler(client)
	defer s.Close()

	snapshot, err := s.ForceRefresh(context.Background(), testEndpoint, testAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), snapshot.Lamports)

	client.SetErr("getBalance", errors.New("node down"))

	_, err = s.ForceRefresh(context.Background(), testEndpoint, testAddress)
	require.Error(t, err)
	assert.Equal(t, domain.KindTransientRPC, domain.KindOf(err))

	entry, ok := s.Cached(testEndpoint, testAddress)
	require.True(t, ok)
	assert.Equal(t, uint64(42), entry.Snapshot.Lamports, "failed refresh must keep previous snapshot")
}

// slowClient delays GetBalance so concurrent refreshes overlap.
type slowClient struct {
	*stub.RPCClient
	delay time.Duration
}

func (c *slowClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	time.Sleep(c.delay)
	return c.RPCClient.GetBalance(ctx, address)
}

func TestScheduler_ForceRefreshSingleFlight(t *testing.T) {
	inner := stub.NewRPCClient()
	inner.SetBalance(testAddress, 7)
	client := &slowClient{RPCClient: inner, delay: 100 * time.Millisecond}

	s := newTestScheduler(client)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot, err := s.ForceRefresh(context.Background(), testEndpoint, testAddress)
			assert.NoError(t, err)
			assert.Equal(t, uint64(7), snapshot.Lamports)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inner.Calls.GetBalance.Load(), "concurrent refreshes must share one fetch")
}

func TestScheduler_KeysAreIndependent(t *testing.T) {
	client := stub.NewRPCClient()
	client.SetBalance(testAddress, 1)

	s := newTestScheduler(client)
	defer s.Close()

	_, err := s.ForceRefresh(context.Background(), "https://a", testAddress)
	require.NoError(t, err)

	_, ok := s.Cached("https://b", testAddress)
	assert.False(t, ok, "entries are keyed by endpoint and address")
}

func TestScheduler_Close(t *testing.T) {
	client := stub.NewRPCClient()
	s := newTestScheduler(client, WithInterval(10*time.Millisecond))

	require.NoError(t, s.EnsureRunning(testEndpoint, testAddress))
	require.NoError(t, s.Close())

	calls := client.Calls.GetBalance.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, client.Calls.GetBalance.Load(), "loops must stop after Close")

	assert.Error(t, s.EnsureRunning(testEndpoint, testAddress))
}
