package swap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-service/internal/domain"
	"solana-wallet-service/internal/jupiter"
	"solana-wallet-service/internal/keys"
	"solana-wallet-service/internal/solana"
	"solana-wallet-service/internal/solana/stub"
)

// fakeAggregator scripts quote and swap responses.
type fakeAggregator struct {
	mu           sync.Mutex
	quoteAmounts []uint64
	quoteFn      func(req jupiter.QuoteRequest) (*domain.Quote, error)
	swapErr      error
	swapTx       string
}

func (f *fakeAggregator) Quote(_ context.Context, req jupiter.QuoteRequest) (*domain.Quote, error) {
	f.mu.Lock()
	f.quoteAmounts = append(f.quoteAmounts, req.Amount)
	f.mu.Unlock()
	return f.quoteFn(req)
}

func (f *fakeAggregator) SwapTransaction(_ context.Context, _ *domain.Quote, _ string, _ domain.PriorityTier) (*jupiter.SwapResult, error) {
	if f.swapErr != nil {
		return nil, f.swapErr
	}
	return &jupiter.SwapResult{TransactionBase64: f.swapTx, LastValidBlockHeight: 100}, nil
}

func (f *fakeAggregator) amounts() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, len(f.quoteAmounts))
	copy(out, f.quoteAmounts)
	return out
}

// quoteReturning scripts a fixed quote for every request.
func quoteReturning(outAmount uint64, impact float64, slippageBps int) func(jupiter.QuoteRequest) (*domain.Quote, error) {
	return func(req jupiter.QuoteRequest) (*domain.Quote, error) {
		return &domain.Quote{
			InputMint:      req.InputMint,
			OutputMint:     req.OutputMint,
			InAmountRaw:    req.Amount,
			OutAmountRaw:   outAmount,
			PriceImpactPct: impact,
			SlippageBps:    slippageBps,
			Raw:            []byte(`{}`),
		}, nil
	}
}

// testRig bundles a pipeline whose submitted transaction confirms.
type testRig struct {
	wallet *keys.Keypair
	rpc    *stub.RPCClient
	agg    *fakeAggregator
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	wallet, err := keys.NewKeypair()
	require.NoError(t, err)
	pub, err := base58.Decode(wallet.PublicKey)
	require.NoError(t, err)

	rpc := stub.NewRPCClient()
	rpc.SendSignature = "" // pipeline derives the signature locally

	agg := &fakeAggregator{
		quoteFn: quoteReturning(750000, 0.4, 100),
		swapTx:  buildUnsignedTx(t, true, pub),
	}

	return &testRig{wallet: wallet, rpc: rpc, agg: agg}
}

func (r *testRig) pipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	return NewPipeline(r.rpc, r.agg, r.wallet, WithConfig(cfg))
}

// fastConfig keeps confirmation polling snappy in tests.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.ConfirmTimeout = 200 * time.Millisecond
	cfg.ConfirmPollInterval = 5 * time.Millisecond
	return cfg
}

// confirmAll marks every polled signature confirmed by making the stub
// answer any signature with a confirmed status.
func confirmAll(rig *testRig, t *testing.T) {
	t.Helper()
	// The locally derived signature is the base58 of 64 signed bytes;
	// compute it by signing once through the same path.
	_, sig, err := SignTransaction(rig.agg.swapTx, rig.wallet)
	require.NoError(t, err)
	rig.rpc.SetStatus(sig, &solana.SignatureStatus{ConfirmationStatus: "confirmed"})
	rig.rpc.Transactions[sig] = &solana.TransactionInfo{Signature: sig, FeeLamports: 5000}
}

func TestPipeline_Execute(t *testing.T) {
	rig := newTestRig(t)
	confirmAll(rig, t)
	p := rig.pipeline(t, fastConfig())

	outcome, err := p.Execute(context.Background(), domain.SwapIntent{
		InputMint:  "SOL",
		OutputMint: domain.USDCMint,
		Amount:     "0.1",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.WrappedSOLMint, outcome.InputMint)
	assert.Equal(t, domain.USDCMint, outcome.OutputMint)
	assert.Equal(t, 0.1, outcome.InputAmount)

	// Output comes from the quote's raw out amount and the output
	// mint's decimals, never from the input.
	assert.Equal(t, 0.75, outcome.OutputAmount)

	assert.Equal(t, 100, outcome.SlippageBps)
	assert.Equal(t, uint64(5000), outcome.FeeLamports)
	assert.NotEmpty(t, outcome.Signature)

	// SOL input: amount in raw base units of the wrapped mint.
	assert.Equal(t, []uint64{100_000_000}, rig.agg.amounts())
}

func TestPipeline_IdenticalMints(t *testing.T) {
	rig := newTestRig(t)
	p := rig.pipeline(t, fastConfig())

	_, err := p.Execute(context.Background(), domain.SwapIntent{
		InputMint:  "SOL",
		OutputMint: domain.WrappedSOLMint,
		Amount:     "1",
	})
	require.Error(t, err)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindInput, de.Kind)
	assert.Equal(t, domain.StageValidate, de.Stage)

	// Rejected before any network I/O.
	assert.Empty(t, rig.agg.amounts())
	assert.Zero(t, rig.rpc.Calls.GetAccountInfo.Load())
	assert.Zero(t, rig.rpc.Calls.SendTransaction.Load())
}

func TestPipeline_ValidateRejects(t *testing.T) {
	rig := newTestRig(t)
	p := rig.pipeline(t, fastConfig())

	cases := []struct {
		name   string
		intent domain.SwapIntent
	}{
		{"zero amount", domain.SwapIntent{InputMint: "SOL", OutputMint: domain.USDCMint, Amount: "0"}},
		{"negative amount", domain.SwapIntent{InputMint: "SOL", OutputMint: domain.USDCMint, Amount: "-5"}},
		{"garbage amount", domain.SwapIntent{InputMint: "SOL", OutputMint: domain.USDCMint, Amount: "abc"}},
		{"slippage too high", domain.SwapIntent{InputMint: "SOL", OutputMint: domain.USDCMint, Amount: "1", SlippageBps: 3001}},
		{"slippage negative", domain.SwapIntent{InputMint: "SOL", OutputMint: domain.USDCMint, Amount: "1", SlippageBps: -1}},
		{"bad mint", domain.SwapIntent{InputMint: "definitely-not-a-mint", OutputMint: domain.USDCMint, Amount: "1"}},
		{"bad tier", domain.SwapIntent{InputMint: "SOL", OutputMint: domain.USDCMint, Amount: "1", Priority: "turbo"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Execute(context.Background(), tc.intent)
			require.Error(t, err)
			assert.Equal(t, domain.KindInput, domain.KindOf(err))
		})
	}
}

func TestPipeline_ImpactReducesAmount(t *testing.T) {
	rig := newTestRig(t)
	confirmAll(rig, t)

	// First quote reports 6% impact; the re-quote is benign.
	calls := 0
	rig.agg.quoteFn = func(req jupiter.QuoteRequest) (*domain.Quote, error) {
		calls++
		impact := 6.0
		if calls > 1 {
			impact = 0.3
		}
		return &domain.Quote{
			InputMint:      req.InputMint,
			OutputMint:     req.OutputMint,
			InAmountRaw:    req.Amount,
			OutAmountRaw:   400000,
			PriceImpactPct: impact,
			Raw:            []byte(`{}`),
		}, nil
	}

	p := rig.pipeline(t, fastConfig())

	outcome, err := p.Execute(context.Background(), domain.SwapIntent{
		InputMint:  "SOL",
		OutputMint: domain.USDCMint,
		Amount:     "0.1",
	})
	require.NoError(t, err)

	assert.Equal(t, []uint64{100_000_000, 50_000_000}, rig.agg.amounts(),
		"high impact halves the amount and re-quotes once")
	assert.Equal(t, 0.05, outcome.InputAmount)

	// Dynamic slippage: the reported tolerance follows the impact tier.
	assert.Equal(t, 50, outcome.SlippageBps)
}

func TestPipeline_ExplicitSlippageSkipsHeuristic(t *testing.T) {
	rig := newTestRig(t)
	confirmAll(rig, t)
	rig.agg.quoteFn = quoteReturning(400000, 12.0, 200)

	p := rig.pipeline(t, fastConfig())

	_, err := p.Execute(context.Background(), domain.SwapIntent{
		InputMint:   "SOL",
		OutputMint:  domain.USDCMint,
		Amount:      "0.1",
		SlippageBps: 200,
	})
	require.NoError(t, err)

	assert.Equal(t, []uint64{100_000_000}, rig.agg.amounts(),
		"explicit slippage disables the impact heuristic")
}

func TestPipeline_QuoteFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.agg.quoteFn = func(jupiter.QuoteRequest) (*domain.Quote, error) {
		return nil, errors.New("aggregator down")
	}
	p := rig.pipeline(t, fastConfig())

	_, err := p.Execute(context.Background(), domain.SwapIntent{
		InputMint:  "SOL",
		OutputMint: domain.USDCMint,
		Amount:     "1",
	})
	require.Error(t, err)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindUpstreamUnavailable, de.Kind)
	assert.Equal(t, domain.StageQuote, de.Stage)
}

func TestPipeline_SubmitRejected(t *testing.T) {
	rig := newTestRig(t)
	rig.rpc.SendErr = &solana.RPCError{Code: -32002, Message: "Transaction simulation failed"}
	p := rig.pipeline(t, fastConfig())

	_, err := p.Execute(context.Background(), domain.SwapIntent{
		InputMint:  "SOL",
		OutputMint: domain.USDCMint,
		Amount:     "1",
	})
	require.Error(t, err)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindOnChainRejection, de.Kind)
	assert.Equal(t, domain.StageSubmit, de.Stage)
	assert.Equal(t, int32(1), rig.rpc.Calls.SendTransaction.Load(), "submit is never retried")
}

func TestPipeline_SubmitTransportFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.rpc.SendErr = errors.New("connection reset")
	p := rig.pipeline(t, fastConfig())

	_, err := p.Execute(context.Background(), domain.SwapIntent{
		InputMint:  "SOL",
		OutputMint: domain.USDCMint,
		Amount:     "1",
	})
	require.Error(t, err)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindAmbiguousSubmission, de.Kind)
	assert.NotEmpty(t, de.Signature, "ambiguous submissions carry the signature for later inspection")
	assert.Equal(t, int32(1), rig.rpc.Calls.SendTransaction.Load())
}

func TestPipeline_ConfirmTimeout(t *testing.T) {
	rig := newTestRig(t)
	// No status fixture: the signature never confirms.
	p := rig.pipeline(t, fastConfig())

	_, err := p.Execute(context.Background(), domain.SwapIntent{
		InputMint:  "SOL",
		OutputMint: domain.USDCMint,
		Amount:     "1",
	})
	require.Error(t, err)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindAmbiguousSubmission, de.Kind)
	assert.Equal(t, domain.StageConfirm, de.Stage)
	assert.NotEmpty(t, de.Signature)
}

func TestPipeline_OnChainRejection(t *testing.T) {
	rig := newTestRig(t)
	_, sig, err := SignTransaction(rig.agg.swapTx, rig.wallet)
	require.NoError(t, err)
	rig.rpc.SetStatus(sig, &solana.SignatureStatus{
		ConfirmationStatus: "confirmed",
		Err:                map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
	})

	p := rig.pipeline(t, fastConfig())

	_, err = p.Execute(context.Background(), domain.SwapIntent{
		InputMint:  "SOL",
		OutputMint: domain.USDCMint,
		Amount:     "1",
	})
	require.Error(t, err)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindOnChainRejection, de.Kind)
	assert.Contains(t, de.Message, "InstructionError")
}

func TestPipeline_FeeExtractionBestEffort(t *testing.T) {
	rig := newTestRig(t)
	confirmAll(rig, t)
	rig.rpc.SetErr("getTransaction", errors.New("node lagging"))

	p := rig.pipeline(t, fastConfig())

	outcome, err := p.Execute(context.Background(), domain.SwapIntent{
		InputMint:  "SOL",
		OutputMint: domain.USDCMint,
		Amount:     "1",
	})
	require.NoError(t, err, "fee extraction failure must not fail the swap")
	assert.Zero(t, outcome.FeeLamports)
}

func TestPipeline_DecimalsCached(t *testing.T) {
	rig := newTestRig(t)
	confirmAll(rig, t)

	mintOwner, err := keys.NewKeypair()
	require.NoError(t, err)
	mint := mintOwner.PublicKey
	decimals := uint8(4)
	rig.rpc.SetAccount(mint, &solana.AccountInfo{Owner: domain.TokenProgramID, Decimals: &decimals})

	p := rig.pipeline(t, fastConfig())

	for i := 0; i < 2; i++ {
		_, err := p.Execute(context.Background(), domain.SwapIntent{
			InputMint:  "SOL",
			OutputMint: mint,
			Amount:     "1",
		})
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), rig.rpc.Calls.GetAccountInfo.Load(),
		"mint decimals resolved once then served from cache")
}

func TestPipeline_UnknownMint(t *testing.T) {
	rig := newTestRig(t)
	ghost, err := keys.NewKeypair()
	require.NoError(t, err)

	p := rig.pipeline(t, fastConfig())

	_, err = p.Execute(context.Background(), domain.SwapIntent{
		InputMint:  "SOL",
		OutputMint: ghost.PublicKey,
		Amount:     "1",
	})
	require.Error(t, err)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindInput, de.Kind)
	assert.Equal(t, domain.StageResolveDecimals, de.Stage)
}

func TestSlippageForImpact(t *testing.T) {
	assert.Equal(t, 50, SlippageForImpact(0.2))
	assert.Equal(t, 100, SlippageForImpact(0.7))
	assert.Equal(t, 200, SlippageForImpact(2.5))
}
