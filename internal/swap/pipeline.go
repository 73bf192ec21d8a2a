// Package swap drives a token swap through its fixed stage sequence:
// validate, resolve decimals, quote, build, sign, submit, confirm,
// extract fees. Every failure carries the stage it happened in and a
// classification the caller can act on.
package swap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"solana-wallet-service/internal/domain"
	"solana-wallet-service/internal/jupiter"
	"solana-wallet-service/internal/keys"
	"solana-wallet-service/internal/observability"
	"solana-wallet-service/internal/solana"
)

// Aggregator is the quote/build surface the pipeline needs from the
// swap aggregator.
type Aggregator interface {
	Quote(ctx context.Context, req jupiter.QuoteRequest) (*domain.Quote, error)
	SwapTransaction(ctx context.Context, quote *domain.Quote, userPublicKey string, tier domain.PriorityTier) (*jupiter.SwapResult, error)
}

var _ Aggregator = (*jupiter.Client)(nil)

// Config tunes pipeline behavior.
type Config struct {
	// ImpactThresholdPct triggers the amount reduction when a quote's
	// price impact exceeds it and the caller fixed no slippage.
	ImpactThresholdPct float64

	// ReductionFactor scales the input amount down on high impact.
	ReductionFactor float64

	// Commitment level Confirm waits for.
	Commitment string

	// ConfirmTimeout bounds Confirm; expiry is an ambiguous submission,
	// not a failure.
	ConfirmTimeout time.Duration

	// ConfirmPollInterval is the status poll cadence.
	ConfirmPollInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ImpactThresholdPct:  5.0,
		ReductionFactor:     0.5,
		Commitment:          "confirmed",
		ConfirmTimeout:      60 * time.Second,
		ConfirmPollInterval: 2 * time.Second,
	}
}

// Pipeline executes swaps for one wallet.
type Pipeline struct {
	rpc     solana.RPCClient
	agg     Aggregator
	wallet  *keys.Keypair
	cfg     Config
	logger  *log.Logger
	metrics *observability.Metrics

	decimals *DecimalsCache
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the pipeline's logger.
func WithLogger(l *log.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithMetrics attaches metrics.
func WithMetrics(m *observability.Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithConfig overrides the default Config.
func WithConfig(cfg Config) PipelineOption {
	return func(p *Pipeline) {
		p.cfg = cfg
	}
}

// NewPipeline creates a Pipeline for one wallet.
func NewPipeline(rpc solana.RPCClient, agg Aggregator, wallet *keys.Keypair, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		rpc:      rpc,
		agg:      agg,
		wallet:   wallet,
		cfg:      DefaultConfig(),
		logger:   log.New(io.Discard, "", 0),
		decimals: NewDecimalsCache(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// observe records a stage duration.
func (p *Pipeline) observe(stage domain.Stage, start time.Time) {
	if p.metrics != nil {
		p.metrics.SwapStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
}

// stageErr records metrics and wraps the failure with stage identity.
func (p *Pipeline) stageErr(kind domain.ErrorKind, stage domain.Stage, msg string, err error) *domain.Error {
	if p.metrics != nil {
		p.metrics.SwapStageErrors.WithLabelValues(string(stage)).Inc()
	}
	return domain.NewStageError(kind, stage, msg, err)
}

// Execute runs the full pipeline for one intent. Once Submit has been
// issued the transaction's fate is decided on chain; cancellation of
// ctx no longer aborts the remaining stages.
func (p *Pipeline) Execute(ctx context.Context, intent domain.SwapIntent) (*domain.SwapOutcome, error) {
	outcome, err := p.execute(ctx, intent)
	if p.metrics != nil {
		switch {
		case err == nil:
			p.metrics.SwapsExecuted.WithLabelValues("ok").Inc()
		case domain.KindOf(err) == domain.KindAmbiguousSubmission:
			p.metrics.SwapsExecuted.WithLabelValues("ambiguous").Inc()
		default:
			p.metrics.SwapsExecuted.WithLabelValues("failed").Inc()
		}
	}
	return outcome, err
}

func (p *Pipeline) execute(ctx context.Context, intent domain.SwapIntent) (*domain.SwapOutcome, error) {
	// Validate. No network I/O happens before this stage passes.
	inputMint, outputMint, tier, err := p.validate(intent)
	if err != nil {
		return nil, err
	}

	// ResolveDecimals.
	inDecimals, err := p.resolveDecimals(ctx, inputMint)
	if err != nil {
		return nil, err
	}
	outDecimals, err := p.resolveDecimals(ctx, outputMint)
	if err != nil {
		return nil, err
	}

	rawAmount, err := domain.ParseTokenAmount(intent.Amount, inDecimals)
	if err != nil {
		return nil, p.stageErr(domain.KindInput, domain.StageResolveDecimals, "amount", err)
	}

	// Quote, with one re-quote at a reduced amount when the route's
	// price impact is out of bounds and the caller fixed no slippage.
	quoteStart := time.Now()
	quote, rawAmount, err := p.quote(ctx, inputMint, outputMint, rawAmount, intent.SlippageBps)
	p.observe(domain.StageQuote, quoteStart)
	if err != nil {
		return nil, err
	}

	// BuildTransaction.
	buildStart := time.Now()
	built, err := p.agg.SwapTransaction(ctx, quote, p.wallet.PublicKey, tier)
	p.observe(domain.StageBuildTransaction, buildStart)
	if err != nil {
		return nil, p.stageErr(domain.KindUpstreamUnavailable, domain.StageBuildTransaction, "swap transaction", err)
	}

	// Sign. Key material stays in process.
	signedTx, signature, err := SignTransaction(built.TransactionBase64, p.wallet)
	if err != nil {
		kind := domain.KindUpstreamUnavailable
		if strings.Contains(err.Error(), "not a required signer") {
			kind = domain.KindInput
		}
		return nil, p.stageErr(kind, domain.StageSign, "sign transaction", err)
	}

	// Submit: exactly one send. From here on the transaction may land
	// regardless of what we observe, so ctx cancellation stops helping.
	ctx = context.WithoutCancel(ctx)

	sentSig, err := p.rpc.SendTransaction(ctx, signedTx)
	if err != nil {
		var rpcErr *solana.RPCError
		if errors.As(err, &rpcErr) {
			// Definitive rejection before broadcast.
			return nil, p.stageErr(domain.KindOnChainRejection, domain.StageSubmit, "transaction rejected", err)
		}
		// Transport failure: the node may still have broadcast it.
		stageErr := p.stageErr(domain.KindAmbiguousSubmission, domain.StageSubmit, "submission outcome unknown", err)
		stageErr.Signature = signature
		return nil, stageErr
	}
	if sentSig != "" {
		signature = sentSig
	}
	p.logger.Printf("submitted signature=%s", signature)

	// Confirm.
	confirmStart := time.Now()
	err = p.confirm(ctx, signature)
	p.observe(domain.StageConfirm, confirmStart)
	if err != nil {
		return nil, err
	}

	outcome := &domain.SwapOutcome{
		Signature:      signature,
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InputAmount:    domain.FormatTokenAmount(rawAmount, inDecimals),
		OutputAmount:   domain.FormatTokenAmount(quote.OutAmountRaw, outDecimals),
		PriceImpactPct: quote.PriceImpactPct,
		SlippageBps:    quote.SlippageBps,
	}
	if outcome.SlippageBps == 0 {
		outcome.SlippageBps = SlippageForImpact(quote.PriceImpactPct)
	}

	// ExtractFees: best effort, never fails the swap.
	if tx, err := p.rpc.GetTransaction(ctx, signature); err != nil {
		p.logger.Printf("fee extraction failed signature=%s: %v", signature, err)
	} else if tx != nil {
		outcome.FeeLamports = tx.FeeLamports
		outcome.FeeSOL = domain.LamportsToSOL(tx.FeeLamports)
	}

	return outcome, nil
}

// validate normalizes the intent without touching the network.
func (p *Pipeline) validate(intent domain.SwapIntent) (string, string, domain.PriorityTier, error) {
	if p.wallet == nil {
		return "", "", "", p.stageErr(domain.KindInput, domain.StageValidate, "no wallet configured", nil)
	}

	inputMint, err := normalizeMint(intent.InputMint)
	if err != nil {
		return "", "", "", p.stageErr(domain.KindInput, domain.StageValidate, "input mint", err)
	}
	outputMint, err := normalizeMint(intent.OutputMint)
	if err != nil {
		return "", "", "", p.stageErr(domain.KindInput, domain.StageValidate, "output mint", err)
	}
	if inputMint == outputMint {
		return "", "", "", p.stageErr(domain.KindInput, domain.StageValidate, "input and output mints are identical", nil)
	}

	amount, err := decimal.NewFromString(intent.Amount)
	if err != nil || !amount.IsPositive() {
		return "", "", "", p.stageErr(domain.KindInput, domain.StageValidate, fmt.Sprintf("amount %q must be a positive decimal", intent.Amount), nil)
	}

	if intent.SlippageBps != 0 &&
		(intent.SlippageBps < domain.MinSlippageBps || intent.SlippageBps > domain.MaxSlippageBps) {
		return "", "", "", p.stageErr(domain.KindInput, domain.StageValidate,
			fmt.Sprintf("slippage %d bps outside [%d, %d]", intent.SlippageBps, domain.MinSlippageBps, domain.MaxSlippageBps), nil)
	}

	tier := intent.Priority
	if tier == "" {
		tier = domain.PriorityVeryHigh
	}
	if !tier.Valid() {
		return "", "", "", p.stageErr(domain.KindInput, domain.StageValidate, fmt.Sprintf("unknown priority tier %q", intent.Priority), nil)
	}

	return inputMint, outputMint, tier, nil
}

// normalizeMint maps native sentinels to the wrapped SOL mint and
// validates everything else as an address.
func normalizeMint(mint string) (string, error) {
	if domain.NativeSentinels[strings.ToLower(mint)] {
		return domain.WrappedSOLMint, nil
	}
	if err := domain.ValidateAddress(mint); err != nil {
		return "", err
	}
	return mint, nil
}

func (p *Pipeline) resolveDecimals(ctx context.Context, mint string) (uint8, error) {
	d, err := p.decimals.Resolve(ctx, p.rpc, mint)
	if err != nil {
		kind := domain.KindTransientRPC
		if errors.Is(err, ErrMintNotFound) || errors.Is(err, ErrNotAMint) {
			kind = domain.KindInput
		}
		return 0, p.stageErr(kind, domain.StageResolveDecimals, "resolve decimals", err)
	}
	return d, nil
}

func (p *Pipeline) quote(ctx context.Context, inputMint, outputMint string, rawAmount uint64, slippageBps int) (*domain.Quote, uint64, error) {
	req := jupiter.QuoteRequest{
		InputMint:     inputMint,
		OutputMint:    outputMint,
		Amount:        rawAmount,
		SlippageBps:   slippageBps,
		UserPublicKey: p.wallet.PublicKey,
	}

	quote, err := p.agg.Quote(ctx, req)
	if err != nil {
		return nil, 0, p.stageErr(domain.KindUpstreamUnavailable, domain.StageQuote, "quote", err)
	}

	if slippageBps == 0 && quote.PriceImpactPct > p.cfg.ImpactThresholdPct && p.cfg.ReductionFactor > 0 && p.cfg.ReductionFactor < 1 {
		reduced := uint64(float64(rawAmount) * p.cfg.ReductionFactor)
		if reduced == 0 {
			return quote, rawAmount, nil
		}
		p.logger.Printf("price impact %.2f%% above %.2f%%, retrying with reduced amount %d",
			quote.PriceImpactPct, p.cfg.ImpactThresholdPct, reduced)

		req.Amount = reduced
		requote, err := p.agg.Quote(ctx, req)
		if err != nil {
			return nil, 0, p.stageErr(domain.KindUpstreamUnavailable, domain.StageQuote, "re-quote at reduced amount", err)
		}
		return requote, reduced, nil
	}

	return quote, rawAmount, nil
}

// confirm polls signature status until the configured commitment, an
// on-chain error, or the timeout.
func (p *Pipeline) confirm(ctx context.Context, signature string) error {
	deadline := time.Now().Add(p.cfg.ConfirmTimeout)

	for {
		statuses, err := p.rpc.GetSignatureStatuses(ctx, []string{signature})
		if err == nil && len(statuses) > 0 && statuses[0] != nil {
			status := statuses[0]
			if status.Err != nil {
				return p.stageErr(domain.KindOnChainRejection, domain.StageConfirm,
					fmt.Sprintf("transaction failed on chain: %v", status.Err), nil)
			}
			if status.Reached(p.cfg.Commitment) {
				return nil
			}
		} else if err != nil {
			p.logger.Printf("status poll failed signature=%s: %v", signature, err)
		}

		if time.Now().After(deadline) {
			stageErr := p.stageErr(domain.KindAmbiguousSubmission, domain.StageConfirm,
				fmt.Sprintf("not confirmed within %s", p.cfg.ConfirmTimeout), nil)
			stageErr.Signature = signature
			return stageErr
		}

		select {
		case <-ctx.Done():
			stageErr := p.stageErr(domain.KindAmbiguousSubmission, domain.StageConfirm, "confirmation interrupted", ctx.Err())
			stageErr.Signature = signature
			return stageErr
		case <-time.After(p.cfg.ConfirmPollInterval):
		}
	}
}

// SlippageForImpact picks a tolerance for a route by its price impact:
// tight spreads get tight tolerances.
func SlippageForImpact(impactPct float64) int {
	switch {
	case impactPct < 0.5:
		return 50
	case impactPct < 1.0:
		return domain.DefaultSlippageBps
	default:
		return 200
	}
}
