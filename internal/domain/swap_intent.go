package domain

// PriorityTier selects the priority-fee budget attached to a swap
// transaction.
type PriorityTier string

const (
	PriorityLow      PriorityTier = "low"
	PriorityMedium   PriorityTier = "medium"
	PriorityHigh     PriorityTier = "high"
	PriorityVeryHigh PriorityTier = "veryHigh"
)

// PriorityMaxLamports is the fee ceiling attached per tier.
var PriorityMaxLamports = map[PriorityTier]uint64{
	PriorityLow:      50,
	PriorityMedium:   200,
	PriorityHigh:     1000,
	PriorityVeryHigh: 4_000_000,
}

// Valid reports whether t is a known tier.
func (t PriorityTier) Valid() bool {
	_, ok := PriorityMaxLamports[t]
	return ok
}

// SwapIntent is a caller's request to exchange tokens. InputMint and
// OutputMint accept the native sentinels ("", "SOL", "native") which
// resolve to the wrapped SOL mint during validation.
type SwapIntent struct {
	InputMint  string
	OutputMint string
	Amount     string // human units of the input token, decimal string

	// SlippageBps, when > 0, fixes the slippage tolerance. When 0 the
	// aggregator's dynamic slippage is used and the impact heuristic may
	// reduce the amount.
	SlippageBps int

	Priority PriorityTier // empty means PriorityVeryHigh
}

// Quote is a priced route returned by the aggregator.
type Quote struct {
	InputMint            string
	OutputMint           string
	InAmountRaw          uint64
	OutAmountRaw         uint64
	OtherAmountThreshold uint64
	PriceImpactPct       float64
	SlippageBps          int

	// Raw is the aggregator's quote body, forwarded verbatim when
	// requesting the swap transaction.
	Raw []byte
}

// SwapOutcome reports a landed swap.
type SwapOutcome struct {
	Signature      string  `json:"signature"`
	InputMint      string  `json:"input_mint"`
	OutputMint     string  `json:"output_mint"`
	InputAmount    float64 `json:"input_amount"`  // human units actually quoted (may be reduced by the impact heuristic)
	OutputAmount   float64 `json:"output_amount"` // human units, from the quote's raw out amount
	PriceImpactPct float64 `json:"price_impact_pct"`
	SlippageBps    int     `json:"slippage_bps"`
	FeeLamports    uint64  `json:"fee_lamports"` // 0 when fee extraction failed
	FeeSOL         float64 `json:"fee_sol"`
}
