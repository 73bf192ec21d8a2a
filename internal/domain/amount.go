package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ParseTokenAmount converts a human-readable decimal string into base
// units for a mint with the given decimals. Rejects non-positive
// amounts and amounts with more fractional digits than the mint allows.
func ParseTokenAmount(human string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(human)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", human, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("amount %q: must be positive", human)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %q: exceeds %d decimal places", human, decimals)
	}
	if scaled.Cmp(decimal.NewFromUint64(math.MaxUint64)) > 0 {
		return 0, fmt.Errorf("amount %q: out of range", human)
	}
	return scaled.BigInt().Uint64(), nil
}

// FormatTokenAmount converts base units back to human units.
func FormatTokenAmount(raw uint64, decimals uint8) float64 {
	f, _ := decimal.NewFromUint64(raw).Shift(-int32(decimals)).Float64()
	return f
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) float64 {
	return FormatTokenAmount(lamports, SOLDecimals)
}

// SOLToLamports converts a human SOL amount to lamports.
func SOLToLamports(sol string) (uint64, error) {
	return ParseTokenAmount(sol, SOLDecimals)
}
