package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	e := NewStageError(KindOnChainRejection, StageConfirm, "transaction failed", errors.New("InstructionError"))
	assert.Contains(t, e.Error(), "onchain_rejection")
	assert.Contains(t, e.Error(), "confirm")
	assert.Contains(t, e.Error(), "InstructionError")
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	e := NewError(KindTransientRPC, "balance fetch", inner)
	assert.True(t, errors.Is(e, inner))
}

func TestKindOf(t *testing.T) {
	e := NewStageError(KindInput, StageValidate, "identical mints", nil)
	wrapped := fmt.Errorf("swap: %w", e)
	assert.Equal(t, KindInput, KindOf(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestPriorityTier(t *testing.T) {
	assert.True(t, PriorityVeryHigh.Valid())
	assert.False(t, PriorityTier("extreme").Valid())
	assert.Equal(t, uint64(4_000_000), PriorityMaxLamports[PriorityVeryHigh])
}
