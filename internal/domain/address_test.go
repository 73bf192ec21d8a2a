package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	valid := []string{
		WrappedSOLMint,
		USDCMint,
		TokenProgramID,
		Token2022ProgramID,
		"11111111111111111111111111111111", // system program
	}
	for _, addr := range valid {
		assert.NoError(t, ValidateAddress(addr), addr)
	}

	invalid := []string{
		"",
		"short",
		"0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl",     // non-base58 alphabet
		"So1111111111111111111111111111111111111111200000", // too long
		"So111111111111111111111111111111",     // decodes to fewer than 32 bytes
	}
	for _, addr := range invalid {
		assert.Error(t, ValidateAddress(addr), addr)
	}
}

func TestIsValidAddress(t *testing.T) {
	assert.True(t, IsValidAddress(USDTMint))
	assert.False(t, IsValidAddress("not-an-address"))
}
