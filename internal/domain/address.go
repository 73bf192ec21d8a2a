package domain

import (
	"fmt"
	"regexp"

	"github.com/mr-tron/base58"
)

// addressPattern pre-filters obviously malformed input before the
// base58 decode. Solana addresses are 32..44 base58 characters.
var addressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ValidateAddress checks that s is a well-formed Solana address:
// base58 text decoding to exactly 32 bytes.
func ValidateAddress(s string) error {
	if !addressPattern.MatchString(s) {
		return fmt.Errorf("address %q: not base58 of expected length", s)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("address %q: %w", s, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("address %q: decoded to %d bytes, want 32", s, len(raw))
	}
	return nil
}

// IsValidAddress reports whether s is a well-formed Solana address.
func IsValidAddress(s string) bool {
	return ValidateAddress(s) == nil
}
