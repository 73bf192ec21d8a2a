package solana

// TokenAccount is one parsed SPL token account.
type TokenAccount struct {
	Pubkey    string
	Mint      string
	Amount    string // integer base units
	Decimals  uint8
	UIAmount  float64
	ProgramID string
}

// AccountInfo is jsonParsed account data. Parsed fields are populated
// when the owning program supports parsing (token mints and accounts).
type AccountInfo struct {
	Lamports uint64
	Owner    string

	// Mint fields, set when the account is a token mint.
	Decimals *uint8
	Supply   string
}

// SignatureStatus is one entry from getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64
	ConfirmationStatus string // "processed" | "confirmed" | "finalized"
	Err                interface{}
}

// Reached reports whether the status satisfies the requested commitment.
func (s *SignatureStatus) Reached(commitment string) bool {
	switch commitment {
	case "processed":
		return s.ConfirmationStatus != ""
	case "confirmed":
		return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
	case "finalized":
		return s.ConfirmationStatus == "finalized"
	}
	return false
}

// TransactionInfo is the metadata extracted from getTransaction.
type TransactionInfo struct {
	Signature   string
	Slot        uint64
	FeeLamports uint64
	Err         interface{}
}
