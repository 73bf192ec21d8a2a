package solana

import "context"

// RPCClient defines the chain RPC surface the service depends on.
// Implementations retry read-only calls; SendTransaction is issued
// exactly once because a timed-out submission may still land.
type RPCClient interface {
	// GetBalance returns the lamport balance of an address.
	GetBalance(ctx context.Context, address string) (uint64, error)

	// GetMultipleBalances returns lamport balances for up to 100
	// addresses in one call. Missing accounts map to 0.
	GetMultipleBalances(ctx context.Context, addresses []string) (map[string]uint64, error)

	// GetTokenAccountsByOwner lists token accounts owned by owner under
	// the given token program.
	GetTokenAccountsByOwner(ctx context.Context, owner, programID string) ([]TokenAccount, error)

	// GetAccountInfo retrieves jsonParsed account info by public key.
	// Returns nil when the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// SendTransaction submits a signed base64 transaction and returns
	// its signature. Never retried internally.
	SendTransaction(ctx context.Context, txBase64 string) (string, error)

	// GetSignatureStatuses returns confirmation status per signature.
	// Entries are nil for signatures the node does not know.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetTransaction retrieves fee and error metadata for a landed
	// transaction. Returns nil when not found.
	GetTransaction(ctx context.Context, signature string) (*TransactionInfo, error)
}
