// Package stub provides an in-memory solana.RPCClient for tests in
// other packages.
package stub

import (
	"context"
	"sync"
	"sync/atomic"

	"solana-wallet-service/internal/solana"
)

// RPCClient implements solana.RPCClient against in-memory fixtures.
// Every method is safe for concurrent use and counts its calls so
// tests can assert on I/O.
type RPCClient struct {
	mu sync.Mutex

	Balances      map[string]uint64
	TokenAccounts map[string][]solana.TokenAccount // key: owner|programID
	Accounts      map[string]*solana.AccountInfo
	Statuses      map[string]*solana.SignatureStatus
	Transactions  map[string]*solana.TransactionInfo

	// SendSignature is returned by SendTransaction; SendErr, when set,
	// is returned instead.
	SendSignature string
	SendErr       error

	// Errs, keyed by RPC method name, force failures.
	Errs map[string]error

	Calls struct {
		GetBalance              atomic.Int32
		GetMultipleBalances     atomic.Int32
		GetTokenAccountsByOwner atomic.Int32
		GetAccountInfo          atomic.Int32
		SendTransaction         atomic.Int32
		GetSignatureStatuses    atomic.Int32
		GetTransaction          atomic.Int32
	}
}

var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates an empty stub client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Balances:      make(map[string]uint64),
		TokenAccounts: make(map[string][]solana.TokenAccount),
		Accounts:      make(map[string]*solana.AccountInfo),
		Statuses:      make(map[string]*solana.SignatureStatus),
		Transactions:  make(map[string]*solana.TransactionInfo),
		Errs:          make(map[string]error),
	}
}

func (c *RPCClient) err(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Errs[method]
}

// GetBalance returns the fixture balance, 0 when absent.
func (c *RPCClient) GetBalance(_ context.Context, address string) (uint64, error) {
	c.Calls.GetBalance.Add(1)
	if err := c.err("getBalance"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Balances[address], nil
}

// GetMultipleBalances returns fixture balances for each address.
func (c *RPCClient) GetMultipleBalances(_ context.Context, addresses []string) (map[string]uint64, error) {
	c.Calls.GetMultipleBalances.Add(1)
	if err := c.err("getMultipleAccounts"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(addresses))
	for _, addr := range addresses {
		out[addr] = c.Balances[addr]
	}
	return out, nil
}

// GetTokenAccountsByOwner returns fixture token accounts for the
// owner/program pair.
func (c *RPCClient) GetTokenAccountsByOwner(_ context.Context, owner, programID string) ([]solana.TokenAccount, error) {
	c.Calls.GetTokenAccountsByOwner.Add(1)
	if err := c.err("getTokenAccountsByOwner"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	accounts := c.TokenAccounts[owner+"|"+programID]
	out := make([]solana.TokenAccount, len(accounts))
	copy(out, accounts)
	return out, nil
}

// GetAccountInfo returns the fixture account, nil when absent.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.Calls.GetAccountInfo.Add(1)
	if err := c.err("getAccountInfo"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Accounts[pubkey], nil
}

// SendTransaction returns SendSignature or SendErr.
func (c *RPCClient) SendTransaction(_ context.Context, _ string) (string, error) {
	c.Calls.SendTransaction.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	return c.SendSignature, nil
}

// GetSignatureStatuses returns fixture statuses; unknown signatures
// yield nil entries.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.Calls.GetSignatureStatuses.Add(1)
	if err := c.err("getSignatureStatuses"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		out[i] = c.Statuses[sig]
	}
	return out, nil
}

// GetTransaction returns the fixture transaction, nil when absent.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.TransactionInfo, error) {
	c.Calls.GetTransaction.Add(1)
	if err := c.err("getTransaction"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Transactions[signature], nil
}

// SetBalance sets the fixture balance for an address.
func (c *RPCClient) SetBalance(address string, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Balances[address] = lamports
}

// SetTokenAccounts sets fixture token accounts for an owner/program pair.
func (c *RPCClient) SetTokenAccounts(owner, programID string, accounts []solana.TokenAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TokenAccounts[owner+"|"+programID] = accounts
}

// SetAccount sets fixture account info for a pubkey.
func (c *RPCClient) SetAccount(pubkey string, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = info
}

// SetStatus sets the fixture status for a signature.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[signature] = status
}

// SetErr forces an error for an RPC method name.
func (c *RPCClient) SetErr(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Errs[method] = err
}
