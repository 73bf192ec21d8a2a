package domain

import "time"

// TokenBalance is one SPL token position owned by a wallet.
type TokenBalance struct {
	Mint      string  `json:"mint"`       // token mint address
	RawAmount string  `json:"raw_amount"` // integer amount in base units, as reported by the chain
	Decimals  uint8   `json:"decimals"`   // mint decimals
	UIAmount  float64 `json:"ui_amount"`  // RawAmount scaled by 10^Decimals
	ProgramID string  `json:"program_id"` // owning token program (legacy or Token-2022)
}

// BalanceSnapshot is the complete holdings of one address at a point in
// time. Snapshots are immutable once produced; refreshes replace them
// wholesale.
type BalanceSnapshot struct {
	Address   string         `json:"address"`
	Lamports  uint64         `json:"lamports"`
	SOL       float64        `json:"sol"`
	Tokens    []TokenBalance `json:"tokens"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// CacheEntry wraps a snapshot with cache bookkeeping.
type CacheEntry struct {
	Snapshot  *BalanceSnapshot
	UpdatedAt time.Time
}

// Age returns how stale the entry is relative to now.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.UpdatedAt)
}

// Portfolio is a snapshot annotated with oracle prices and the USD
// value of the native position.
type Portfolio struct {
	Snapshot *BalanceSnapshot  `json:"snapshot"`
	Prices   map[string]string `json:"prices"`    // symbol -> USD price, formatted
	SOLValue float64           `json:"sol_value"` // USD value of the native balance, 0 when unpriced
}
