package models

import "time"

// PendingTransaction is a submitted transaction awaiting its receipt.
type PendingTransaction struct {
	ID          int64      `json:"id"`
	Hash        string     `json:"hash"`
	Kind        string     `json:"kind"`
	Account     string     `json:"account"`
	Status      string     `json:"status"`
	PollCount   int        `json:"poll_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at"`
	NextPollAt  *time.Time `json:"next_poll_at"`
	BlockNumber *uint64    `json:"block_number"`
}

// TxResult is the uniform outcome of a mutating chain call.
// Success is nil whenever Error is set.
type TxResult struct {
	Error   string `json:"error,omitempty"`
	Success *bool  `json:"success"`
	TxHash  string `json:"tx_hash,omitempty"`
}

// TxFailed builds a failed result.
func TxFailed(err error) TxResult {
	return TxResult{Error: err.Error()}
}

// TxSucceeded builds a successful result for hash.
func TxSucceeded(hash string) TxResult {
	ok := true
	return TxResult{Success: &ok, TxHash: hash}
}

// OK reports whether the call succeeded.
func (r TxResult) OK() bool {
	return r.Error == "" && r.Success != nil && *r.Success
}

// ReconcileResult reports whether requested nights already exist on chain.
type ReconcileResult struct {
	Available bool           `json:"available"`
	Reason    string         `json:"reason,omitempty"`
	Matched   bool           `json:"matched"`
	Missing   []BookingNight `json:"missing,omitempty"`
}
