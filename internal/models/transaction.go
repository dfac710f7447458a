// Package models defines the data types shared across depotsync
package models

import "time"

// TxKind is the closed set of transaction classifications.
type TxKind string

const (
	KindBuy        TxKind = "buy"
	KindSell       TxKind = "sell"
	KindDeposit    TxKind = "deposit"
	KindWithdrawal TxKind = "withdrawal"
	KindIgnored    TxKind = "ignored"
)

// Transaction is a normalized broker timeline event.
type Transaction struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Title      string    `json:"title"`
	Subtitle   string    `json:"subtitle"`
	EventType  string    `json:"event_type"`
	Status     string    `json:"status"`
	Amount     float64   `json:"amount"` // signed, account currency
	SecurityID string    `json:"security_id,omitempty"`
	Shares     float64   `json:"shares,omitempty"`
	AvgPrice   float64   `json:"avg_price,omitempty"` // execution price when reported
}

// Date returns the calendar date of the transaction in YYYY-MM-DD form.
func (t *Transaction) Date() string {
	return t.Timestamp.Format("2006-01-02")
}

// ClassifiedTransaction is a Transaction with its resolved kind and the
// signed capital flow it contributes to the invested series.
type ClassifiedTransaction struct {
	Transaction
	Kind     TxKind  `json:"kind"`
	CashFlow float64 `json:"cash_flow"` // signed; 0 unless deposit or withdrawal
}

// IsCapitalFlow reports whether the transaction moves money in or out of
// the account, as opposed to shuffling it between cash and securities.
func (c *ClassifiedTransaction) IsCapitalFlow() bool {
	return c.Kind == KindDeposit || c.Kind == KindWithdrawal
}

// IsTrade reports whether the transaction changes a security position.
func (c *ClassifiedTransaction) IsTrade() bool {
	return c.Kind == KindBuy || c.Kind == KindSell
}

// SyncCursor tracks the delta-sync position in the broker timeline.
type SyncCursor struct {
	After      string    `json:"after,omitempty"` // last page token seen
	NewestID   string    `json:"newest_id,omitempty"`
	LastSynced time.Time `json:"last_synced"`
}

// TransactionCache is the on-disk transaction store: all known transactions
// newest first, plus the cursor for the next delta sync.
type TransactionCache struct {
	Transactions []Transaction `json:"transactions"`
	Cursor       SyncCursor    `json:"cursor"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
