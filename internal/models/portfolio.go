package models

import "time"

// Holding is the replayed state of one security at a point in time.
type Holding struct {
	SecurityID      string  `json:"security_id"`
	Name            string  `json:"name,omitempty"`
	Shares          float64 `json:"shares"`
	CostBasis       float64 `json:"cost_basis"` // cumulative buys minus sells, clamped at 0
	Anomalous       bool    `json:"anomalous,omitempty"`
	EstimatedShares bool    `json:"estimated_shares,omitempty"` // some trades carried no quantity
}

// Position is a broker-reported snapshot entry used for reconciliation.
type Position struct {
	SecurityID string  `json:"security_id"`
	Name       string  `json:"name,omitempty"`
	Shares     float64 `json:"shares"`
	AvgPrice   float64 `json:"avg_price,omitempty"`
}

// PositionSnapshot is the broker's current view of the portfolio.
type PositionSnapshot struct {
	SyncID    string     `json:"sync_id"`
	Positions []Position `json:"positions"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// ReconciliationStats compares the replayed holdings against the broker
// snapshot after a sync.
type ReconciliationStats struct {
	SnapshotSecurities int     `json:"snapshot_securities"`
	MatchedSecurities  int     `json:"matched_securities"`
	MissingSecurities  int     `json:"missing_securities"`
	SnapshotShares     float64 `json:"snapshot_shares"`
	MissingShares      float64 `json:"missing_shares"`
	MissingShareRatio  float64 `json:"missing_share_ratio"`
	MissingSecRatio    float64 `json:"missing_sec_ratio"`

	TradeCount          int     `json:"trade_count"`
	TradesWithoutShares int     `json:"trades_without_shares"`
	EstimatedShareRatio float64 `json:"estimated_share_ratio"`
}

// SeriesPoint is one dated point of the reconstructed history.
type SeriesPoint struct {
	Date     time.Time `json:"date"`
	Value    float64   `json:"value"`
	Invested float64   `json:"invested"`
}

// HistoryResult is the persisted output of a history rebuild. Dates are
// YYYY-MM-DD strings so the file stays readable by non-Go consumers.
type HistoryResult struct {
	Dates     []string  `json:"dates"`
	Values    []float64 `json:"values"`
	Invested  []float64 `json:"invested"`
	TWR       []float64 `json:"twr"`
	Drawdown  []float64 `json:"drawdown"`
	Source    string    `json:"source"` // "aggregate" or "reconstructed"
	Partial   bool      `json:"partial,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AggregateHistory is the broker's own portfolio value series.
type AggregateHistory struct {
	Points    []SeriesPoint `json:"points"`
	FetchedAt time.Time     `json:"fetched_at"`
}
