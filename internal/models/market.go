package models

import "time"

// PricePoint is a single dated closing quote in the vendor's currency.
type PricePoint struct {
	Date     time.Time `json:"date"`
	Close    float64   `json:"close"`
	Currency string    `json:"currency,omitempty"`
}

// SecurityPrices is the per-security price cache: normalized EUR closes
// keyed by YYYY-MM-DD date.
type SecurityPrices struct {
	SecurityID string             `json:"security_id"`
	Symbol     string             `json:"symbol,omitempty"`
	Currency   string             `json:"currency,omitempty"` // vendor quote currency
	Prices     map[string]float64 `json:"prices"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// SymbolResolution records a security-to-symbol mapping. Failed is a
// permanent negative entry: the lookup is never retried.
type SymbolResolution struct {
	SecurityID string    `json:"security_id"`
	Symbol     string    `json:"symbol,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	Failed     bool      `json:"failed,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// FXRates holds cached daily conversion rates for one currency pair,
// keyed by YYYY-MM-DD date.
type FXRates struct {
	Pair      string             `json:"pair"` // e.g. "EURUSD", "GBPEUR"
	Rates     map[string]float64 `json:"rates"`
	UpdatedAt time.Time          `json:"updated_at"`
}
