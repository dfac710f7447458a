// Package interfaces defines service contracts for depotsync
package interfaces

import (
	"context"
	"time"

	"github.com/mbruckner/depotsync/internal/models"
)

// BrokerageClient provides access to the broker API
type BrokerageClient interface {
	// GetTimelinePage retrieves one page of timeline events, newest first.
	// An empty after token requests the first page.
	GetTimelinePage(ctx context.Context, after string) (*TimelinePage, error)

	// GetPositions retrieves the current position snapshot
	GetPositions(ctx context.Context) ([]models.Position, error)

	// GetAggregateHistory retrieves the broker's own portfolio value series
	GetAggregateHistory(ctx context.Context, timeframe string) (*models.AggregateHistory, error)
}

// TimelinePage is one page of the broker timeline.
type TimelinePage struct {
	Transactions []models.Transaction
	After        string // cursor for the next page; empty when exhausted
}

// MarketDataClient provides access to historical quotes and FX rates
type MarketDataClient interface {
	// GetEOD retrieves daily closing prices for a symbol
	GetEOD(ctx context.Context, symbol string, opts ...EODOption) ([]models.PricePoint, error)

	// LookupSymbol resolves a security identifier (ISIN) to a vendor symbol
	LookupSymbol(ctx context.Context, securityID string) (*models.SymbolResolution, error)

	// GetFXRates retrieves daily conversion rates for a currency pair
	GetFXRates(ctx context.Context, pair string, from, to time.Time) (map[string]float64, error)
}

// EODOption configures EOD data requests
type EODOption func(*EODParams)

// EODParams holds EOD query parameters
type EODParams struct {
	From time.Time
	To   time.Time
}

// WithDateRange sets the date range for EOD query
func WithDateRange(from, to time.Time) EODOption {
	return func(p *EODParams) {
		p.From = from
		p.To = to
	}
}
