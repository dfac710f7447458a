package interfaces

import (
	"context"
	"time"

	"github.com/mbruckner/depotsync/internal/models"
)

// TransactionSyncService loads and classifies broker transactions
type TransactionSyncService interface {
	// SyncTransactions performs a delta (or full) timeline sync and returns
	// the classified transactions, newest first
	SyncTransactions(ctx context.Context, full bool) ([]models.ClassifiedTransaction, error)

	// InvestedSeries returns cumulative invested capital for each date
	InvestedSeries(transactions []models.ClassifiedTransaction, dates []time.Time) []float64
}

// PriceService resolves symbols and fills the price cache
type PriceService interface {
	// PricesFor ensures EUR prices exist for the given securities and dates,
	// fetching only what the cache is missing
	PricesFor(ctx context.Context, securityIDs []string, dates []time.Time) (map[string]map[string]float64, error)

	// ResolveSymbol resolves a security to a vendor symbol
	ResolveSymbol(ctx context.Context, securityID string) (*models.SymbolResolution, error)
}

// ValuationService rebuilds the portfolio value history
type ValuationService interface {
	// BuildHistory reconstructs the full valuation series and persists it
	BuildHistory(ctx context.Context, full bool) (*models.HistoryResult, error)
}
