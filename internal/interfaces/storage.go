package interfaces

import (
	"context"

	"github.com/mbruckner/depotsync/internal/models"
)

// TransactionStorage persists the transaction cache and sync cursor
type TransactionStorage interface {
	GetTransactionCache(ctx context.Context) (*models.TransactionCache, error)
	SaveTransactionCache(ctx context.Context, cache *models.TransactionCache) error
}

// PriceStorage persists per-security price caches and FX rates
type PriceStorage interface {
	GetSecurityPrices(ctx context.Context, securityID string) (*models.SecurityPrices, error)
	SaveSecurityPrices(ctx context.Context, prices *models.SecurityPrices) error
	ListSecurities(ctx context.Context) ([]string, error)
	GetFXRates(ctx context.Context, pair string) (*models.FXRates, error)
	SaveFXRates(ctx context.Context, rates *models.FXRates) error
}

// SymbolStorage persists symbol resolutions including permanent failures
type SymbolStorage interface {
	GetResolution(ctx context.Context, securityID string) (*models.SymbolResolution, error)
	SaveResolution(ctx context.Context, res *models.SymbolResolution) error
}

// SnapshotStorage persists position snapshots and reconciliation stats
type SnapshotStorage interface {
	GetSnapshot(ctx context.Context) (*models.PositionSnapshot, error)
	SaveSnapshot(ctx context.Context, snapshot *models.PositionSnapshot) error
	SaveReconciliation(ctx context.Context, stats *models.ReconciliationStats) error
}

// ValuationStorage persists rebuilt history results
type ValuationStorage interface {
	GetHistory(ctx context.Context) (*models.HistoryResult, error)
	SaveHistory(ctx context.Context, result *models.HistoryResult) error
}

// KeyValueStorage provides simple persistent key-value storage
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// StorageManager provides access to all storage domains
type StorageManager interface {
	TransactionStorage() TransactionStorage
	PriceStorage() PriceStorage
	SymbolStorage() SymbolStorage
	SnapshotStorage() SnapshotStorage
	ValuationStorage() ValuationStorage
	KeyValueStorage() KeyValueStorage

	// WriteRaw writes arbitrary binary data (chart PNGs) into a subdirectory
	WriteRaw(subdir, key string, data []byte) error
	DataPath() string
	Close() error
}
