package storage

import (
	"github.com/mbruckner/depotsync/internal/common"
	"github.com/mbruckner/depotsync/internal/interfaces"
)

// Manager implements interfaces.StorageManager on top of a single FileStore.
type Manager struct {
	fs     *FileStore
	logger *common.Logger

	transactions *transactionStorage
	prices       *priceStorage
	symbols      *symbolStorage
	snapshots    *snapshotStorage
	valuations   *valuationStorage
	kv           *kvStorage
}

// NewManager creates a StorageManager rooted at the configured cache path.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	fs, err := NewFileStore(logger, &config.Storage)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("path", config.Storage.Path).Msg("Storage manager initialized")

	return &Manager{
		fs:           fs,
		logger:       logger,
		transactions: newTransactionStorage(fs, logger),
		prices:       newPriceStorage(fs, logger),
		symbols:      newSymbolStorage(fs, logger),
		snapshots:    newSnapshotStorage(fs, logger),
		valuations:   newValuationStorage(fs, logger),
		kv:           newKVStorage(fs, logger),
	}, nil
}

func (m *Manager) TransactionStorage() interfaces.TransactionStorage {
	return m.transactions
}

func (m *Manager) PriceStorage() interfaces.PriceStorage {
	return m.prices
}

func (m *Manager) SymbolStorage() interfaces.SymbolStorage {
	return m.symbols
}

func (m *Manager) SnapshotStorage() interfaces.SnapshotStorage {
	return m.snapshots
}

func (m *Manager) ValuationStorage() interfaces.ValuationStorage {
	return m.valuations
}

func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

func (m *Manager) WriteRaw(subdir, key string, data []byte) error {
	return m.fs.WriteRaw(subdir, key, data)
}

func (m *Manager) DataPath() string {
	return m.fs.basePath
}

func (m *Manager) Close() error {
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
