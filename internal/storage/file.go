// Package storage provides file-based JSON persistence for all caches.
// Every file is written atomically so external consumers can read the
// cache directory at any time.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mbruckner/depotsync/internal/common"
	"github.com/mbruckner/depotsync/internal/models"
)

// FileStore provides file-based JSON storage with optional versioning.
type FileStore struct {
	basePath string
	versions int
	logger   *common.Logger
}

// subdirectories defines the directory layout under basePath.
var subdirectories = []string{
	"transactions", "prices", "fx", "symbols",
	"snapshots", "valuations", "charts", "kv",
}

// NewFileStore creates a new FileStore and ensures all subdirectories exist.
func NewFileStore(logger *common.Logger, config *common.StorageConfig) (*FileStore, error) {
	versions := config.Versions
	if versions < 0 {
		versions = 0
	}

	fs := &FileStore{
		basePath: config.Path,
		versions: versions,
		logger:   logger,
	}

	for _, sub := range subdirectories {
		dir := filepath.Join(fs.basePath, sub)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logger.Debug().Str("path", config.Path).Int("versions", versions).Msg("FileStore opened")
	return fs, nil
}

// sanitizeKey makes a key safe for use as a filename.
// Replaces /, \, : with _ and collapses ".." to "_" to prevent path traversal.
func (fs *FileStore) sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

// filePath returns the full path for a key in a directory.
func (fs *FileStore) filePath(dir, key string) string {
	return filepath.Join(dir, fs.sanitizeKey(key)+".json")
}

// readJSON reads and unmarshals a JSON file.
func (fs *FileStore) readJSON(dir, key string, dest interface{}) error {
	path := fs.filePath(dir, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("'%s' not found", key)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("'%s' is empty", key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// writeJSON marshals data to indented JSON and writes it atomically.
// If versioned is true and fs.versions > 0, rotates previous versions
// before overwriting.
func (fs *FileStore) writeJSON(dir, key string, data interface{}, versioned bool) error {
	target := fs.filePath(dir, key)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	jsonData = append(jsonData, '\n')

	if versioned && fs.versions > 0 {
		fs.rotateVersions(target)
	}

	// Atomic write: write to temp file in the same directory, then rename
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(jsonData); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// rotateVersions shifts existing versions up and moves current to v1.
// v{N} -> deleted, v{N-1} -> v{N}, ..., v1 -> v2, current -> v1
func (fs *FileStore) rotateVersions(target string) {
	oldest := fmt.Sprintf("%s.v%d", target, fs.versions)
	os.Remove(oldest)

	for i := fs.versions; i > 1; i-- {
		src := fmt.Sprintf("%s.v%d", target, i-1)
		dst := fmt.Sprintf("%s.v%d", target, i)
		os.Rename(src, dst) // Ignore errors (file may not exist yet)
	}

	if _, err := os.Stat(target); err == nil {
		v1 := fmt.Sprintf("%s.v1", target)
		os.Rename(target, v1)
	}
}

// deleteJSON removes a file and all its version backups.
func (fs *FileStore) deleteJSON(dir, key string) error {
	target := fs.filePath(dir, key)

	os.Remove(target)
	for i := 1; i <= fs.versions; i++ {
		os.Remove(fmt.Sprintf("%s.v%d", target, i))
	}

	return nil
}

// listKeys returns all keys in a directory (excluding version and temp files).
func (fs *FileStore) listKeys(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".tmp-") {
			keys = append(keys, strings.TrimSuffix(name, ".json"))
		}
	}
	return keys, nil
}

// WriteRaw writes arbitrary binary data atomically using temp file + rename.
func (fs *FileStore) WriteRaw(subdir, key string, data []byte) error {
	dir := filepath.Join(fs.basePath, subdir)
	target := filepath.Join(dir, fs.sanitizeKey(key))

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// --- Transaction Storage ---

type transactionStorage struct {
	fs     *FileStore
	dir    string
	logger *common.Logger
}

func newTransactionStorage(fs *FileStore, logger *common.Logger) *transactionStorage {
	return &transactionStorage{fs: fs, dir: filepath.Join(fs.basePath, "transactions"), logger: logger}
}

func (s *transactionStorage) GetTransactionCache(ctx context.Context) (*models.TransactionCache, error) {
	var cache models.TransactionCache
	if err := s.fs.readJSON(s.dir, "transactions_cache", &cache); err != nil {
		return nil, fmt.Errorf("transaction cache not found")
	}
	return &cache, nil
}

func (s *transactionStorage) SaveTransactionCache(ctx context.Context, cache *models.TransactionCache) error {
	cache.UpdatedAt = time.Now()
	if err := s.fs.writeJSON(s.dir, "transactions_cache", cache, false); err != nil {
		return fmt.Errorf("failed to save transaction cache: %w", err)
	}
	s.logger.Debug().Int("transactions", len(cache.Transactions)).Msg("Transaction cache saved")
	return nil
}

// --- Price Storage ---

type priceStorage struct {
	fs     *FileStore
	dir    string
	fxDir  string
	logger *common.Logger
}

func newPriceStorage(fs *FileStore, logger *common.Logger) *priceStorage {
	return &priceStorage{
		fs:     fs,
		dir:    filepath.Join(fs.basePath, "prices"),
		fxDir:  filepath.Join(fs.basePath, "fx"),
		logger: logger,
	}
}

func (s *priceStorage) GetSecurityPrices(ctx context.Context, securityID string) (*models.SecurityPrices, error) {
	var prices models.SecurityPrices
	if err := s.fs.readJSON(s.dir, securityID, &prices); err != nil {
		return nil, fmt.Errorf("prices for '%s' not found", securityID)
	}
	return &prices, nil
}

func (s *priceStorage) SaveSecurityPrices(ctx context.Context, prices *models.SecurityPrices) error {
	prices.UpdatedAt = time.Now()
	if err := s.fs.writeJSON(s.dir, prices.SecurityID, prices, false); err != nil {
		return fmt.Errorf("failed to save prices: %w", err)
	}
	s.logger.Debug().Str("security", prices.SecurityID).Int("points", len(prices.Prices)).Msg("Prices saved")
	return nil
}

func (s *priceStorage) ListSecurities(ctx context.Context) ([]string, error) {
	keys, err := s.fs.listKeys(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list securities: %w", err)
	}
	return keys, nil
}

func (s *priceStorage) GetFXRates(ctx context.Context, pair string) (*models.FXRates, error) {
	var rates models.FXRates
	if err := s.fs.readJSON(s.fxDir, pair, &rates); err != nil {
		return nil, fmt.Errorf("FX rates for '%s' not found", pair)
	}
	return &rates, nil
}

func (s *priceStorage) SaveFXRates(ctx context.Context, rates *models.FXRates) error {
	rates.UpdatedAt = time.Now()
	if err := s.fs.writeJSON(s.fxDir, rates.Pair, rates, false); err != nil {
		return fmt.Errorf("failed to save FX rates: %w", err)
	}
	s.logger.Debug().Str("pair", rates.Pair).Int("points", len(rates.Rates)).Msg("FX rates saved")
	return nil
}

// --- Symbol Storage ---

type symbolStorage struct {
	fs     *FileStore
	dir    string
	logger *common.Logger
}

func newSymbolStorage(fs *FileStore, logger *common.Logger) *symbolStorage {
	return &symbolStorage{fs: fs, dir: filepath.Join(fs.basePath, "symbols"), logger: logger}
}

func (s *symbolStorage) GetResolution(ctx context.Context, securityID string) (*models.SymbolResolution, error) {
	var res models.SymbolResolution
	if err := s.fs.readJSON(s.dir, securityID, &res); err != nil {
		return nil, fmt.Errorf("resolution for '%s' not found", securityID)
	}
	return &res, nil
}

func (s *symbolStorage) SaveResolution(ctx context.Context, res *models.SymbolResolution) error {
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = time.Now()
	}
	if err := s.fs.writeJSON(s.dir, res.SecurityID, res, false); err != nil {
		return fmt.Errorf("failed to save resolution: %w", err)
	}
	s.logger.Debug().Str("security", res.SecurityID).Str("symbol", res.Symbol).Bool("failed", res.Failed).Msg("Resolution saved")
	return nil
}

// --- Snapshot Storage ---

type snapshotStorage struct {
	fs     *FileStore
	dir    string
	logger *common.Logger
}

func newSnapshotStorage(fs *FileStore, logger *common.Logger) *snapshotStorage {
	return &snapshotStorage{fs: fs, dir: filepath.Join(fs.basePath, "snapshots"), logger: logger}
}

func (s *snapshotStorage) GetSnapshot(ctx context.Context) (*models.PositionSnapshot, error) {
	var snapshot models.PositionSnapshot
	if err := s.fs.readJSON(s.dir, "positions", &snapshot); err != nil {
		return nil, fmt.Errorf("position snapshot not found")
	}
	return &snapshot, nil
}

func (s *snapshotStorage) SaveSnapshot(ctx context.Context, snapshot *models.PositionSnapshot) error {
	if snapshot.FetchedAt.IsZero() {
		snapshot.FetchedAt = time.Now()
	}
	if err := s.fs.writeJSON(s.dir, "positions", snapshot, false); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	s.logger.Debug().Int("positions", len(snapshot.Positions)).Msg("Snapshot saved")
	return nil
}

func (s *snapshotStorage) SaveReconciliation(ctx context.Context, stats *models.ReconciliationStats) error {
	if err := s.fs.writeJSON(s.dir, "reconciliation", stats, false); err != nil {
		return fmt.Errorf("failed to save reconciliation stats: %w", err)
	}
	return nil
}

// --- Valuation Storage ---

type valuationStorage struct {
	fs     *FileStore
	dir    string
	logger *common.Logger
}

func newValuationStorage(fs *FileStore, logger *common.Logger) *valuationStorage {
	return &valuationStorage{fs: fs, dir: filepath.Join(fs.basePath, "valuations"), logger: logger}
}

func (s *valuationStorage) GetHistory(ctx context.Context) (*models.HistoryResult, error) {
	var result models.HistoryResult
	if err := s.fs.readJSON(s.dir, "portfolio_history", &result); err != nil {
		return nil, fmt.Errorf("portfolio history not found")
	}
	return &result, nil
}

func (s *valuationStorage) SaveHistory(ctx context.Context, result *models.HistoryResult) error {
	result.UpdatedAt = time.Now()
	if err := s.fs.writeJSON(s.dir, "portfolio_history", result, true); err != nil {
		return fmt.Errorf("failed to save portfolio history: %w", err)
	}
	s.logger.Debug().Int("points", len(result.Dates)).Str("source", result.Source).Msg("Portfolio history saved")
	return nil
}

// --- Key-Value Storage ---

type kvStorage struct {
	fs     *FileStore
	dir    string
	logger *common.Logger
}

// kvEntry represents a key-value entry stored as JSON.
type kvEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func newKVStorage(fs *FileStore, logger *common.Logger) *kvStorage {
	return &kvStorage{fs: fs, dir: filepath.Join(fs.basePath, "kv"), logger: logger}
}

func (s *kvStorage) Get(ctx context.Context, key string) (string, error) {
	var entry kvEntry
	if err := s.fs.readJSON(s.dir, key, &entry); err != nil {
		return "", fmt.Errorf("key '%s' not found", key)
	}
	return entry.Value, nil
}

func (s *kvStorage) Set(ctx context.Context, key, value string) error {
	entry := kvEntry{Key: key, Value: value}
	if err := s.fs.writeJSON(s.dir, key, &entry, false); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (s *kvStorage) Delete(ctx context.Context, key string) error {
	s.fs.deleteJSON(s.dir, key)
	return nil
}
