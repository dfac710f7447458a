// Package app wires configuration, storage, clients and services into a
// runnable sync application.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbruckner/depotsync/internal/clients/brokerage"
	"github.com/mbruckner/depotsync/internal/clients/marketdata"
	"github.com/mbruckner/depotsync/internal/common"
	"github.com/mbruckner/depotsync/internal/interfaces"
	"github.com/mbruckner/depotsync/internal/services/prices"
	"github.com/mbruckner/depotsync/internal/services/txsync"
	"github.com/mbruckner/depotsync/internal/services/valuation"
	"github.com/mbruckner/depotsync/internal/storage"
)

// App holds all initialized services and clients.
type App struct {
	Config           *common.Config
	Logger           *common.Logger
	Storage          interfaces.StorageManager
	BrokerageClient  interfaces.BrokerageClient
	MarketDataClient interfaces.MarketDataClient
	TxSyncService    interfaces.TransactionSyncService
	PriceService     interfaces.PriceService
	ValuationService interfaces.ValuationService
	StartupTime      time.Time

	schedulerCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes config, storage, clients and services.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	// Best-effort .env for API keys and session tokens
	godotenv.Load()

	binDir := getBinaryDir()

	// Config resolution: provided path, DEPOTSYNC_CONFIG, binary dir, dev fallback
	if configPath == "" {
		configPath = os.Getenv("DEPOTSYNC_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "depotsync.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/depotsync.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative storage path to binary directory
	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}

	logger := common.NewLogger(config.Logging.Level)

	storageManager, err := storage.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	session, err := brokerage.LoadSession(config.Clients.Brokerage.SessionFile)
	if err != nil {
		logger.Warn().Err(err).Msg("Broker session not configured - sync will fail until provided")
	}

	brokerClient := brokerage.NewClient(session,
		brokerage.WithBaseURL(config.Clients.Brokerage.BaseURL),
		brokerage.WithLogger(logger),
		brokerage.WithRateLimit(config.Clients.Brokerage.RateLimit),
		brokerage.WithTimeout(config.Clients.Brokerage.GetTimeout()),
	)

	lookupKey, err := common.ResolveAPIKey("marketdata_api_key", config.Clients.MarketData.APIKey)
	if err != nil {
		logger.Warn().Msg("Market data API key not configured - symbol lookups may be rate limited")
	}

	marketClient := marketdata.NewClient(lookupKey,
		marketdata.WithBaseURL(config.Clients.MarketData.BaseURL),
		marketdata.WithLookupURL(config.Clients.MarketData.LookupURL),
		marketdata.WithLogger(logger),
		marketdata.WithRateLimit(config.Clients.MarketData.RateLimit),
		marketdata.WithTimeout(config.Clients.MarketData.GetTimeout()),
	)

	pacer := common.NewPacer(config.Retry, logger)

	txSyncService := txsync.NewService(storageManager, brokerClient, pacer, logger, config.Sync.MaxPages, common.FreshnessTransactions)
	priceService := prices.NewService(storageManager, marketClient, pacer, logger, config.Sync.PriceWorkers)
	valuationService := valuation.NewService(storageManager, brokerClient, txSyncService, priceService, pacer, logger, config.Sync.RenderCharts)

	a := &App{
		Config:           config,
		Logger:           logger,
		Storage:          storageManager,
		BrokerageClient:  brokerClient,
		MarketDataClient: marketClient,
		TxSyncService:    txSyncService,
		PriceService:     priceService,
		ValuationService: valuationService,
		StartupTime:      startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}

// RunOnce performs one full pipeline run: sync, rebuild, persist.
func (a *App) RunOnce(ctx context.Context, full bool) error {
	result, err := a.ValuationService.BuildHistory(ctx, full)
	if err != nil {
		var partial *common.PartialDataError
		if result != nil && errors.As(err, &partial) {
			a.Logger.Warn().
				Int("covered", partial.Covered).
				Int("requested", partial.Requested).
				Msg("History rebuilt with gaps")
			return nil
		}
		return err
	}
	return nil
}

// Close releases all resources held by the App.
func (a *App) Close() {
	if a.schedulerCancel != nil {
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}

// StartScheduler launches the background re-sync goroutine.
func (a *App) StartScheduler() {
	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	a.schedulerCancel = schedulerCancel
	go startSyncScheduler(schedulerCtx, a, a.Config.Sync.GetInterval())
}
