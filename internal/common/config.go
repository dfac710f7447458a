// Package common provides shared utilities for depotsync
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for depotsync
type Config struct {
	Environment string        `toml:"environment"`
	Sync        SyncConfig    `toml:"sync"`
	Storage     StorageConfig `toml:"storage"`
	Clients     ClientsConfig `toml:"clients"`
	Retry       RetryConfig   `toml:"retry"`
	Logging     LoggingConfig `toml:"logging"`
}

// SyncConfig controls the sync pipeline
type SyncConfig struct {
	Interval     string `toml:"interval"`       // how often the scheduler re-syncs
	FullOnStart  bool   `toml:"full_on_start"`  // ignore cursors on the first run
	MaxPages     int    `toml:"max_pages"`      // timeline page cap per sync
	PriceWorkers int    `toml:"price_workers"`  // parallel securities during price fetch
	RenderCharts bool   `toml:"render_charts"`  // write PNG charts next to the caches
}

// GetInterval parses and returns the sync interval duration
func (c *SyncConfig) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 1 * time.Hour
	}
	return d
}

// StorageConfig holds the cache directory configuration
type StorageConfig struct {
	Path     string `toml:"path"`
	Versions int    `toml:"versions"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Brokerage  BrokerageConfig  `toml:"brokerage"`
	MarketData MarketDataConfig `toml:"marketdata"`
}

// BrokerageConfig holds the broker API configuration
type BrokerageConfig struct {
	BaseURL     string `toml:"base_url"`
	SessionFile string `toml:"session_file"`
	RateLimit   int    `toml:"rate_limit"`
	Timeout     string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *BrokerageConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// MarketDataConfig holds the market data vendor configuration
type MarketDataConfig struct {
	BaseURL   string `toml:"base_url"`
	LookupURL string `toml:"lookup_url"` // identifier mapping endpoint
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *MarketDataConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// RetryConfig makes the retry and pacing behaviour explicit configuration
// rather than scattering constants through the clients.
type RetryConfig struct {
	MaxRetries       int    `toml:"max_retries"`       // retries after the first attempt
	Backoff          string `toml:"backoff"`           // pause between retries
	PaceEvery        int    `toml:"pace_every"`        // pause after every N requests
	PacePause        string `toml:"pace_pause"`        // duration of the pacing pause
	FailureThreshold int    `toml:"failure_threshold"` // consecutive failures before escalating
	EscalatedPause   string `toml:"escalated_pause"`   // pause after the threshold trips
}

// GetBackoff parses and returns the backoff duration
func (c *RetryConfig) GetBackoff() time.Duration {
	d, err := time.ParseDuration(c.Backoff)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetPacePause parses and returns the pacing pause duration
func (c *RetryConfig) GetPacePause() time.Duration {
	d, err := time.ParseDuration(c.PacePause)
	if err != nil {
		return 1 * time.Second
	}
	return d
}

// GetEscalatedPause parses and returns the escalated pause duration
func (c *RetryConfig) GetEscalatedPause() time.Duration {
	d, err := time.ParseDuration(c.EscalatedPause)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Sync: SyncConfig{
			Interval:     "1h",
			FullOnStart:  false,
			MaxPages:     100,
			PriceWorkers: 4,
			RenderCharts: true,
		},
		Storage: StorageConfig{
			Path:     "data",
			Versions: 3,
		},
		Clients: ClientsConfig{
			Brokerage: BrokerageConfig{
				BaseURL:   "https://api.traderepublic.com",
				RateLimit: 5,
				Timeout:   "30s",
			},
			MarketData: MarketDataConfig{
				BaseURL:   "https://query1.finance.yahoo.com",
				LookupURL: "https://api.openfigi.com",
				RateLimit: 5,
				Timeout:   "30s",
			},
		},
		Retry: RetryConfig{
			MaxRetries:       2,
			Backoff:          "2s",
			PaceEvery:        10,
			PacePause:        "1s",
			FailureThreshold: 5,
			EscalatedPause:   "30s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DEPOTSYNC_ENV"); env != "" {
		config.Environment = env
	}

	if level := os.Getenv("DEPOTSYNC_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("DEPOTSYNC_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	if v := os.Getenv("DEPOTSYNC_SYNC_INTERVAL"); v != "" {
		config.Sync.Interval = v
	}

	if v := os.Getenv("DEPOTSYNC_PRICE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Sync.PriceWorkers = n
		}
	}

	if v := os.Getenv("DEPOTSYNC_BROKERAGE_URL"); v != "" {
		config.Clients.Brokerage.BaseURL = v
	}

	if v := os.Getenv("DEPOTSYNC_MARKETDATA_URL"); v != "" {
		config.Clients.MarketData.BaseURL = v
	}

	if v := os.Getenv("DEPOTSYNC_MARKETDATA_API_KEY"); v != "" {
		config.Clients.MarketData.APIKey = v
	}
}

// ResolveAPIKey resolves an API key from environment variables with a config fallback
func ResolveAPIKey(name string, fallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"marketdata_api_key": {"MARKETDATA_API_KEY", "DEPOTSYNC_MARKETDATA_API_KEY", "OPENFIGI_API_KEY"},
	}

	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
