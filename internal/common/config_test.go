package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	if config.Sync.GetInterval() != 1*time.Hour {
		t.Errorf("sync interval = %v, want 1h", config.Sync.GetInterval())
	}
	if config.Sync.MaxPages != 100 {
		t.Errorf("max pages = %d, want 100", config.Sync.MaxPages)
	}
	if config.Sync.PriceWorkers != 4 {
		t.Errorf("price workers = %d, want 4", config.Sync.PriceWorkers)
	}
	if config.Clients.Brokerage.GetTimeout() != 30*time.Second {
		t.Errorf("brokerage timeout = %v, want 30s", config.Clients.Brokerage.GetTimeout())
	}
	if config.Retry.MaxRetries != 2 || config.Retry.GetBackoff() != 2*time.Second {
		t.Errorf("retry = %+v", config.Retry)
	}
	if config.IsProduction() {
		t.Error("default config should not be production")
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "depotsync.toml")
	content := `
environment = "production"

[sync]
interval = "30m"
price_workers = 8

[storage]
path = "/var/lib/depotsync"

[clients.brokerage]
timeout = "10s"

[retry]
max_retries = 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if !config.IsProduction() {
		t.Error("environment override not applied")
	}
	if config.Sync.GetInterval() != 30*time.Minute {
		t.Errorf("interval = %v, want 30m", config.Sync.GetInterval())
	}
	if config.Sync.PriceWorkers != 8 {
		t.Errorf("price workers = %d, want 8", config.Sync.PriceWorkers)
	}
	if config.Storage.Path != "/var/lib/depotsync" {
		t.Errorf("storage path = %q", config.Storage.Path)
	}
	if config.Clients.Brokerage.GetTimeout() != 10*time.Second {
		t.Errorf("brokerage timeout = %v, want 10s", config.Clients.Brokerage.GetTimeout())
	}
	// Untouched sections keep their defaults.
	if config.Sync.MaxPages != 100 {
		t.Errorf("max pages = %d, want default 100", config.Sync.MaxPages)
	}
	if config.Retry.MaxRetries != 5 {
		t.Errorf("max retries = %d, want 5", config.Retry.MaxRetries)
	}
}

func TestLoadConfig_MissingFileIgnored(t *testing.T) {
	config, err := LoadConfig("/nonexistent/depotsync.toml")
	if err != nil {
		t.Fatalf("LoadConfig failed on missing file: %v", err)
	}
	if config.Sync.MaxPages != 100 {
		t.Error("defaults not applied when file is missing")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DEPOTSYNC_ENV", "production")
	t.Setenv("DEPOTSYNC_LOG_LEVEL", "debug")
	t.Setenv("DEPOTSYNC_DATA_PATH", "/tmp/depot")
	t.Setenv("DEPOTSYNC_SYNC_INTERVAL", "15m")
	t.Setenv("DEPOTSYNC_PRICE_WORKERS", "2")
	t.Setenv("DEPOTSYNC_BROKERAGE_URL", "http://localhost:8080")

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !config.IsProduction() || config.Logging.Level != "debug" {
		t.Errorf("env = %q level = %q", config.Environment, config.Logging.Level)
	}
	if config.Storage.Path != "/tmp/depot" {
		t.Errorf("data path = %q", config.Storage.Path)
	}
	if config.Sync.GetInterval() != 15*time.Minute || config.Sync.PriceWorkers != 2 {
		t.Errorf("sync = %+v", config.Sync)
	}
	if config.Clients.Brokerage.BaseURL != "http://localhost:8080" {
		t.Errorf("brokerage url = %q", config.Clients.Brokerage.BaseURL)
	}
}

func TestGetDurations_BadValuesFallBack(t *testing.T) {
	sync := SyncConfig{Interval: "not-a-duration"}
	if sync.GetInterval() != 1*time.Hour {
		t.Errorf("interval fallback = %v", sync.GetInterval())
	}

	retry := RetryConfig{Backoff: "", PacePause: "bogus", EscalatedPause: "x"}
	if retry.GetBackoff() != 2*time.Second {
		t.Errorf("backoff fallback = %v", retry.GetBackoff())
	}
	if retry.GetPacePause() != 1*time.Second {
		t.Errorf("pace pause fallback = %v", retry.GetPacePause())
	}
	if retry.GetEscalatedPause() != 30*time.Second {
		t.Errorf("escalated pause fallback = %v", retry.GetEscalatedPause())
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("MARKETDATA_API_KEY", "env-key")
	key, err := ResolveAPIKey("marketdata_api_key", "config-key")
	if err != nil || key != "env-key" {
		t.Errorf("key = %q, %v, want env-key", key, err)
	}

	t.Setenv("MARKETDATA_API_KEY", "")
	key, err = ResolveAPIKey("marketdata_api_key", "config-key")
	if err != nil || key != "config-key" {
		t.Errorf("key = %q, %v, want config fallback", key, err)
	}

	if _, err := ResolveAPIKey("marketdata_api_key", ""); err == nil {
		t.Error("expected error with no key anywhere")
	}
}
