package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Scraping.MaxWorkers != 15 {
		t.Errorf("MaxWorkers = %d, want 15", cfg.Scraping.MaxWorkers)
	}
	if cfg.Scraping.PageSize != 100 {
		t.Errorf("PageSize = %d, want 100", cfg.Scraping.PageSize)
	}
	if cfg.Scraping.RateLimit.Count != 3 || cfg.Scraping.RateLimit.Period != time.Second {
		t.Errorf("RateLimit = %+v, want 3/s", cfg.Scraping.RateLimit)
	}
	if !cfg.Database.AutoBackup {
		t.Error("AutoBackup should default to true")
	}
	if cfg.Cache.Enabled {
		t.Error("Cache should default to disabled")
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scraper.yaml")
	body := `
scraping:
  maxWorkers: 4
  requestTimeout: 5s
database:
  path: /tmp/test.db
  autoBackup: false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scraping.MaxWorkers != 4 {
		t.Errorf("MaxWorkers = %d, want 4", cfg.Scraping.MaxWorkers)
	}
	if cfg.Scraping.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.Scraping.RequestTimeout)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Database.AutoBackup {
		t.Error("AutoBackup should be overridden to false")
	}
	// Untouched keys keep defaults.
	if cfg.Scraping.PageSize != 100 {
		t.Errorf("PageSize = %d, want default 100", cfg.Scraping.PageSize)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EYP_DATABASE_PATH", "/data/opps.db")
	t.Setenv("EYP_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/data/opps.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("scraping:\n  maxWorkers: -2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected validation error for negative maxWorkers")
	}
}
