// Package config loads scraper configuration from YAML with environment
// overrides. The configuration is immutable once loaded; callers pass it
// explicitly into the pipeline instead of mutating process-wide state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv   = "EYP_SCRAPER_CONFIG"
	databasePathEnv = "EYP_DATABASE_PATH"
	redisAddrEnv    = "EYP_REDIS_ADDR"
	logLevelEnv     = "EYP_LOG_LEVEL"
)

// Config holds all settings for one scraper process.
type Config struct {
	Scraping Scraping `yaml:"scraping"`
	Database Database `yaml:"database"`
	Cache    Cache    `yaml:"cache"`
	Logging  Logging  `yaml:"logging"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Scraping configures the acquisition pipeline.
type Scraping struct {
	// BaseURL is the listing search endpoint.
	BaseURL string `yaml:"baseUrl"`

	// DetailURLTemplate builds a detail page URL; %s is the opid.
	DetailURLTemplate string `yaml:"detailUrlTemplate"`

	// MaxWorkers caps concurrently in-flight detail fetches.
	MaxWorkers int `yaml:"maxWorkers"`

	// PageSize is the listing page size (the `size` query parameter).
	PageSize int `yaml:"pageSize"`

	// MaxPages is a defensive cap on listing pages per run.
	MaxPages int `yaml:"maxPages"`

	// RequestTimeout bounds each individual HTTP request.
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	// RateLimit admits RateLimit.Count requests per RateLimit.Period.
	RateLimit RateLimit `yaml:"rateLimit"`

	// MaxRetries is the attempt ceiling per fetch call.
	MaxRetries int `yaml:"maxRetries"`

	// RetryDelay is the base backoff unit between attempts.
	RetryDelay time.Duration `yaml:"retryDelay"`

	// MaxBackoff caps any single backoff wait.
	MaxBackoff time.Duration `yaml:"maxBackoff"`

	// UserAgents are rotated across runs to look like ordinary browsers.
	UserAgents []string `yaml:"userAgents"`

	// ListingParams are static filter parameters sent with every listing page.
	ListingParams map[string]string `yaml:"listingParams"`
}

// RateLimit expresses a token-bucket rate: Count tokens per Period.
type RateLimit struct {
	Count  int           `yaml:"count"`
	Period time.Duration `yaml:"period"`
}

// Database configures the SQLite store.
type Database struct {
	Path       string `yaml:"path"`
	BackupPath string `yaml:"backupPath"`
	AutoBackup bool   `yaml:"autoBackup"`
}

// Cache configures the optional Redis detail-document cache.
type Cache struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	TTL     time.Duration `yaml:"ttl"`
}

// Logging configures zerolog output.
type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Metrics configures the optional Prometheus listener.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration matching the production portal.
func Default() Config {
	return Config{
		Scraping: Scraping{
			BaseURL:           "https://youth.europa.eu/api/rest/eyp/v1/search_en",
			DetailURLTemplate: "https://youth.europa.eu/solidarity/opportunity/%s_en",
			MaxWorkers:        15,
			PageSize:          100,
			MaxPages:          500,
			RequestTimeout:    20 * time.Second,
			RateLimit:         RateLimit{Count: 3, Period: time.Second},
			MaxRetries:        4,
			RetryDelay:        2 * time.Second,
			MaxBackoff:        60 * time.Second,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
			ListingParams: map[string]string{
				"type":            "Opportunity",
				"filters[status]": "open",
				"fields[0]":       "opid",
				"fields[1]":       "title",
				"sort[created]":   "desc",
			},
		},
		Database: Database{
			Path:       "opportunities.db",
			BackupPath: "structured_opportunities.json",
			AutoBackup: true,
		},
		Cache: Cache{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     6 * time.Hour,
		},
		Logging: Logging{Level: "info"},
		Metrics: Metrics{},
	}
}

// Load reads YAML configuration from EYP_SCRAPER_CONFIG (or the explicit
// path) on top of defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Cache.Addr = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) validate() error {
	s := c.Scraping
	if s.BaseURL == "" {
		return fmt.Errorf("scraping.baseUrl is required")
	}
	if s.DetailURLTemplate == "" {
		return fmt.Errorf("scraping.detailUrlTemplate is required")
	}
	if s.MaxWorkers <= 0 {
		return fmt.Errorf("scraping.maxWorkers must be positive (got %d)", s.MaxWorkers)
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("scraping.pageSize must be positive (got %d)", s.PageSize)
	}
	if s.MaxRetries <= 0 {
		return fmt.Errorf("scraping.maxRetries must be positive (got %d)", s.MaxRetries)
	}
	if s.RateLimit.Count <= 0 || s.RateLimit.Period <= 0 {
		return fmt.Errorf("scraping.rateLimit requires positive count and period")
	}
	return nil
}
