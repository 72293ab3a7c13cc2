package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Storage struct {
		// Backend selects the StorageBackend implementation
		Backend string `env:"STORAGE_BACKEND" envDefault:"sqlite"`

		SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/catalog.db"`
		DatabaseURL string `env:"DATABASE_URL"`
	}

	Source struct {
		// Root directory holding <provider>/*.json feeds
		FeedDir string `env:"FEED_DIR" envDefault:"feeds"`

		FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`

		// Extra attempts when a remote feed answers with the wrong format
		FetchRetries int `env:"FETCH_RETRIES" envDefault:"2"`

		// Per-provider default source, e.g. "acme=@https://example.com/feed.csv"
		Providers map[string]string `env:"PROVIDER_SOURCES" envSeparator:"," envKeyValSeparator:"="`
	}

	Ingest struct {
		// Number of buildings reconciled concurrently
		Workers int `env:"INGEST_WORKERS" envDefault:"1"`

		// Maximum number of retries for transient persistence errors
		MaxRetries int `env:"RECONCILE_MAX_RETRIES" envDefault:"2"`

		// Delay between retries
		RetryDelay time.Duration `env:"RECONCILE_RETRY_DELAY" envDefault:"500ms"`

		// Process-level timeout; zero means none
		RunTimeout time.Duration `env:"RUN_TIMEOUT" envDefault:"0s"`

		LookupTablesPath string `env:"LOOKUP_TABLES_PATH"`
	}

	Maintenance struct {
		HistoryRetentionDays int           `env:"HISTORY_RETENTION_DAYS" envDefault:"180"`
		PriceDropWindow      time.Duration `env:"PRICE_DROP_WINDOW" envDefault:"168h"`
		NewListingWindow     time.Duration `env:"NEW_LISTING_WINDOW" envDefault:"24h"`
	}

	Server struct {
		Addr              string        `env:"HTTP_ADDR" envDefault:":5250"`
		ScheduleInterval  time.Duration `env:"SCHEDULE_INTERVAL" envDefault:"1h"`
		ScheduleProviders []string      `env:"SCHEDULE_PROVIDERS" envSeparator:","`
	}

	Telegram struct {
		Enabled  bool   `env:"TELEGRAM_ENABLED" envDefault:"false"`
		BotToken string `env:"TELEGRAM_BOT_TOKEN"`
		ChatID   string `env:"TELEGRAM_CHAT_ID"`
	}
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that env parsing cannot.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Ingest.Workers < 1 {
		c.Ingest.Workers = 1
	}
	if c.Ingest.MaxRetries < 0 {
		c.Ingest.MaxRetries = 0
	}
	if c.Maintenance.HistoryRetentionDays <= 0 {
		return errors.New("HISTORY_RETENTION_DAYS must be positive")
	}
	return nil
}
