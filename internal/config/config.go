package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends for the permanent image store.
const (
	StorageGCS   = "gcs"
	StorageLocal = "local"
)

// Config holds the configuration for the application.
type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/meal-board.db"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`

	// Week math
	BoardTimezone string `env:"BOARD_TIMEZONE" envDefault:"UTC"`

	// Image storage
	StorageBackend     string   `env:"IMAGE_STORAGE_BACKEND" envDefault:"local"`
	GCSBucket          string   `env:"GCS_BUCKET"`
	GCSCredentialsFile string   `env:"GCS_CREDENTIALS_FILE"`
	LocalImagePath     string   `env:"LOCAL_IMAGE_PATH" envDefault:"data/images"`
	PublicBaseURL      string   `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	FirstPartyPrefixes []string `env:"FIRST_PARTY_PREFIXES" envSeparator:","`

	// Image gate
	ImageFetchTimeout time.Duration `env:"IMAGE_FETCH_TIMEOUT" envDefault:"15s"`
	ImageWorkers      int           `env:"IMAGE_WORKERS" envDefault:"4"`
	ImageCacheSize    int           `env:"IMAGE_CACHE_SIZE" envDefault:"1024"`
	ImageCacheTTL     time.Duration `env:"IMAGE_CACHE_TTL" envDefault:"24h"`
	RedisURL          string        `env:"REDIS_URL"`

	// Identity
	AuthSecret        string `env:"AUTH_SECRET"`
	AuthIssuer        string `env:"AUTH_ISSUER" envDefault:"meal-board"`
	ReviewBypassToken string `env:"REVIEW_BYPASS_TOKEN"`
	ReviewBypassUser  string `env:"REVIEW_BYPASS_USER_ID"`
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET environment variable not set")
	}

	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	switch cfg.StorageBackend {
	case StorageGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCS_BUCKET environment variable not set")
		}
	case StorageLocal:
	default:
		return nil, fmt.Errorf("unsupported IMAGE_STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	// The bypass only works with both halves configured.
	if (cfg.ReviewBypassToken == "") != (cfg.ReviewBypassUser == "") {
		return nil, fmt.Errorf("REVIEW_BYPASS_TOKEN and REVIEW_BYPASS_USER_ID must be set together")
	}

	if _, err := time.LoadLocation(cfg.BoardTimezone); err != nil {
		return nil, fmt.Errorf("invalid BOARD_TIMEZONE %q: %w", cfg.BoardTimezone, err)
	}

	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return cfg, nil
}

// Location returns the configured board timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BoardTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
