// Package config defines the top-level configuration for the skinarb scanner
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SKINARB_* environment variables.
type Config struct {
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Breaker     BreakerConfig     `toml:"breaker"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Scan        ScanConfig        `toml:"scan"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// MarketplaceConfig holds marketplace API endpoints, credentials, and the
// client-side budget for talking to them.
type MarketplaceConfig struct {
	BaseURL             string   `toml:"base_url"`
	PublicKey           string   `toml:"public_key"`
	SecretKey           string   `toml:"secret_key"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RateBurst           int      `toml:"rate_burst"`
	RatePeriod          duration `toml:"rate_period"`
	Timeout             duration `toml:"timeout"`
	MaxAttempts         int      `toml:"max_attempts"`
	BackoffBase         duration `toml:"backoff_base"`
	BackoffCap          duration `toml:"backoff_cap"`
	ListingsTTL         duration `toml:"listings_ttl"`
	AggregatesTTL       duration `toml:"aggregates_ttl"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	FailureWindow    duration `toml:"failure_window"`
	ResetTimeout     duration `toml:"reset_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for checkpoint and
// scan-run persistence.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for report archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// TierConfig describes one price tier to scan. Prices are minor units (cents).
type TierConfig struct {
	GameID           string  `toml:"game_id"`
	PriceFromCents   int64   `toml:"price_from_cents"`
	PriceToCents     int64   `toml:"price_to_cents"`
	CommissionRate   float64 `toml:"commission_rate"`
	MinProfitCents   int64   `toml:"min_profit_cents"`
	MinProfitPercent float64 `toml:"min_profit_percent"`
	MaxPages         int     `toml:"max_pages"`
}

// ScanConfig holds scan orchestration parameters.
type ScanConfig struct {
	Tiers               []TierConfig `toml:"tiers"`
	ChunkSize           int          `toml:"chunk_size"`
	MaxConcurrency      int          `toml:"max_concurrency"`
	TierConcurrency     int          `toml:"tier_concurrency"`
	CheckpointEvery     int          `toml:"checkpoint_every"`
	CheckpointInterval  duration     `toml:"checkpoint_interval"`
	CheckpointRetention duration     `toml:"checkpoint_retention"`
	LockTTL             duration     `toml:"lock_ttl"`
	Interval            duration     `toml:"interval"`
	TopN                int          `toml:"top_n"`
	MemoryCacheEntries  int          `toml:"memory_cache_entries"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	Events         []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Marketplace: MarketplaceConfig{
			BaseURL:       "https://api.dmarket.com",
			RateBurst:     10,
			RatePeriod:    duration{time.Second},
			Timeout:       duration{10 * time.Second},
			MaxAttempts:   3,
			BackoffBase:   duration{time.Second},
			BackoffCap:    duration{10 * time.Second},
			ListingsTTL:   duration{2 * time.Minute},
			AggregatesTTL: duration{10 * time.Minute},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureWindow:    duration{time.Minute},
			ResetTimeout:     duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "skinarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "skinarb-reports",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Scan: ScanConfig{
			Tiers: []TierConfig{
				{
					GameID:           "a8db",
					PriceFromCents:   100,
					PriceToCents:     5_000,
					CommissionRate:   0.07,
					MinProfitCents:   50,
					MinProfitPercent: 5.0,
				},
			},
			ChunkSize:           10,
			MaxConcurrency:      4,
			TierConcurrency:     2,
			CheckpointEvery:     50,
			CheckpointInterval:  duration{30 * time.Second},
			CheckpointRetention: duration{7 * 24 * time.Hour},
			LockTTL:             duration{10 * time.Minute},
			Interval:            duration{15 * time.Minute},
			TopN:                10,
			MemoryCacheEntries:  1024,
		},
		Notify: NotifyConfig{
			Events: []string{"opportunities", "scan_failed"},
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":       true,
	"continuous": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, continuous)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Marketplace
	if c.Marketplace.BaseURL == "" {
		errs = append(errs, "marketplace: base_url must not be empty")
	}
	if c.Marketplace.PublicKey == "" {
		errs = append(errs, "marketplace: public_key must not be empty")
	}
	if c.Marketplace.SecretKey == "" && c.Marketplace.EncryptedSecretPath == "" {
		errs = append(errs, "marketplace: either secret_key or encrypted_secret_path must be set")
	}
	if c.Marketplace.EncryptedSecretPath != "" && c.Marketplace.SecretPassword == "" {
		errs = append(errs, "marketplace: secret_password is required when encrypted_secret_path is set")
	}
	if c.Marketplace.RateBurst < 1 {
		errs = append(errs, "marketplace: rate_burst must be >= 1")
	}
	if c.Marketplace.RatePeriod.Duration <= 0 {
		errs = append(errs, "marketplace: rate_period must be > 0")
	}
	if c.Marketplace.MaxAttempts < 1 {
		errs = append(errs, "marketplace: max_attempts must be >= 1")
	}
	if c.Marketplace.BackoffBase.Duration <= 0 {
		errs = append(errs, "marketplace: backoff_base must be > 0")
	}
	if c.Marketplace.BackoffCap.Duration < c.Marketplace.BackoffBase.Duration {
		errs = append(errs, "marketplace: backoff_cap must not be smaller than backoff_base")
	}

	// Breaker
	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, "breaker: failure_threshold must be >= 1")
	}
	if c.Breaker.FailureWindow.Duration <= 0 {
		errs = append(errs, "breaker: failure_window must be > 0")
	}
	if c.Breaker.ResetTimeout.Duration <= 0 {
		errs = append(errs, "breaker: reset_timeout must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Scan
	if len(c.Scan.Tiers) == 0 {
		errs = append(errs, "scan: at least one tier must be configured")
	}
	for i, t := range c.Scan.Tiers {
		if t.GameID == "" {
			errs = append(errs, fmt.Sprintf("scan.tiers[%d]: game_id must not be empty", i))
		}
		if t.PriceFromCents < 0 {
			errs = append(errs, fmt.Sprintf("scan.tiers[%d]: price_from_cents must be >= 0", i))
		}
		if t.PriceToCents <= t.PriceFromCents {
			errs = append(errs, fmt.Sprintf("scan.tiers[%d]: price_to_cents must exceed price_from_cents", i))
		}
		if t.CommissionRate < 0 || t.CommissionRate >= 1 {
			errs = append(errs, fmt.Sprintf("scan.tiers[%d]: commission_rate must be in [0, 1), got %g", i, t.CommissionRate))
		}
		if t.MinProfitCents < 0 {
			errs = append(errs, fmt.Sprintf("scan.tiers[%d]: min_profit_cents must be >= 0", i))
		}
		if t.MaxPages < 0 {
			errs = append(errs, fmt.Sprintf("scan.tiers[%d]: max_pages must be >= 0 (0 = unbounded)", i))
		}
	}
	if c.Scan.ChunkSize < 1 {
		errs = append(errs, "scan: chunk_size must be >= 1")
	}
	if c.Scan.MaxConcurrency < 1 {
		errs = append(errs, "scan: max_concurrency must be >= 1")
	}
	if c.Scan.TierConcurrency < 1 {
		errs = append(errs, "scan: tier_concurrency must be >= 1")
	}
	if c.Mode == "continuous" && c.Scan.Interval.Duration <= 0 {
		errs = append(errs, "scan: interval must be > 0 in continuous mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
