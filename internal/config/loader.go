package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SKINARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SKINARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Marketplace ──
	setStr(&cfg.Marketplace.BaseURL, "SKINARB_MARKETPLACE_BASE_URL")
	setStr(&cfg.Marketplace.PublicKey, "SKINARB_MARKETPLACE_PUBLIC_KEY")
	setStr(&cfg.Marketplace.SecretKey, "SKINARB_MARKETPLACE_SECRET_KEY")
	setStr(&cfg.Marketplace.EncryptedSecretPath, "SKINARB_MARKETPLACE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Marketplace.SecretPassword, "SKINARB_MARKETPLACE_SECRET_PASSWORD")
	setInt(&cfg.Marketplace.RateBurst, "SKINARB_MARKETPLACE_RATE_BURST")
	setDuration(&cfg.Marketplace.RatePeriod, "SKINARB_MARKETPLACE_RATE_PERIOD")
	setDuration(&cfg.Marketplace.Timeout, "SKINARB_MARKETPLACE_TIMEOUT")
	setInt(&cfg.Marketplace.MaxAttempts, "SKINARB_MARKETPLACE_MAX_ATTEMPTS")
	setDuration(&cfg.Marketplace.BackoffBase, "SKINARB_MARKETPLACE_BACKOFF_BASE")
	setDuration(&cfg.Marketplace.BackoffCap, "SKINARB_MARKETPLACE_BACKOFF_CAP")
	setDuration(&cfg.Marketplace.ListingsTTL, "SKINARB_MARKETPLACE_LISTINGS_TTL")
	setDuration(&cfg.Marketplace.AggregatesTTL, "SKINARB_MARKETPLACE_AGGREGATES_TTL")

	// ── Breaker ──
	setInt(&cfg.Breaker.FailureThreshold, "SKINARB_BREAKER_FAILURE_THRESHOLD")
	setDuration(&cfg.Breaker.FailureWindow, "SKINARB_BREAKER_FAILURE_WINDOW")
	setDuration(&cfg.Breaker.ResetTimeout, "SKINARB_BREAKER_RESET_TIMEOUT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SKINARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SKINARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SKINARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SKINARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SKINARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SKINARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SKINARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SKINARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SKINARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SKINARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SKINARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SKINARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SKINARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SKINARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SKINARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SKINARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SKINARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SKINARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SKINARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SKINARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SKINARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "SKINARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SKINARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SKINARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SKINARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SKINARB_S3_FORCE_PATH_STYLE")

	// ── Scan ──
	setInt(&cfg.Scan.ChunkSize, "SKINARB_SCAN_CHUNK_SIZE")
	setInt(&cfg.Scan.MaxConcurrency, "SKINARB_SCAN_MAX_CONCURRENCY")
	setInt(&cfg.Scan.TierConcurrency, "SKINARB_SCAN_TIER_CONCURRENCY")
	setInt(&cfg.Scan.CheckpointEvery, "SKINARB_SCAN_CHECKPOINT_EVERY")
	setDuration(&cfg.Scan.CheckpointInterval, "SKINARB_SCAN_CHECKPOINT_INTERVAL")
	setDuration(&cfg.Scan.CheckpointRetention, "SKINARB_SCAN_CHECKPOINT_RETENTION")
	setDuration(&cfg.Scan.LockTTL, "SKINARB_SCAN_LOCK_TTL")
	setDuration(&cfg.Scan.Interval, "SKINARB_SCAN_INTERVAL")
	setInt(&cfg.Scan.TopN, "SKINARB_SCAN_TOP_N")
	setInt(&cfg.Scan.MemoryCacheEntries, "SKINARB_SCAN_MEMORY_CACHE_ENTRIES")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SKINARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SKINARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "SKINARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SKINARB_MODE")
	setStr(&cfg.LogLevel, "SKINARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
