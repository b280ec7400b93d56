package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/dkotenko/skinarb/internal/blob/s3"
	"github.com/dkotenko/skinarb/internal/breaker"
	"github.com/dkotenko/skinarb/internal/cache"
	"github.com/dkotenko/skinarb/internal/cache/memory"
	"github.com/dkotenko/skinarb/internal/cache/redis"
	"github.com/dkotenko/skinarb/internal/config"
	"github.com/dkotenko/skinarb/internal/crypto"
	"github.com/dkotenko/skinarb/internal/domain"
	"github.com/dkotenko/skinarb/internal/marketapi"
	"github.com/dkotenko/skinarb/internal/notify"
	"github.com/dkotenko/skinarb/internal/ratelimit"
	"github.com/dkotenko/skinarb/internal/scanner"
	"github.com/dkotenko/skinarb/internal/store/postgres"
)

// Dependencies bundles everything the scan loop needs. Optional backends
// (Postgres, Redis, S3) leave their fields nil when disabled; the scanner
// degrades gracefully without them.
type Dependencies struct {
	// Stores
	CheckpointStore domain.CheckpointStore
	ScanRunStore    domain.ScanRunStore

	// Locking
	LockManager domain.LockManager

	// Reporting
	Archiver *s3blob.ReportArchiver

	// Notifications
	Notifier *notify.Notifier

	// Scanning
	Scanner *scanner.Scanner
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (checkpoints and run history) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.CheckpointStore = postgres.NewCheckpointStore(pool)
		deps.ScanRunStore = postgres.NewScanRunStore(pool)
	}

	// --- Redis (L2 response cache and scan locks) ---
	var pageCache domain.PageCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		pageCache = redis.NewPageCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- S3 (report archive) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Archiver = s3blob.NewReportArchiver(s3blob.NewWriter(s3Client))
	}

	// --- Marketplace client ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           cfg.Marketplace.SecretKey,
		EncryptedSecretPath: cfg.Marketplace.EncryptedSecretPath,
		SecretPassword:      cfg.Marketplace.SecretPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: marketplace secret: %w", err)
	}
	auth := &crypto.HMACAuth{
		PublicKey: cfg.Marketplace.PublicKey,
		SecretKey: secret,
	}

	limiter := ratelimit.New(cfg.Marketplace.RateBurst, cfg.Marketplace.RatePeriod.Duration)
	br := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.Breaker.FailureWindow.Duration,
		ResetTimeout:     cfg.Breaker.ResetTimeout.Duration,
	})

	tiered := cache.NewTiered(memory.New(cfg.Scan.MemoryCacheEntries), pageCache, logger)

	apiClient := marketapi.New(marketapi.Config{
		BaseURL:       cfg.Marketplace.BaseURL,
		Timeout:       cfg.Marketplace.Timeout.Duration,
		MaxAttempts:   cfg.Marketplace.MaxAttempts,
		BackoffBase:   cfg.Marketplace.BackoffBase.Duration,
		BackoffCap:    cfg.Marketplace.BackoffCap.Duration,
		ListingsTTL:   cfg.Marketplace.ListingsTTL.Duration,
		AggregatesTTL: cfg.Marketplace.AggregatesTTL.Duration,
	}, auth, limiter, br, tiered, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Scanner ---
	deps.Scanner = scanner.New(
		apiClient,
		deps.CheckpointStore,
		deps.LockManager,
		deps.ScanRunStore,
		scanner.Config{
			ChunkSize:          cfg.Scan.ChunkSize,
			MaxConcurrency:     cfg.Scan.MaxConcurrency,
			CheckpointEvery:    cfg.Scan.CheckpointEvery,
			CheckpointInterval: cfg.Scan.CheckpointInterval.Duration,
			LockTTL:            cfg.Scan.LockTTL.Duration,
			TierConcurrency:    cfg.Scan.TierConcurrency,
		},
		logger,
	)

	return deps, cleanup, nil
}
