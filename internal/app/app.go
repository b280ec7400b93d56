// Package app provides the top-level application lifecycle for the skin
// arbitrage scanner. It wires together all dependencies (stores, caches,
// blob storage, the marketplace client, and notifications) and drives scan
// cycles based on the configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkotenko/skinarb/internal/config"
	"github.com/dkotenko/skinarb/internal/domain"
	"github.com/dkotenko/skinarb/internal/notify"
	"github.com/dkotenko/skinarb/internal/scanner"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, and blocks until the work is done or the context is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("tiers", len(a.cfg.Scan.Tiers)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "scan":
		return a.scanOnce(ctx, deps)
	case "continuous":
		return a.scanContinuous(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// scanOnce runs a single scan cycle over every configured tier and exits.
func (a *App) scanOnce(ctx context.Context, deps *Dependencies) error {
	return a.scanCycle(ctx, deps)
}

// scanContinuous runs scan cycles on the configured interval until the
// context is cancelled. A checkpoint GC loop runs alongside when a
// checkpoint store is wired.
func (a *App) scanContinuous(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Scan.Interval.Duration)
		defer ticker.Stop()

		// First cycle runs immediately, not one interval in.
		if err := a.scanCycle(gctx, deps); err != nil {
			a.logger.WarnContext(gctx, "scan cycle finished with errors",
				slog.String("error", err.Error()),
			)
		}

		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if err := a.scanCycle(gctx, deps); err != nil {
					a.logger.WarnContext(gctx, "scan cycle finished with errors",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})

	if deps.CheckpointStore != nil && a.cfg.Scan.CheckpointRetention.Duration > 0 {
		g.Go(func() error {
			return a.checkpointGC(gctx, deps)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// scanCycle scans every configured tier once, then notifies and archives
// each tier's outcome. Tier failures are reported but never stop the
// remaining tiers; the combined error summarizes how many tiers failed.
func (a *App) scanCycle(ctx context.Context, deps *Dependencies) error {
	tiers := make([]domain.ScanParams, len(a.cfg.Scan.Tiers))
	for i, t := range a.cfg.Scan.Tiers {
		tiers[i] = domain.ScanParams{
			GameID:           t.GameID,
			PriceFromCents:   t.PriceFromCents,
			PriceToCents:     t.PriceToCents,
			CommissionRate:   t.CommissionRate,
			MinProfitCents:   t.MinProfitCents,
			MinProfitPercent: t.MinProfitPercent,
			MaxPages:         t.MaxPages,
		}
	}

	started := time.Now()
	outcomes := deps.Scanner.RunAll(ctx, tiers)

	failed := 0
	for _, out := range outcomes {
		if out.Err != nil {
			failed++
			a.logger.WarnContext(ctx, "tier scan failed",
				slog.String("scan_id", out.Params.Key()),
				slog.String("state", string(out.Result.State)),
				slog.String("error", out.Err.Error()),
			)
			if err := deps.Notifier.Notify(ctx, notify.EventScanFailed,
				fmt.Sprintf("Scan %s failed", out.Params.Key()),
				out.Err.Error(),
			); err != nil {
				a.logger.WarnContext(ctx, "failure notification not delivered",
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		a.reportOutcome(ctx, deps, out)
	}

	a.logger.InfoContext(ctx, "scan cycle finished",
		slog.Int("tiers", len(outcomes)),
		slog.Int("failed_tiers", failed),
		slog.Duration("elapsed", time.Since(started)),
	)

	if failed > 0 {
		return fmt.Errorf("app: %d of %d tiers failed", failed, len(outcomes))
	}
	return nil
}

// reportOutcome delivers one completed tier's result: a notification with the
// top opportunities and, when an archiver is wired, the full JSONL report.
func (a *App) reportOutcome(ctx context.Context, deps *Dependencies, out scanner.TierOutcome) {
	title, message := notify.FormatScanResult(out.Result, a.cfg.Scan.TopN)
	if err := deps.Notifier.Notify(ctx, notify.EventOpportunities, title, message); err != nil {
		a.logger.WarnContext(ctx, "opportunity notification not delivered",
			slog.String("scan_id", out.Params.Key()),
			slog.String("error", err.Error()),
		)
	}

	if deps.Archiver != nil {
		if err := deps.Archiver.Archive(ctx, out.Result); err != nil {
			a.logger.WarnContext(ctx, "report archive failed",
				slog.String("run_id", out.Result.RunID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// checkpointGC periodically deletes checkpoints that have not been touched
// within the retention window. These belong to tiers that were removed from
// the configuration or abandoned mid-run long ago.
func (a *App) checkpointGC(ctx context.Context, deps *Dependencies) error {
	retention := a.cfg.Scan.CheckpointRetention.Duration

	// GC cadence does not need to be tighter than the retention window; once
	// an hour is plenty for either.
	interval := time.Hour
	if retention < interval {
		interval = retention
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			purged, err := deps.CheckpointStore.PurgeOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				a.logger.WarnContext(ctx, "checkpoint purge failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if purged > 0 {
				a.logger.InfoContext(ctx, "purged stale checkpoints",
					slog.Int64("count", purged),
				)
			}
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
