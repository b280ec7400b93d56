// Package scanner orchestrates arbitrage scan runs: it paginates listings
// through the batch pipeline, computes profit for candidate pairs, and ranks
// the surviving opportunities.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkotenko/skinarb/internal/domain"
	"github.com/dkotenko/skinarb/internal/marketapi"
	"github.com/dkotenko/skinarb/internal/pipeline"
)

// Config tunes scan runs. Zero fields fall back to defaults.
type Config struct {
	// ChunkSize and MaxConcurrency shape the per-page batch processing.
	ChunkSize      int
	MaxConcurrency int
	// CheckpointEvery / CheckpointInterval set the persistence cadence
	// (defaults 50 items / 30s).
	CheckpointEvery    int
	CheckpointInterval time.Duration
	// LockTTL bounds how long a crashed run can block its scan ID
	// (default 10m).
	LockTTL time.Duration
	// TierConcurrency bounds how many tiers RunAll scans at once (default 2).
	TierConcurrency int
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 50
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.TierConcurrency <= 0 {
		c.TierConcurrency = 2
	}
	return c
}

// Scanner runs arbitrage scans against the marketplace. All collaborators
// are injected; checkpoints, locks, and the run store may be nil, which
// disables resume, write serialization, and history respectively.
type Scanner struct {
	api         *marketapi.Client
	checkpoints domain.CheckpointStore
	locks       domain.LockManager
	runs        domain.ScanRunStore
	cfg         Config
	logger      *slog.Logger
}

// New creates a Scanner.
func New(api *marketapi.Client, checkpoints domain.CheckpointStore, locks domain.LockManager, runs domain.ScanRunStore, cfg Config, logger *slog.Logger) *Scanner {
	return &Scanner{
		api:         api,
		checkpoints: checkpoints,
		locks:       locks,
		runs:        runs,
		cfg:         cfg.withDefaults(),
		logger:      logger.With(slog.String("component", "scanner")),
	}
}

// marketRef is the sell-side reference resolved for one listing.
type marketRef struct {
	bestOfferCents int64
	offerCount     int
}

// TierOutcome pairs one tier's result with its terminal error, if any.
type TierOutcome struct {
	Params domain.ScanParams
	Result domain.ScanResult
	Err    error
}

// RunAll scans every tier, at most cfg.TierConcurrency at a time. Tiers are
// independent runs: one tier failing or tripping the breaker never aborts
// its siblings. Outcomes are returned in input order.
func (s *Scanner) RunAll(ctx context.Context, tiers []domain.ScanParams) []TierOutcome {
	outcomes := make([]TierOutcome, len(tiers))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.TierConcurrency)

	for i, params := range tiers {
		if ctx.Err() != nil {
			outcomes[i] = TierOutcome{Params: params, Err: ctx.Err()}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, params domain.ScanParams) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := s.Run(ctx, params)
			outcomes[i] = TierOutcome{Params: params, Result: res, Err: err}
		}(i, params)
	}

	wg.Wait()
	return outcomes
}

// Run executes one scan tier: Starting -> Paginating -> Computing ->
// Completed | Aborted. The returned result is valid even on error; its State
// reports how far the run got.
func (s *Scanner) Run(ctx context.Context, params domain.ScanParams) (domain.ScanResult, error) {
	scanID := params.Key()
	runID := uuid.New().String()
	startedAt := time.Now()

	result := domain.ScanResult{
		RunID:  runID,
		Params: params,
		State:  domain.ScanStarting,
	}

	logger := s.logger.With(
		slog.String("scan_id", scanID),
		slog.String("run_id", runID),
	)

	// --- Starting: serialize writers for this scan ID. ---
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, scanID, s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				result.State = domain.ScanAborted
				return result, fmt.Errorf("scanner: tier %s: %w", scanID, err)
			}
			// A broken lock backend must not stop scanning; we are the only
			// instance by deployment contract anyway.
			logger.WarnContext(ctx, "lock acquire failed, proceeding unlocked",
				slog.String("error", err.Error()),
			)
		} else {
			defer unlock()
		}
	}

	cursor, processed, listings, opps := s.resume(ctx, scanID, logger)
	result.ItemsScanned = processed

	logger.InfoContext(ctx, "scan starting",
		slog.String("game_id", params.GameID),
		slog.Int64("price_from_cents", params.PriceFromCents),
		slog.Int64("price_to_cents", params.PriceToCents),
		slog.Int("resumed_items", processed),
	)

	// --- Paginating. ---
	result.State = domain.ScanPaginating

	var mu sync.Mutex

	pages := 0
	for {
		if ctx.Err() != nil {
			s.finish(ctx, &result, startedAt, domain.ScanAborted, ctx.Err())
			return result, fmt.Errorf("scanner: tier %s: %w", scanID, ctx.Err())
		}
		if params.MaxPages > 0 && pages >= params.MaxPages {
			break
		}

		page, err := s.api.ListItems(ctx, marketapi.ListItemsParams{
			GameID:         params.GameID,
			PriceFromCents: params.PriceFromCents,
			PriceToCents:   params.PriceToCents,
			Cursor:         cursor,
		})
		if err != nil {
			// Any executor error here ends the tier: ClientError means the
			// request itself is bad, CircuitOpen/Unavailable mean the
			// upstream needs time. The checkpoint is retained for resume.
			s.finish(ctx, &result, startedAt, domain.ScanAborted, err)
			return result, fmt.Errorf("scanner: tier %s: page %d: %w", scanID, pages, err)
		}
		pages++

		if len(page.Listings) > 0 {
			pageCursor := cursor
			preOpps := len(opps)
			prePage := listings
			batchRes := pipeline.Run(ctx, page.Listings, pipeline.Options{
				ChunkSize:          s.cfg.ChunkSize,
				MaxConcurrency:     s.cfg.MaxConcurrency,
				CheckpointEvery:    s.cfg.CheckpointEvery,
				CheckpointInterval: s.cfg.CheckpointInterval,
				Logger:             logger,
				// Mid-page checkpoints pin the current page cursor and the
				// results as of its start: a resume refetches this page
				// (cached) rather than skipping unconfirmed items, so its
				// in-flight candidates must not be persisted twice.
				Checkpoint: func(cpCtx context.Context, p pipeline.Progress) error {
					mu.Lock()
					partial := append([]domain.Opportunity(nil), opps[:preOpps]...)
					mu.Unlock()
					return s.saveCheckpoint(cpCtx, scanID, pageCursor, processed, params, prePage, partial)
				},
			}, func(ctx context.Context, l domain.Listing) error {
				ref, err := s.resolveReference(ctx, params.GameID, l)
				if err != nil {
					return err
				}
				if opp, ok := buildReferenceOpportunity(l, ref, params); ok {
					mu.Lock()
					opps = append(opps, opp)
					mu.Unlock()
				}
				return nil
			})

			mu.Lock()
			listings = append(listings, page.Listings...)
			mu.Unlock()

			processed += batchRes.Succeeded + len(batchRes.Failed)
			result.ItemsScanned = processed
			result.Failed += len(batchRes.Failed)
			for _, fe := range batchRes.Failed {
				logger.WarnContext(ctx, "listing processing failed",
					slog.String("item_id", page.Listings[fe.Index].ItemID),
					slog.String("error", fe.Err.Error()),
				)
			}

			if batchRes.Cancelled {
				s.finish(ctx, &result, startedAt, domain.ScanAborted, ctx.Err())
				return result, fmt.Errorf("scanner: tier %s: %w", scanID, ctx.Err())
			}
		}

		// An empty page does not end the scan on its own: the upstream may
		// interleave empty pages mid-sequence, and only an empty cursor
		// signals the last one.
		cursor = page.Cursor
		if cursor == "" {
			break
		}
		if err := s.saveCheckpoint(ctx, scanID, cursor, processed, params, listings, opps); err != nil {
			logger.WarnContext(ctx, "checkpoint write failed, continuing",
				slog.String("error", err.Error()),
			)
		}
	}

	// --- Computing: intra-market pairs over the whole tier. ---
	result.State = domain.ScanComputing
	opps = append(opps, buildIntraMarketOpportunities(listings, params)...)
	domain.SortOpportunities(opps)
	result.Opportunities = opps

	// --- Completed. ---
	s.finish(ctx, &result, startedAt, domain.ScanCompleted, nil)

	logger.InfoContext(ctx, "scan completed",
		slog.Int("items", result.ItemsScanned),
		slog.Int("failed_items", result.Failed),
		slog.Int("opportunities", len(opps)),
		slog.Duration("elapsed", time.Since(startedAt)),
	)
	return result, nil
}

// resume loads the checkpoint for scanID, restoring the cursor, the processed
// count, and the partial results of the pages already behind it. A load
// failure only costs the resume; the scan starts from the beginning.
func (s *Scanner) resume(ctx context.Context, scanID string, logger *slog.Logger) (cursor string, processed int, listings []domain.Listing, opps []domain.Opportunity) {
	if s.checkpoints == nil {
		return "", 0, nil, nil
	}
	cp, err := s.checkpoints.Load(ctx, scanID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.WarnContext(ctx, "checkpoint load failed, starting fresh",
				slog.String("error", err.Error()),
			)
		}
		return "", 0, nil, nil
	}
	logger.InfoContext(ctx, "resuming from checkpoint",
		slog.Int("items_processed", cp.ItemsProcessed),
		slog.Int("partial_listings", len(cp.Listings)),
		slog.Int("partial_opportunities", len(cp.Opportunities)),
		slog.Time("checkpoint_at", cp.UpdatedAt),
	)
	return cp.Cursor, cp.ItemsProcessed, cp.Listings, cp.Opportunities
}

func (s *Scanner) saveCheckpoint(ctx context.Context, scanID, cursor string, processed int, params domain.ScanParams, listings []domain.Listing, opps []domain.Opportunity) error {
	if s.checkpoints == nil {
		return nil
	}
	return s.checkpoints.Save(ctx, domain.ScanCheckpoint{
		ScanID:         scanID,
		Cursor:         cursor,
		ItemsProcessed: processed,
		Params:         params,
		Listings:       listings,
		Opportunities:  opps,
		UpdatedAt:      time.Now(),
	})
}

// resolveReference fetches the aggregated best offer for the listing's
// title. The aggregate endpoint is cached with a long TTL, so repeated
// titles within a tier cost one upstream call.
func (s *Scanner) resolveReference(ctx context.Context, gameID string, l domain.Listing) (marketRef, error) {
	if l.Title == "" {
		return marketRef{}, nil
	}

	prices, err := s.api.AggregatedPrices(ctx, gameID, []string{l.Title})
	if err != nil {
		return marketRef{}, err
	}

	ref, ok := prices[l.Title]
	if !ok {
		return marketRef{}, nil
	}
	return marketRef{bestOfferCents: ref.BestOfferCents, offerCount: ref.OfferCount}, nil
}

// finish moves the run to its terminal state, settles the checkpoint, and
// records the run summary. Completed runs drop their checkpoint; aborted
// runs keep it for resume.
func (s *Scanner) finish(ctx context.Context, result *domain.ScanResult, startedAt time.Time, state domain.ScanState, cause error) {
	result.State = state

	// Settle with a detached context: this also runs on cancellation.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if state == domain.ScanCompleted && s.checkpoints != nil {
		if err := s.checkpoints.Delete(opCtx, result.Params.Key()); err != nil {
			s.logger.Warn("checkpoint delete failed",
				slog.String("scan_id", result.Params.Key()),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.runs != nil {
		run := domain.ScanRun{
			ID:            result.RunID,
			State:         state,
			Params:        result.Params,
			ItemsScanned:  result.ItemsScanned,
			Opportunities: len(result.Opportunities),
			StartedAt:     startedAt,
			FinishedAt:    time.Now(),
		}
		if cause != nil {
			run.Error = cause.Error()
		}
		if err := s.runs.Record(opCtx, run); err != nil {
			s.logger.Warn("scan run record failed",
				slog.String("run_id", result.RunID),
				slog.String("error", err.Error()),
			)
		}
	}
}
