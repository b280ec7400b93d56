// Package pipeline drives bounded-concurrency batch work: it splits an item
// set into chunks, runs chunks concurrently under a limit, isolates per-item
// failures, and reports monotonic progress for checkpointing.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Progress is a snapshot of confirmed batch progress. Completed only counts
// items in the contiguous prefix of finished chunks, so a checkpoint taken
// from it never records work that an earlier, still-running chunk could
// still fail to do.
type Progress struct {
	Completed int
	Failed    int
}

// ItemError pairs a failed item's input index with its error.
type ItemError struct {
	Index int
	Err   error
}

// Result aggregates a batch run. Succeeded+len(Failed) can be less than the
// input size when the run was cancelled before every chunk was dispatched.
type Result struct {
	Succeeded int
	Failed    []ItemError
	// Completed is the final contiguous frontier, in items.
	Completed int
	// Cancelled reports whether the run stopped early due to ctx.
	Cancelled bool
}

// Options tune one batch run.
type Options struct {
	// ChunkSize is the number of items processed sequentially per chunk
	// (default 10).
	ChunkSize int
	// MaxConcurrency bounds chunks in flight (default 4).
	MaxConcurrency int
	// CheckpointEvery triggers the Checkpoint callback each time this many
	// new items enter the contiguous frontier. 0 disables the count trigger.
	CheckpointEvery int
	// CheckpointInterval triggers the Checkpoint callback when this much
	// time passed since the last one. 0 disables the time trigger.
	CheckpointInterval time.Duration
	// Checkpoint persists progress. Errors are logged and swallowed: a
	// failed checkpoint write costs redone work after a crash, never
	// correctness. Called once more on exit.
	Checkpoint func(ctx context.Context, p Progress) error
	// OnProgress observes every frontier advance. Optional.
	OnProgress func(p Progress)

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 10
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 4
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Run processes items in chunks of opts.ChunkSize with at most
// opts.MaxConcurrency chunks in flight. Items within a chunk run
// sequentially in input order. A failing item is recorded and processing
// continues; a failed item never aborts its chunk or the batch. On
// cancellation no new chunks are dispatched, in-flight chunks drain, and a
// final checkpoint is written before returning.
func Run[T any](ctx context.Context, items []T, opts Options, fn func(ctx context.Context, item T) error) Result {
	opts = opts.withDefaults()
	if len(items) == 0 {
		return Result{}
	}

	type chunk struct {
		start, end int // [start, end) into items
	}
	var chunks []chunk
	for start := 0; start < len(items); start += opts.ChunkSize {
		end := start + opts.ChunkSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, chunk{start: start, end: end})
	}

	var (
		mu             sync.Mutex
		chunkDone      = make([]bool, len(chunks))
		frontier       int // first not-yet-done chunk index
		completed      int
		failed         []ItemError
		succeeded      int
		lastCheckpoint = time.Now()
		sinceCkpt      int
	)

	// checkpoint persists the current frontier. Caller holds mu.
	checkpoint := func() {
		if opts.Checkpoint == nil {
			return
		}
		p := Progress{Completed: completed, Failed: len(failed)}
		// Write with a detached context so a cancelled run can still record
		// its final progress.
		ckptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := opts.Checkpoint(ckptCtx, p); err != nil {
			opts.Logger.Warn("checkpoint write failed, continuing",
				slog.Int("completed", p.Completed),
				slog.String("error", err.Error()),
			)
			return
		}
		lastCheckpoint = time.Now()
		sinceCkpt = 0
	}

	g := new(errgroup.Group)
	g.SetLimit(opts.MaxConcurrency)

	for i, ch := range chunks {
		// Cancellation gate: stop dispatching, let in-flight chunks drain.
		if ctx.Err() != nil {
			break
		}

		i, ch := i, ch
		g.Go(func() error {
			var chunkFailed []ItemError
			chunkOK := 0
			for idx := ch.start; idx < ch.end; idx++ {
				if ctx.Err() != nil {
					// Items never attempted stay out of both tallies so the
					// frontier does not claim them.
					mu.Lock()
					failed = append(failed, chunkFailed...)
					succeeded += chunkOK
					mu.Unlock()
					return nil
				}
				if err := fn(ctx, items[idx]); err != nil {
					chunkFailed = append(chunkFailed, ItemError{Index: idx, Err: err})
				} else {
					chunkOK++
				}
			}

			mu.Lock()
			defer mu.Unlock()

			succeeded += chunkOK
			failed = append(failed, chunkFailed...)
			chunkDone[i] = true
			for frontier < len(chunks) && chunkDone[frontier] {
				adv := chunks[frontier].end - chunks[frontier].start
				completed += adv
				sinceCkpt += adv
				frontier++
			}
			if opts.OnProgress != nil {
				opts.OnProgress(Progress{Completed: completed, Failed: len(failed)})
			}

			countDue := opts.CheckpointEvery > 0 && sinceCkpt >= opts.CheckpointEvery
			timeDue := opts.CheckpointInterval > 0 && time.Since(lastCheckpoint) >= opts.CheckpointInterval
			if countDue || timeDue {
				checkpoint()
			}
			return nil
		})
	}

	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()
	checkpoint()

	return Result{
		Succeeded: succeeded,
		Failed:    failed,
		Completed: completed,
		Cancelled: ctx.Err() != nil,
	}
}
