package domain

import (
	"context"
	"io"
	"time"
)

// CheckpointStore persists scan progress. Save is idempotent per scan ID
// (last write wins). Load returns ErrNotFound when no checkpoint exists.
type CheckpointStore interface {
	Save(ctx context.Context, cp ScanCheckpoint) error
	Load(ctx context.Context, scanID string) (ScanCheckpoint, error)
	Delete(ctx context.Context, scanID string) error
	// PurgeOlderThan garbage-collects checkpoints of abandoned scans and
	// returns the number of rows removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ScanRunStore records tier run summaries.
type ScanRunStore interface {
	Record(ctx context.Context, run ScanRun) error
}

// PageCache is the external (L2) cache tier: opaque string keys, raw payload
// values, per-entry TTL. Get returns ErrNotFound on miss.
type PageCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// LockManager serializes writers per scan ID. Acquire returns ErrLockHeld
// when another run holds the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// BlobWriter uploads a report object to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, body io.Reader, contentType string) error
}
