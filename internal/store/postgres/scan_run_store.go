package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkotenko/skinarb/internal/domain"
)

// ScanRunStore implements domain.ScanRunStore using PostgreSQL.
type ScanRunStore struct {
	pool *pgxpool.Pool
}

// NewScanRunStore creates a ScanRunStore backed by the given pool.
func NewScanRunStore(pool *pgxpool.Pool) *ScanRunStore {
	return &ScanRunStore{pool: pool}
}

// Record inserts one tier run summary. Re-recording the same run ID updates
// the row, so a retried write after a flaky connection stays idempotent.
func (s *ScanRunStore) Record(ctx context.Context, run domain.ScanRun) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("postgres: marshal run params %s: %w", run.ID, err)
	}

	const query = `
		INSERT INTO scan_runs (
			id, state, params, items_scanned, opportunities,
			started_at, finished_at, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			state         = EXCLUDED.state,
			items_scanned = EXCLUDED.items_scanned,
			opportunities = EXCLUDED.opportunities,
			finished_at   = EXCLUDED.finished_at,
			error         = EXCLUDED.error`

	_, err = s.pool.Exec(ctx, query,
		run.ID, string(run.State), params, run.ItemsScanned, run.Opportunities,
		run.StartedAt, run.FinishedAt, run.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: record scan run %s: %w", run.ID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ScanRunStore = (*ScanRunStore)(nil)
