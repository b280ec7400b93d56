package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkotenko/skinarb/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL.
// Writes are last-write-wins per scan ID; single-writer-per-scan is enforced
// by the scanner's lock, not by the store.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a CheckpointStore backed by the given pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Save upserts the checkpoint for its scan ID. The partial listings and
// opportunities ride along as JSONB so a resumed run starts from the exact
// results the interrupted one had banked.
func (s *CheckpointStore) Save(ctx context.Context, cp domain.ScanCheckpoint) error {
	params, err := json.Marshal(cp.Params)
	if err != nil {
		return fmt.Errorf("postgres: marshal checkpoint params %s: %w", cp.ScanID, err)
	}
	listings, err := json.Marshal(cp.Listings)
	if err != nil {
		return fmt.Errorf("postgres: marshal checkpoint listings %s: %w", cp.ScanID, err)
	}
	opps, err := json.Marshal(cp.Opportunities)
	if err != nil {
		return fmt.Errorf("postgres: marshal checkpoint opportunities %s: %w", cp.ScanID, err)
	}

	const query = `
		INSERT INTO scan_checkpoints (scan_id, cursor, items_processed, params, listings, opportunities, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (scan_id) DO UPDATE SET
			cursor          = EXCLUDED.cursor,
			items_processed = EXCLUDED.items_processed,
			params          = EXCLUDED.params,
			listings        = EXCLUDED.listings,
			opportunities   = EXCLUDED.opportunities,
			updated_at      = NOW()`

	if _, err := s.pool.Exec(ctx, query, cp.ScanID, cp.Cursor, cp.ItemsProcessed, params, listings, opps); err != nil {
		return fmt.Errorf("postgres: save checkpoint %s: %w", cp.ScanID, err)
	}
	return nil
}

// Load retrieves the checkpoint for scanID.
// It returns domain.ErrNotFound when no checkpoint exists.
func (s *CheckpointStore) Load(ctx context.Context, scanID string) (domain.ScanCheckpoint, error) {
	const query = `
		SELECT scan_id, cursor, items_processed, params, listings, opportunities, updated_at
		FROM scan_checkpoints WHERE scan_id = $1`

	var (
		cp       domain.ScanCheckpoint
		params   []byte
		listings []byte
		opps     []byte
	)
	err := s.pool.QueryRow(ctx, query, scanID).Scan(
		&cp.ScanID, &cp.Cursor, &cp.ItemsProcessed, &params, &listings, &opps, &cp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ScanCheckpoint{}, domain.ErrNotFound
		}
		return domain.ScanCheckpoint{}, fmt.Errorf("postgres: load checkpoint %s: %w", scanID, err)
	}

	if err := json.Unmarshal(params, &cp.Params); err != nil {
		return domain.ScanCheckpoint{}, fmt.Errorf("postgres: unmarshal checkpoint params %s: %w", scanID, err)
	}
	if err := json.Unmarshal(listings, &cp.Listings); err != nil {
		return domain.ScanCheckpoint{}, fmt.Errorf("postgres: unmarshal checkpoint listings %s: %w", scanID, err)
	}
	if err := json.Unmarshal(opps, &cp.Opportunities); err != nil {
		return domain.ScanCheckpoint{}, fmt.Errorf("postgres: unmarshal checkpoint opportunities %s: %w", scanID, err)
	}
	return cp, nil
}

// Delete removes the checkpoint for scanID. Deleting a missing checkpoint is
// not an error.
func (s *CheckpointStore) Delete(ctx context.Context, scanID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM scan_checkpoints WHERE scan_id = $1`, scanID); err != nil {
		return fmt.Errorf("postgres: delete checkpoint %s: %w", scanID, err)
	}
	return nil
}

// PurgeOlderThan removes checkpoints last updated before cutoff and returns
// the number of rows removed.
func (s *CheckpointStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scan_checkpoints WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge checkpoints: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.CheckpointStore = (*CheckpointStore)(nil)
