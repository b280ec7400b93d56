// Package cache composes the in-process L1 tier with the external L2 tier
// into the read-through response cache used by the request executor.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dkotenko/skinarb/internal/cache/memory"
	"github.com/dkotenko/skinarb/internal/domain"
)

// Tiered is the two-level cache. Reads check L1 first, then L2; an L2 hit is
// promoted into L1. Writes go to both tiers. Any L2 failure degrades
// silently to L1-only behavior: a broken cache must never fail a scan.
type Tiered struct {
	l1     *memory.Cache
	l2     domain.PageCache // may be nil: L1-only mode
	logger *slog.Logger
}

// NewTiered creates a Tiered cache. l2 may be nil to run without an external
// tier.
func NewTiered(l1 *memory.Cache, l2 domain.PageCache, logger *slog.Logger) *Tiered {
	return &Tiered{
		l1:     l1,
		l2:     l2,
		logger: logger.With(slog.String("component", "cache")),
	}
}

// Get returns the cached payload for key, or ok=false on a miss.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := t.l1.Get(key); ok {
		return v, true
	}
	if t.l2 == nil {
		return nil, false
	}

	v, err := t.l2.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			t.logger.WarnContext(ctx, "l2 get failed, treating as miss",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	// Promote. The remaining L2 TTL is unknown, so the promoted entry gets
	// the short promotion TTL rather than a fresh full one.
	t.l1.Set(key, v, promotionTTL)
	return v, true
}

// promotionTTL bounds how long an L2-promoted value may outlive its L2 copy.
const promotionTTL = 30 * time.Second

// Put stores the payload in both tiers.
func (t *Tiered) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	t.l1.Set(key, value, ttl)
	if t.l2 == nil {
		return
	}
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		t.logger.WarnContext(ctx, "l2 set failed, entry is l1-only",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
