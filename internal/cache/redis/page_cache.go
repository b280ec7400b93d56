package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkotenko/skinarb/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PageCache implements domain.PageCache: the external (L2) tier of the
// response cache, holding raw listing-page and aggregate payloads under
// opaque keys with per-entry TTLs.
type PageCache struct {
	rdb *redis.Client
}

// NewPageCache creates a PageCache backed by the given Client.
func NewPageCache(c *Client) *PageCache {
	return &PageCache{rdb: c.Underlying()}
}

// Get retrieves the payload stored under key.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PageCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := pc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get page %s: %w", key, err)
	}
	return data, nil
}

// Set stores the payload under key for ttl.
func (pc *PageCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := pc.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set page %s: %w", key, err)
	}
	return nil
}

// Delete removes the payload under key.
func (pc *PageCache) Delete(ctx context.Context, key string) error {
	if err := pc.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: delete page %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PageCache = (*PageCache)(nil)
