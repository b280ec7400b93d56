package cache

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotenko/skinarb/internal/cache/memory"
	"github.com/dkotenko/skinarb/internal/domain"
)

// fakePageCache is an in-memory domain.PageCache with switchable failures.
type fakePageCache struct {
	data map[string][]byte
	fail bool
}

func newFakePageCache() *fakePageCache {
	return &fakePageCache{data: make(map[string][]byte)}
}

func (f *fakePageCache) Get(ctx context.Context, key string) ([]byte, error) {
	if f.fail {
		return nil, errors.New("backend down")
	}
	v, ok := f.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (f *fakePageCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.fail {
		return errors.New("backend down")
	}
	f.data[key] = value
	return nil
}

func (f *fakePageCache) Delete(ctx context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func newTestTiered(l2 domain.PageCache) *Tiered {
	return NewTiered(memory.New(16), l2, slog.Default())
}

func TestTiered_PutGetBothTiers(t *testing.T) {
	l2 := newFakePageCache()
	tc := newTestTiered(l2)
	ctx := context.Background()

	tc.Put(ctx, "k", []byte("v"), time.Minute)

	v, ok := tc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, []byte("v"), l2.data["k"], "write reaches l2")
}

func TestTiered_L2HitIsPromoted(t *testing.T) {
	l2 := newFakePageCache()
	l2.data["k"] = []byte("from-l2")
	tc := newTestTiered(l2)
	ctx := context.Background()

	v, ok := tc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("from-l2"), v)

	// The entry now lives in L1: even with L2 failing, the key resolves.
	l2.fail = true
	v, ok = tc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("from-l2"), v)
}

func TestTiered_L2FailureDegradesSilently(t *testing.T) {
	l2 := newFakePageCache()
	l2.fail = true
	tc := newTestTiered(l2)
	ctx := context.Background()

	// Put succeeds even though l2 rejects the write.
	tc.Put(ctx, "k", []byte("v"), time.Minute)

	v, ok := tc.Get(ctx, "k")
	require.True(t, ok, "l1 serves despite broken l2")
	assert.Equal(t, []byte("v"), v)

	_, ok = tc.Get(ctx, "unknown")
	assert.False(t, ok, "l2 error is a miss, not a failure")
}

func TestTiered_NilL2(t *testing.T) {
	tc := newTestTiered(nil)
	ctx := context.Background()

	tc.Put(ctx, "k", []byte("v"), time.Minute)
	v, ok := tc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, ok = tc.Get(ctx, "unknown")
	assert.False(t, ok)
}
