package marketapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotenko/skinarb/internal/breaker"
	"github.com/dkotenko/skinarb/internal/crypto"
	"github.com/dkotenko/skinarb/internal/domain"
	"github.com/dkotenko/skinarb/internal/ratelimit"
)

// memCache is a minimal ResponseCache for executor tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.puts++
}

func newTestClient(t *testing.T, baseURL string, cache ResponseCache, brCfg breaker.Config) *Client {
	t.Helper()
	return New(
		Config{
			BaseURL:     baseURL,
			Timeout:     2 * time.Second,
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
		},
		&crypto.HMACAuth{PublicKey: "pub", SecretKey: "sec"},
		ratelimit.New(1000, time.Second),
		breaker.New(brCfg),
		cache,
		slog.Default(),
	)
}

func getSpec(path string) RequestSpec {
	return RequestSpec{Method: http.MethodGet, Path: path}
}

func TestClient_SignsRequests(t *testing.T) {
	var gotKey, gotDate, gotSign string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotDate = r.Header.Get("X-Sign-Date")
		gotSign = r.Header.Get("X-Request-Sign")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil, breaker.Config{})
	body, err := c.Do(context.Background(), getSpec("/signed"))
	require.NoError(t, err)

	assert.Equal(t, []byte(`{"ok":true}`), body)
	assert.Equal(t, "pub", gotKey)
	assert.NotEmpty(t, gotDate)
	assert.Len(t, gotSign, 64)
}

func TestClient_CacheHitSkipsNetwork(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"n":1}`))
	}))
	defer srv.Close()

	cache := newMemCache()
	c := newTestClient(t, srv.URL, cache, breaker.Config{})

	spec := getSpec("/cached")
	spec.CacheTTL = time.Minute

	first, err := c.Do(context.Background(), spec)
	require.NoError(t, err)
	second, err := c.Do(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.Load(), "second call served from cache")
	assert.Equal(t, 1, cache.puts)
}

func TestClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil, breaker.Config{})
	body, err := c.Do(context.Background(), getSpec("/ratelimited"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"ok":true}`), body)
	assert.Equal(t, int64(2), calls.Load())
}

func TestClient_RateLimitExhaustsAttempts(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil, breaker.Config{})
	_, err := c.Do(context.Background(), getSpec("/always429"))
	require.Error(t, err)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindRateLimited, kind)
	assert.Equal(t, int64(3), calls.Load())
}

func TestClient_ServerErrorsRetriedThenUnavailable(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	// High threshold so the breaker stays out of this test's way.
	c := newTestClient(t, srv.URL, nil, breaker.Config{FailureThreshold: 100})
	_, err := c.Do(context.Background(), getSpec("/flaky"))
	require.Error(t, err)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindUnavailable, kind)
	assert.Equal(t, int64(3), calls.Load())
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil, breaker.Config{})
	_, err := c.Do(context.Background(), getSpec("/missing"))
	require.Error(t, err)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindClientError, kind)
	assert.Equal(t, int64(1), calls.Load(), "4xx must not retry")
}

func TestClient_BreakerOpensAndFailsFast(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil, breaker.Config{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})

	// Two 5xx attempts trip the breaker; the third attempt is rejected at
	// the gate.
	_, err := c.Do(context.Background(), getSpec("/dying"))
	require.Error(t, err)
	assert.Equal(t, int64(2), calls.Load())

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindCircuitOpen, kind)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)

	// Follow-up calls fail fast without touching the network.
	_, err = c.Do(context.Background(), getSpec("/dying"))
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, int64(2), calls.Load())
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), retryAfter(""))
	assert.Equal(t, 3*time.Second, retryAfter("3"))
	assert.Equal(t, time.Duration(0), retryAfter("-1"))
	assert.Equal(t, time.Duration(0), retryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}

func TestClient_ContextCancellationDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	c := newTestClient(t, srv.URL, nil, breaker.Config{})
	start := time.Now()
	_, err := c.Do(ctx, getSpec("/slow429"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "backoff wait must respect ctx")
}
