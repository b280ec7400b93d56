// Package marketapi is the authenticated request executor for the
// marketplace API: it signs requests, applies the rate limiter and circuit
// breaker, retries transient failures with exponential backoff, and returns
// typed responses or typed errors.
package marketapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/dkotenko/skinarb/internal/breaker"
	"github.com/dkotenko/skinarb/internal/crypto"
	"github.com/dkotenko/skinarb/internal/domain"
	"github.com/dkotenko/skinarb/internal/ratelimit"
)

// maxResponseBytes caps how much of an upstream body is read. Listing pages
// are well under 1 MiB; anything larger is a broken response.
const maxResponseBytes = 8 << 20

// ResponseCache is the read-through cache consulted before the network. The
// tiered cache implements it; failures inside the cache never surface here.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Config tunes the executor. Zero fields fall back to defaults.
type Config struct {
	BaseURL string
	// Timeout is the per-call HTTP deadline (default 10s).
	Timeout time.Duration
	// MaxAttempts bounds retries of transient failures (default 3).
	MaxAttempts int
	// BackoffBase and BackoffCap shape the exponential backoff between
	// attempts (defaults 1s and 10s).
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// ListingsTTL and AggregatesTTL are the cache lifetimes for the two
	// endpoint families (defaults 120s and 10m).
	ListingsTTL   time.Duration
	AggregatesTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	if c.ListingsTTL <= 0 {
		c.ListingsTTL = 2 * time.Minute
	}
	if c.AggregatesTTL <= 0 {
		c.AggregatesTTL = 10 * time.Minute
	}
	return c
}

// Client executes signed marketplace requests. All collaborators are
// injected once at construction; the client holds no global state.
type Client struct {
	cfg        Config
	httpClient *http.Client
	auth       *crypto.HMACAuth
	limiter    *ratelimit.Limiter
	breaker    *breaker.Breaker
	cache      ResponseCache
	logger     *slog.Logger
}

// New creates a Client. cache may be nil to disable response caching.
func New(cfg Config, auth *crypto.HMACAuth, limiter *ratelimit.Limiter, br *breaker.Breaker, cache ResponseCache, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		auth:       auth,
		limiter:    limiter,
		breaker:    br,
		cache:      cache,
		logger:     logger.With(slog.String("component", "marketapi")),
	}
}

// Do executes the request and returns the raw response body.
//
// Flow: cache → rate limiter → circuit breaker gate → signed HTTP call →
// outcome classification. Transient failures (429, 5xx, network errors) are
// retried with exponential backoff and jitter; each retry re-enters at the
// breaker gate. Non-retryable outcomes return a typed *domain.APIError.
func (c *Client) Do(ctx context.Context, spec RequestSpec) ([]byte, error) {
	op := spec.Method + " " + spec.Path

	if spec.CacheTTL > 0 && c.cache != nil {
		if body, ok := c.cache.Get(ctx, spec.CacheKey()); ok {
			return body, nil
		}
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	var (
		lastErr error
		wait    time.Duration
	)
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("marketapi: %s: %w", op, ctx.Err())
			case <-timer.C:
			}
		}

		if err := c.breaker.Allow(); err != nil {
			return nil, &domain.APIError{Kind: domain.KindCircuitOpen, Op: op, Err: err}
		}

		body, status, hint, err := c.attempt(ctx, spec)

		switch {
		case err != nil:
			// Network error or timeout.
			c.breaker.RecordFailure()
			lastErr = &domain.APIError{Kind: domain.KindUnavailable, Op: op, Err: err}
			wait = c.backoff(attempt, 0)
			c.logger.WarnContext(ctx, "request failed, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)

		case status >= 200 && status < 300:
			c.breaker.RecordSuccess()
			if spec.CacheTTL > 0 && c.cache != nil {
				c.cache.Put(ctx, spec.CacheKey(), body, spec.CacheTTL)
			}
			return body, nil

		case status == http.StatusTooManyRequests:
			// 429 takes precedence over every other classification. The
			// upstream answered, so the breaker outcome is a success.
			c.breaker.RecordSuccess()
			wait = c.backoff(attempt, hint)
			lastErr = &domain.APIError{Kind: domain.KindRateLimited, Status: status, Op: op,
				Err: fmt.Errorf("upstream rate limit")}
			c.logger.WarnContext(ctx, "rate limited by upstream",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
			)

		case status >= 500:
			c.breaker.RecordFailure()
			lastErr = &domain.APIError{Kind: domain.KindUnavailable, Status: status, Op: op,
				Err: fmt.Errorf("upstream status %d", status)}
			wait = c.backoff(attempt, 0)
			c.logger.WarnContext(ctx, "upstream error, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Int("status", status),
			)

		default:
			// Remaining 4xx: the request itself is bad. Not retried, does
			// not trip the breaker.
			c.breaker.RecordSuccess()
			return nil, &domain.APIError{Kind: domain.KindClientError, Status: status, Op: op,
				Err: fmt.Errorf("upstream status %d: %s", status, truncate(body, 256))}
		}
	}

	return nil, lastErr
}

// attempt issues a single signed HTTP call and returns the body, status,
// the parsed Retry-After hint (0 when absent), and any transport error.
func (c *Client) attempt(ctx context.Context, spec RequestSpec) (body []byte, status int, hint time.Duration, err error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reqBody io.Reader
	if len(spec.Body) > 0 {
		reqBody = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(callCtx, spec.Method, c.cfg.BaseURL+spec.PathWithQuery(), reqBody)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if len(spec.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.auth.Headers(spec.Method, spec.PathWithQuery(), string(spec.Body)) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read body: %w", err)
	}

	return body, resp.StatusCode, retryAfter(resp.Header.Get("Retry-After")), nil
}

// backoff returns the wait before the next attempt: the server's Retry-After
// hint when provided, otherwise base*2^(attempt-1) capped, plus up to 50%
// jitter so concurrent workers do not retry in lockstep.
func (c *Client) backoff(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	d := c.cfg.BackoffBase << (attempt - 1)
	if d > c.cfg.BackoffCap {
		d = c.cfg.BackoffCap
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

// retryAfter parses a Retry-After header carrying delay seconds. Date-form
// values are ignored; the backoff policy covers that case.
func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
