// Package ratelimit bounds the outbound request rate to the marketplace's
// published quota with an in-process token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket holding burst tokens refilled continuously at
// burst/period. Concurrent callers are served in FIFO order by the underlying
// reservation queue; Acquire always eventually succeeds unless the caller's
// context expires first.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a Limiter allowing burst requests per period, e.g. 30 per
// minute. A non-positive burst or period panics: the quota is static
// configuration and a zero value is always a wiring bug.
func New(burst int, period time.Duration) *Limiter {
	if burst <= 0 || period <= 0 {
		panic(fmt.Sprintf("ratelimit: invalid quota %d per %s", burst, period))
	}
	refill := rate.Limit(float64(burst) / period.Seconds())
	return &Limiter{rl: rate.NewLimiter(refill, burst)}
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.rl.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: acquire: %w", err)
	}
	return nil
}

// Tokens reports the number of tokens currently available. Used by tests and
// the dashboard log line; not part of the hot path.
func (l *Limiter) Tokens() float64 {
	return l.rl.Tokens()
}
