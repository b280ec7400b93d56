// Package breaker implements a three-state circuit breaker guarding the
// marketplace API. One Breaker instance is shared by all concurrent callers
// hitting the same upstream.
package breaker

import (
	"sync"
	"time"

	"github.com/dkotenko/skinarb/internal/domain"
)

// State is the breaker's position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes the breaker. Zero fields fall back to defaults.
type Config struct {
	// FailureThreshold trips Closed -> Open when reached within FailureWindow.
	FailureThreshold int
	// FailureWindow is the fixed window over which failures are counted.
	FailureWindow time.Duration
	// ResetTimeout is how long Open lasts before a Half-Open probe is allowed.
	ResetTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = time.Minute
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = time.Minute
	}
	return c
}

// Breaker gates calls to a single upstream. Callers must pair every Allow
// that returned nil with exactly one RecordSuccess or RecordFailure; the
// executor owns that discipline.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	windowStart   time.Time
	openUntil     time.Time
	probeInFlight bool
}

// New creates a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

// Allow reports whether a call may proceed. It returns domain.ErrCircuitOpen
// when the breaker is Open, or when a Half-Open probe is already in flight.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Before(b.openUntil) {
			return domain.ErrCircuitOpen
		}
		// Reset timeout elapsed: admit a single probe.
		b.state = HalfOpen
		b.probeInFlight = true
		return nil
	case HalfOpen:
		if b.probeInFlight {
			return domain.ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		// Probe succeeded: close and reset counters.
		b.state = Closed
		b.failures = 0
		b.probeInFlight = false
	case Closed:
		// Success does not clear the window; only window expiry does.
	}
}

// RecordFailure reports a failed call outcome. Which outcomes count as
// failures is the caller's decision (network errors and 5xx do, plain 4xx
// does not).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case HalfOpen:
		// Probe failed: back to Open, restart the reset timer.
		b.trip(now)
	case Closed:
		if b.failures == 0 || now.Sub(b.windowStart) > b.cfg.FailureWindow {
			b.windowStart = now
			b.failures = 0
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip(now)
		}
	case Open:
		// Late failure report from a call admitted before the trip; the
		// breaker is already open, nothing to count.
	}
}

// trip moves to Open. Caller holds b.mu.
func (b *Breaker) trip(now time.Time) {
	b.state = Open
	b.failures = 0
	b.probeInFlight = false
	b.openUntil = now.Add(b.cfg.ResetTimeout)
}

// State returns the current state, resolving an elapsed Open timeout the same
// way Allow would report it. It never mutates the breaker, so the next Allow
// still performs the Open to Half-Open transition itself.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && !b.now().Before(b.openUntil) {
		return HalfOpen
	}
	return b.state
}
