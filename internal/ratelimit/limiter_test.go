package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstAcquiresImmediately(t *testing.T) {
	l := New(5, time.Minute)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Less(t, l.Tokens(), 1.0)
}

func TestLimiter_BlocksWhenExhausted(t *testing.T) {
	l := New(1, time.Hour)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_CancelledContext(t *testing.T) {
	l := New(1, time.Hour)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, l.Acquire(ctx))
}

// Once the startup burst is spent, no sliding window of one period may hold
// more completed acquisitions than the configured quota.
func TestLimiter_SustainedRateHonorsQuota(t *testing.T) {
	const (
		quota  = 3
		period = 300 * time.Millisecond
	)
	l := New(quota, period)
	ctx := context.Background()

	// Drain the initial burst so the recorded sequence reflects the refill
	// rate rather than the bucket's starting capacity.
	for i := 0; i < quota; i++ {
		require.NoError(t, l.Acquire(ctx))
	}

	const calls = 7
	completions := make([]time.Time, 0, calls)
	for i := 0; i < calls; i++ {
		require.NoError(t, l.Acquire(ctx))
		completions = append(completions, time.Now())
	}

	// If any window of one period held more than quota completions, some
	// completion and the quota-th one after it would be closer than a period.
	const slack = 20 * time.Millisecond
	for i := 0; i+quota < len(completions); i++ {
		window := completions[i+quota].Sub(completions[i])
		assert.GreaterOrEqual(t, window, period-slack,
			"calls %d..%d exceed %d per %s", i, i+quota, quota, period)
	}
}

func TestLimiter_InvalidQuotaPanics(t *testing.T) {
	assert.Panics(t, func() { New(0, time.Second) })
	assert.Panics(t, func() { New(10, 0) })
}
