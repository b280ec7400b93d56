package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotenko/skinarb/internal/domain"
)

// newTestBreaker returns a breaker with an injectable clock.
func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New(cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_TripsAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 5})

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, Closed, b.State(), "failure %d must not trip", i+1)
	}

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestBreaker_OpenFailsFast(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Minute})

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, Open, b.State())

	err := b.Allow()
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestBreaker_FailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 3, FailureWindow: time.Minute})

	b.RecordFailure()
	b.RecordFailure()

	// The window expires; the next failure starts a fresh count.
	*now = now.Add(2 * time.Minute)
	b.RecordFailure()
	assert.Equal(t, Closed, b.State())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second})

	b.RecordFailure()
	require.Equal(t, Open, b.State())

	*now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second})

	b.RecordFailure()
	*now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, Open, b.State())

	// The reset timer restarted: still open just before it elapses again.
	*now = now.Add(29 * time.Second)
	assert.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen)
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Second})

	b.RecordFailure()
	*now = now.Add(2 * time.Second)

	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen, "second caller must wait for the probe")
}

func TestBreaker_StateResolvesElapsedOpenTimeout(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: 30 * time.Second})

	b.RecordFailure()
	require.Equal(t, Open, b.State())

	// Once the reset timeout elapses the breaker reports Half-Open even
	// before any call comes through.
	*now = now.Add(31 * time.Second)
	assert.Equal(t, HalfOpen, b.State())
	assert.Equal(t, HalfOpen, b.State(), "reading the state must not consume the probe slot")

	require.NoError(t, b.Allow(), "the probe slot is still free after State reads")
}

func TestBreaker_LateFailureWhileOpenIsIgnored(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, ResetTimeout: time.Minute})

	require.NoError(t, b.Allow())
	require.NoError(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, Open, b.State())

	// A call admitted before the trip reports its failure late.
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}
