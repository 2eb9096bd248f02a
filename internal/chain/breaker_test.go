package chain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubex-labs/qupool/internal/domain"
)

// fakeClock lets tests advance the breaker's notion of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(threshold, cooldown)
	b.now = clock.now
	return b, clock
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		assert.Equal(t, boom, b.Do(func() error { return boom }))
	}
	assert.Equal(t, BreakerOpen, b.Snapshot().State)

	// Short-circuits without running fn.
	ran := false
	err := b.Do(func() error { ran = true; return nil })
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.False(t, ran)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)
	boom := errors.New("boom")

	b.Do(func() error { return boom })
	b.Do(func() error { return boom })
	require.NoError(t, b.Do(func() error { return nil }))
	b.Do(func() error { return boom })
	b.Do(func() error { return boom })

	assert.Equal(t, BreakerClosed, b.Snapshot().State)
	assert.Equal(t, 2, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	b.Do(func() error { return errors.New("boom") })
	require.Equal(t, BreakerOpen, b.Snapshot().State)

	clock.advance(29 * time.Second)
	assert.False(t, b.Allow())

	clock.advance(2 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.Snapshot().State)

	// Only the single trial is admitted until it reports a verdict.
	assert.False(t, b.Allow())
}

func TestBreaker_HalfOpenTrialSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	b.Do(func() error { return errors.New("boom") })
	clock.advance(31 * time.Second)

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, BreakerClosed, b.Snapshot().State)
	assert.Zero(t, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	b.Do(func() error { return errors.New("boom") })
	clock.advance(31 * time.Second)

	b.Do(func() error { return errors.New("still down") })
	assert.Equal(t, BreakerOpen, b.Snapshot().State)

	// The cool-down restarts from the reopening.
	clock.advance(29 * time.Second)
	assert.False(t, b.Allow())
	clock.advance(2 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreaker_SnapshotExposesOpenedAt(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	assert.Nil(t, b.Snapshot().OpenedAt)

	b.Do(func() error { return errors.New("boom") })
	snap := b.Snapshot()
	require.NotNil(t, snap.OpenedAt)
	assert.Equal(t, clock.t, *snap.OpenedAt)
}
