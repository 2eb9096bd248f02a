package chain

import (
	"fmt"
	"sync"
	"time"

	"github.com/qubex-labs/qupool/internal/domain"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState string

const (
	// BreakerClosed passes calls through normally.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen short-circuits every call until the cool-down elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen allows exactly one trial call after the cool-down.
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker is a circuit breaker: closed -> open after a run of consecutive
// failures, open -> half-open once the cool-down elapses, half-open ->
// closed on a successful trial call or back to open on failure.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time

	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker that opens after failureThreshold
// consecutive failures and probes again after cooldown.
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
		state:            BreakerClosed,
	}
}

// Allow reports whether a call may proceed, moving open -> half-open when
// the cool-down has elapsed. In half-open only the single trial call that
// triggered the transition is admitted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	case BreakerHalfOpen:
		// The call that moved the breaker to half-open is the single
		// trial; anything arriving before its verdict is rejected.
		return false
	}
	return false
}

// RecordSuccess resets the breaker to closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
}

// RecordFailure counts a failure, opening the breaker when the threshold
// is reached or when a half-open trial fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// Do runs fn under the breaker, short-circuiting with
// domain.ErrUpstreamUnavailable when the circuit is open.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return fmt.Errorf("chain: circuit open: %w", domain.ErrUpstreamUnavailable)
	}

	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}

	b.RecordSuccess()
	return nil
}

// BreakerSnapshot is a point-in-time view of the breaker for health checks.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	FailureThreshold    int          `json:"failureThreshold"`
	CooldownSeconds     int          `json:"cooldownSeconds"`
	OpenedAt            *time.Time   `json:"openedAt,omitempty"`
}

// Snapshot returns the breaker's current state for health reporting.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		FailureThreshold:    b.failureThreshold,
		CooldownSeconds:     int(b.cooldown.Seconds()),
	}
	if b.state != BreakerClosed && !b.openedAt.IsZero() {
		t := b.openedAt
		snap.OpenedAt = &t
	}
	return snap
}
