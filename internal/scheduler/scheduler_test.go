package scheduler

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepIndex returns the position of a named step in the cycle, failing the
// test when the step is missing.
func stepIndex(t *testing.T, steps []cycleStep, name string) int {
	t.Helper()
	i := slices.IndexFunc(steps, func(s cycleStep) bool { return s.name == name })
	require.GreaterOrEqual(t, i, 0, "cycle has no step %q", name)
	return i
}

func TestCycleSteps_Order(t *testing.T) {
	s := &Scheduler{}
	steps := s.cycleSteps()

	assert.Equal(t, []string{
		"check_deposits",
		"expire_stale",
		"execute_joins",
		"close_due_markets",
		"resolve_due_markets",
		"refund_stragglers",
		"execute_sweeps",
		"purge_idempotency",
	}, func() []string {
		names := make([]string, len(steps))
		for i, st := range steps {
			names[i] = st.name
		}
		return names
	}())
}

func TestCycleSteps_DepositsConfirmBeforeExpiry(t *testing.T) {
	// An escrow funded at the edge of its deposit window must be confirmed
	// before expiry runs, otherwise the deposit is stranded on an expired
	// escrow with no refund path.
	s := &Scheduler{}
	steps := s.cycleSteps()

	assert.Less(t, stepIndex(t, steps, "check_deposits"), stepIndex(t, steps, "expire_stale"))
}

func TestCycleSteps_StragglersRefundAfterResolution(t *testing.T) {
	// A join confirmed after settlement leaves its escrow active on a
	// resolved market; the straggler sweep must run after resolution so
	// those escrows are refunded in the same cycle.
	s := &Scheduler{}
	steps := s.cycleSteps()

	assert.Less(t, stepIndex(t, steps, "resolve_due_markets"), stepIndex(t, steps, "refund_stragglers"))
}
