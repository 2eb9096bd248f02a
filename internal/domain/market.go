package domain

import "time"

// MarketStatus represents the lifecycle state of a market. Transitions are
// one-directional: a resolved or cancelled market is never resurrected.
type MarketStatus string

const (
	MarketStatusDraft     MarketStatus = "draft"
	MarketStatusActive    MarketStatus = "active"
	MarketStatusClosed    MarketStatus = "closed"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// ResolutionType selects how the oracle median is compared against the
// resolution target when a market resolves.
type ResolutionType string

const (
	ResolutionAbove   ResolutionType = "above"
	ResolutionBelow   ResolutionType = "below"
	ResolutionBetween ResolutionType = "between"
)

// Market is a peer-to-pool prediction market. Slots are the unit of
// participation; each option tracks how many slots have been filled by
// confirmed deposits.
type Market struct {
	ID               string
	Question         string
	Pair             string // oracle pair, e.g. "QUBIC/USDT"
	ResolutionType   ResolutionType
	ResolutionTarget float64
	// ResolutionTargetHigh bounds "between" markets; ignored otherwise.
	ResolutionTargetHigh float64
	Options              []string
	MaxSlots             int
	SlotsPerOption       map[int]int // option index -> confirmed slots
	MinBetQu             int64       // per-slot price in qu
	CommitmentHash       string
	ResolutionPrice      *float64
	WinningOption        *int
	Status               MarketStatus
	CloseDate            time.Time
	EndDate              time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TotalSlots returns the number of confirmed slots across all options.
func (m *Market) TotalSlots() int {
	total := 0
	for _, n := range m.SlotsPerOption {
		total += n
	}
	return total
}

// marketTransitions encodes the one-directional lifecycle.
var marketTransitions = map[MarketStatus][]MarketStatus{
	MarketStatusDraft:  {MarketStatusActive, MarketStatusCancelled},
	MarketStatusActive: {MarketStatusClosed, MarketStatusCancelled},
	MarketStatusClosed: {MarketStatusResolved, MarketStatusCancelled},
}

// CanTransition reports whether a market may move from its current status
// to the target status.
func (m *Market) CanTransition(to MarketStatus) bool {
	for _, next := range marketTransitions[m.Status] {
		if next == to {
			return true
		}
	}
	return false
}
