package domain

import "time"

// EscrowStatus is the state machine driving per-bet custody. Terminal
// states are swept, lost, refunded, expired, and cancelled; an escrow is
// never physically deleted.
type EscrowStatus string

const (
	EscrowAwaitingDeposit  EscrowStatus = "awaiting_deposit"
	EscrowDepositDetected  EscrowStatus = "deposit_detected"
	EscrowJoiningSC        EscrowStatus = "joining_sc"
	EscrowActiveInSC       EscrowStatus = "active_in_sc"
	EscrowWonAwaitingSweep EscrowStatus = "won_awaiting_sweep"
	EscrowSwept            EscrowStatus = "swept"
	EscrowLost             EscrowStatus = "lost"
	EscrowRefunded         EscrowStatus = "refunded"
	EscrowExpired          EscrowStatus = "expired"
	EscrowCancelled        EscrowStatus = "cancelled"
)

// escrowTransitions enumerates every legal move. The awaiting_deposit ->
// refunded edge covers funded escrows rejected by the hard slot-cap check,
// which are auto-refunded rather than held.
var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowAwaitingDeposit:  {EscrowDepositDetected, EscrowExpired, EscrowCancelled, EscrowRefunded},
	EscrowDepositDetected:  {EscrowJoiningSC},
	EscrowJoiningSC:        {EscrowActiveInSC},
	EscrowActiveInSC:       {EscrowWonAwaitingSweep, EscrowLost, EscrowRefunded},
	EscrowWonAwaitingSweep: {EscrowSwept},
}

// CanTransition reports whether s may move to the target status.
func (s EscrowStatus) CanTransition(to EscrowStatus) bool {
	for _, next := range escrowTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a terminal state.
func (s EscrowStatus) Terminal() bool {
	switch s {
	case EscrowSwept, EscrowLost, EscrowRefunded, EscrowExpired, EscrowCancelled:
		return true
	}
	return false
}

// Escrow is the custody record bridging a user's deposit to on-chain
// settlement. Each escrow owns a unique deposit address allocated at bet
// placement.
type Escrow struct {
	ID               string
	BetID            string
	EscrowAddress    string
	ExpectedAmountQu int64
	DepositAmountQu  int64
	Status           EscrowStatus
	JoinBetTxID      string
	SweepTxID        string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
