package domain

import (
	"fmt"
	"time"
)

// EventKind is the closed set of ledger event types. Keeping the set closed
// forces every consumer switch to account for new kinds when they are added.
type EventKind string

const (
	EventBetPlaced        EventKind = "bet_placed"
	EventDepositDetected  EventKind = "deposit_detected"
	EventBetJoined        EventKind = "bet_joined"
	EventBetRefunded      EventKind = "bet_refunded"
	EventEscrowExpired    EventKind = "escrow_expired"
	EventEscrowCancelled  EventKind = "escrow_cancelled"
	EventMarketCreated    EventKind = "market_created"
	EventMarketClosed     EventKind = "market_closed"
	EventMarketResolved   EventKind = "market_resolved"
	EventMarketCancelled  EventKind = "market_cancelled"
	EventPayoutSwept      EventKind = "payout_swept"
	EventBetLost          EventKind = "bet_lost"
	EventSolvencySnapshot EventKind = "solvency_snapshot"
)

// ParseEventKind validates a stored event type string against the closed set.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case EventBetPlaced, EventDepositDetected, EventBetJoined, EventBetRefunded,
		EventEscrowExpired, EventEscrowCancelled, EventMarketCreated,
		EventMarketClosed, EventMarketResolved, EventMarketCancelled,
		EventPayoutSwept, EventBetLost, EventSolvencySnapshot:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown ledger event kind %q", ErrValidation, s)
	}
}

// LedgerEntry is one row of the hash-chained audit log. SequenceNum is
// strictly increasing and gapless; ChainHash links each row to its
// predecessor so any rewrite of history is detectable by replay.
type LedgerEntry struct {
	SequenceNum int64
	EventType   EventKind
	EntityID    string
	PayloadHash string
	PrevHash    string
	ChainHash   string
	PayloadJSON string
	CreatedAt   time.Time
}
