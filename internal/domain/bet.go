package domain

import "time"

// BetStatus represents the lifecycle state of a bet. A bet is 1:1 with an
// escrow; its status follows the escrow through deposit and settlement.
type BetStatus string

const (
	BetStatusPending   BetStatus = "pending"
	BetStatusConfirmed BetStatus = "confirmed"
	BetStatusWon       BetStatus = "won"
	BetStatusLost      BetStatus = "lost"
	BetStatusRefunded  BetStatus = "refunded"
)

// Bet records a user's committed position on a market option. The
// commitment hash is computed from the bet terms and a secret nonce before
// the outcome is known; revealing the nonce later proves the terms were
// fixed prior to resolution.
type Bet struct {
	ID              string
	MarketID        string
	PayoutAddress   string
	Option          int
	Slots           int
	AmountQu        int64
	CommitmentHash  string
	CommitmentNonce string
	Status          BetStatus
	PayoutQu        int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
