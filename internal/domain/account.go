package domain

import "time"

// Account tracks a user's platform balance and lifetime aggregates. The
// balance only moves through confirmed deposits, withdrawals, and settled
// bet outcomes; it is never allowed to go negative.
type Account struct {
	Address        string
	BalanceQu      int64
	TotalDeposited int64
	TotalWithdrawn int64
	TotalBet       int64
	TotalWon       int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
