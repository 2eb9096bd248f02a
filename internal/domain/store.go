package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AccountStore reads user accounts. Balances are only mutated inside the
// compound escrow-settlement transactions, never through a bare setter.
type AccountStore interface {
	Get(ctx context.Context, address string) (Account, error)
	List(ctx context.Context) ([]Account, error)
	Count(ctx context.Context) (int64, error)
}

// MarketStore persists markets. Status updates are compare-and-set on the
// source status so concurrent transitions cannot skip lifecycle steps.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	UpdateStatus(ctx context.Context, id string, from, to MarketStatus) error
	ListPastClose(ctx context.Context, now time.Time) ([]Market, error)
	ListPastEnd(ctx context.Context, now time.Time) ([]Market, error)
}

// BetStore reads bets. Bet rows are written through EscrowStore's compound
// operations so bet and escrow state never diverge.
type BetStore interface {
	GetByID(ctx context.Context, id string) (Bet, error)
	ListByMarket(ctx context.Context, marketID string) ([]Bet, error)
}

// DepositOutcome is the result of a deposit-confirmation transaction.
type DepositOutcome struct {
	Escrow Escrow
	// Rejected is set when the transaction refused the funded escrow: the
	// hard slot cap was hit, or the market already left the betting
	// lifecycle. The caller owes the user an automatic refund; Reason says
	// why.
	Rejected bool
	Reason   string
}

// EscrowStore persists escrows and executes the compound, transactional
// state transitions of the custody lifecycle. Every transition is gated on
// the escrow's current status and appends its ledger entry inside the same
// database transaction.
type EscrowStore interface {
	GetByID(ctx context.Context, id string) (Escrow, error)
	GetByBetID(ctx context.Context, betID string) (Escrow, error)
	ListByStatus(ctx context.Context, status EscrowStatus) ([]Escrow, error)

	// CreateWithBet persists the bet and its escrow atomically.
	CreateWithBet(ctx context.Context, b Bet, e Escrow) error

	// ConfirmDeposit re-checks the market status and the hard slot cap,
	// flips the escrow to deposit_detected, fills the option's slots,
	// credits the account, and appends the deposit_detected ledger entry,
	// all in one transaction. A rejected deposit keeps the escrow in
	// awaiting_deposit with the amount recorded for the refund.
	ConfirmDeposit(ctx context.Context, escrowID string, amount int64) (DepositOutcome, error)

	// MarkJoining records the join transaction id and flips
	// deposit_detected -> joining_sc.
	MarkJoining(ctx context.Context, escrowID, txID string) error

	// MarkActive flips joining_sc -> active_in_sc and confirms the bet.
	MarkActive(ctx context.Context, escrowID string) error

	// Settle applies a market resolution atomically: the market flips
	// closed -> resolved with its price and winner recorded (ErrConflict
	// otherwise), winning bets move to won_awaiting_sweep with their
	// payout, losing bets to lost, account balances follow. Either the
	// market resolves with every active escrow settled or nothing changes.
	Settle(ctx context.Context, marketID string, winningOption int, resolutionPrice float64, payouts map[string]int64) error

	// MarkSwept records the payout transaction and flips
	// won_awaiting_sweep -> swept, debiting the account.
	MarkSwept(ctx context.Context, escrowID, txID string) error

	// MarkRefunded flips a rejected or cancelled-in-pool escrow to
	// refunded, recording the refund transaction id.
	MarkRefunded(ctx context.Context, escrowID, txID string) error

	// Cancel is permitted only while awaiting_deposit with zero deposit.
	Cancel(ctx context.Context, escrowID string) error

	// ExpireStale transitions awaiting_deposit escrows with zero recorded
	// deposit past their expiry and returns the affected rows. Funded
	// escrows never expire; they stay on the refund path.
	ExpireStale(ctx context.Context, now time.Time) ([]Escrow, error)
}

// LedgerStore is the append-only hash-chained audit log. Append computes
// the payload and chain hashes under a single-writer transaction that
// enforces a strictly increasing, gapless sequence.
type LedgerStore interface {
	Append(ctx context.Context, kind EventKind, entityID string, payload map[string]any) (LedgerEntry, error)
	List(ctx context.Context, opts ListOpts) ([]LedgerEntry, error)
	// ListAscending returns entries ordered by sequence from the given
	// sequence number (inclusive); seq 0 replays from genesis.
	ListAscending(ctx context.Context, fromSeq int64, limit int) ([]LedgerEntry, error)
	ListByEntity(ctx context.Context, entityID string) ([]LedgerEntry, error)
	Head(ctx context.Context) (seq int64, chainHash string, err error)
}

// AttestationStore persists signed oracle readings.
type AttestationStore interface {
	Insert(ctx context.Context, a Attestation) error
	ListByMarket(ctx context.Context, marketID string) ([]Attestation, error)
}

// SolvencyStore persists append-only solvency snapshots together with the
// leaf set each root was built from.
type SolvencyStore interface {
	Insert(ctx context.Context, p SolvencyProof, leaves []ProofLeaf) error
	Latest(ctx context.Context) (SolvencyProof, error)
	List(ctx context.Context, opts ListOpts) ([]SolvencyProof, error)
	Leaves(ctx context.Context, proofID string) ([]ProofLeaf, error)
}

// IdempotencyStore caches responses of mutating requests by client key.
type IdempotencyStore interface {
	// Get returns ErrNotFound for absent or expired keys.
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	// Put returns ErrConflict when the key already exists.
	Put(ctx context.Context, rec IdempotencyRecord) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// NonceStore is the replay guard for signed requests.
type NonceStore interface {
	// Register returns ErrConflict when the (address, purpose, nonce)
	// tuple was already used.
	Register(ctx context.Context, address, purpose, nonce string) error
}
