package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qubex-labs/qupool/internal/domain"
)

// EscrowStore implements domain.EscrowStore using PostgreSQL. Every state
// transition runs in a single transaction together with its account
// mutation and ledger entry, so custody state, balances, and the audit
// trail can never diverge.
type EscrowStore struct {
	pool *pgxpool.Pool
}

// NewEscrowStore creates a new EscrowStore backed by the given connection pool.
func NewEscrowStore(pool *pgxpool.Pool) *EscrowStore {
	return &EscrowStore{pool: pool}
}

const escrowCols = `id, bet_id, escrow_address, expected_amount_qu,
	deposit_amount_qu, status, join_bet_tx_id, sweep_tx_id,
	expires_at, created_at, updated_at`

func scanEscrow(row pgx.Row) (domain.Escrow, error) {
	var e domain.Escrow
	var status string
	err := row.Scan(
		&e.ID, &e.BetID, &e.EscrowAddress, &e.ExpectedAmountQu,
		&e.DepositAmountQu, &status, &e.JoinBetTxID, &e.SweepTxID,
		&e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return domain.Escrow{}, err
	}
	e.Status = domain.EscrowStatus(status)
	return e, nil
}

// withTx runs fn inside a transaction, committing on success.
func (s *EscrowStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// lockEscrow loads an escrow row under FOR UPDATE.
func lockEscrow(ctx context.Context, tx pgx.Tx, id string) (domain.Escrow, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+escrowCols+` FROM escrows WHERE id = $1 FOR UPDATE`, id)
	e, err := scanEscrow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Escrow{}, domain.ErrNotFound
		}
		return domain.Escrow{}, fmt.Errorf("postgres: lock escrow %s: %w", id, err)
	}
	return e, nil
}

func lockBetTx(ctx context.Context, tx pgx.Tx, id string) (domain.Bet, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+betCols+` FROM bets WHERE id = $1 FOR UPDATE`, id)
	b, err := scanBet(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: lock bet %s: %w", id, err)
	}
	return b, nil
}

func setBetStatusTx(ctx context.Context, tx pgx.Tx, betID string, status domain.BetStatus) error {
	_, err := tx.Exec(ctx,
		`UPDATE bets SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), betID,
	)
	if err != nil {
		return fmt.Errorf("postgres: set bet %s status: %w", betID, err)
	}
	return nil
}

func setEscrowStatusTx(ctx context.Context, tx pgx.Tx, escrowID string, status domain.EscrowStatus) error {
	_, err := tx.Exec(ctx,
		`UPDATE escrows SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), escrowID,
	)
	if err != nil {
		return fmt.Errorf("postgres: set escrow %s status: %w", escrowID, err)
	}
	return nil
}

// GetByID retrieves an escrow by its primary key.
func (s *EscrowStore) GetByID(ctx context.Context, id string) (domain.Escrow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+escrowCols+` FROM escrows WHERE id = $1`, id)
	e, err := scanEscrow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Escrow{}, domain.ErrNotFound
		}
		return domain.Escrow{}, fmt.Errorf("postgres: get escrow %s: %w", id, err)
	}
	return e, nil
}

// GetByBetID retrieves the escrow attached to a bet.
func (s *EscrowStore) GetByBetID(ctx context.Context, betID string) (domain.Escrow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+escrowCols+` FROM escrows WHERE bet_id = $1`, betID)
	e, err := scanEscrow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Escrow{}, domain.ErrNotFound
		}
		return domain.Escrow{}, fmt.Errorf("postgres: get escrow for bet %s: %w", betID, err)
	}
	return e, nil
}

// ListByStatus returns escrows in a given lifecycle state, oldest first.
func (s *EscrowStore) ListByStatus(ctx context.Context, status domain.EscrowStatus) ([]domain.Escrow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+escrowCols+` FROM escrows WHERE status = $1 ORDER BY created_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list escrows by status %s: %w", status, err)
	}
	defer rows.Close()

	var escrows []domain.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan escrow: %w", err)
		}
		escrows = append(escrows, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: escrow rows: %w", err)
	}
	return escrows, nil
}

// CreateWithBet persists a bet and its escrow atomically, appending the
// bet_placed ledger entry in the same transaction.
func (s *EscrowStore) CreateWithBet(ctx context.Context, b domain.Bet, e domain.Escrow) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO bets (
				id, market_id, payout_address, option_index, slots,
				amount_qu, commitment_hash, commitment_nonce, status, payout_qu,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`,
			b.ID, b.MarketID, b.PayoutAddress, b.Option, b.Slots,
			b.AmountQu, b.CommitmentHash, b.CommitmentNonce, string(b.Status), b.PayoutQu,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert bet %s: %w", b.ID, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO escrows (
				id, bet_id, escrow_address, expected_amount_qu,
				deposit_amount_qu, status, join_bet_tx_id, sweep_tx_id,
				expires_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, '', '', $7, NOW(), NOW())`,
			e.ID, e.BetID, e.EscrowAddress, e.ExpectedAmountQu,
			e.DepositAmountQu, string(e.Status), e.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert escrow %s: %w", e.ID, err)
		}

		_, err = appendLedgerTx(ctx, tx, domain.EventBetPlaced, b.ID, map[string]any{
			"betId":          b.ID,
			"marketId":       b.MarketID,
			"option":         b.Option,
			"slots":          b.Slots,
			"amountQu":       b.AmountQu,
			"commitmentHash": b.CommitmentHash,
			"escrowId":       e.ID,
			"escrowAddress":  e.EscrowAddress,
			"expiresAt":      e.ExpiresAt.UTC().Format(time.RFC3339),
		})
		return err
	})
}

// ConfirmDeposit re-checks the market status and the hard slot cap under a
// market row lock, then flips the escrow to deposit_detected, fills the
// option's slots, credits the bettor's account, and appends the
// deposit_detected ledger entry. When either check fails the deposit
// amount is still recorded so the caller can refund it, and Rejected is
// set on the outcome.
func (s *EscrowStore) ConfirmDeposit(ctx context.Context, escrowID string, amount int64) (domain.DepositOutcome, error) {
	var out domain.DepositOutcome
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		esc, err := lockEscrow(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if esc.Status != domain.EscrowAwaitingDeposit {
			return fmt.Errorf("postgres: escrow %s is %s, not awaiting_deposit: %w",
				escrowID, esc.Status, domain.ErrConflict)
		}
		bet, err := lockBetTx(ctx, tx, esc.BetID)
		if err != nil {
			return err
		}

		// Lock the market row so concurrent deposits on the same market
		// serialize through the status and cap checks.
		var (
			marketStatus string
			maxSlots     int
			slotsJSON    []byte
		)
		err = tx.QueryRow(ctx,
			`SELECT status, max_slots, slots_per_option FROM markets WHERE id = $1 FOR UPDATE`,
			bet.MarketID,
		).Scan(&marketStatus, &maxSlots, &slotsJSON)
		if err != nil {
			return fmt.Errorf("postgres: lock market %s: %w", bet.MarketID, err)
		}
		var slotsPerOption map[int]int
		if err := json.Unmarshal(slotsJSON, &slotsPerOption); err != nil {
			return fmt.Errorf("postgres: decode slots per option: %w", err)
		}
		total := 0
		for _, n := range slotsPerOption {
			total += n
		}

		// Record the deposit so the refund amount is durable; the escrow
		// stays awaiting_deposit until the caller's refund lands.
		reject := func(reason string) error {
			_, err := tx.Exec(ctx,
				`UPDATE escrows SET deposit_amount_qu = $1, updated_at = NOW() WHERE id = $2`,
				amount, escrowID,
			)
			if err != nil {
				return fmt.Errorf("postgres: record rejected deposit: %w", err)
			}
			esc.DepositAmountQu = amount
			out = domain.DepositOutcome{Escrow: esc, Rejected: true, Reason: reason}
			return nil
		}

		switch domain.MarketStatus(marketStatus) {
		case domain.MarketStatusResolved, domain.MarketStatusCancelled:
			// A deposit landing after resolution can never join the pool.
			return reject("market already " + marketStatus)
		}
		if total+bet.Slots > maxSlots {
			return reject("slot cap reached before deposit")
		}

		if slotsPerOption == nil {
			slotsPerOption = map[int]int{}
		}
		slotsPerOption[bet.Option] += bet.Slots
		newSlotsJSON, err := json.Marshal(slotsPerOption)
		if err != nil {
			return fmt.Errorf("postgres: encode slots per option: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE markets SET slots_per_option = $1, updated_at = NOW() WHERE id = $2`,
			newSlotsJSON, bet.MarketID,
		)
		if err != nil {
			return fmt.Errorf("postgres: fill market slots: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE escrows SET status = $1, deposit_amount_qu = $2, updated_at = NOW() WHERE id = $3`,
			string(domain.EscrowDepositDetected), amount, escrowID,
		)
		if err != nil {
			return fmt.Errorf("postgres: confirm deposit: %w", err)
		}

		if err := upsertAccountTx(ctx, tx, bet.PayoutAddress, amount, amount, 0, bet.AmountQu, 0); err != nil {
			return err
		}

		if _, err := appendLedgerTx(ctx, tx, domain.EventDepositDetected, esc.ID, map[string]any{
			"escrowId":      esc.ID,
			"betId":         bet.ID,
			"marketId":      bet.MarketID,
			"escrowAddress": esc.EscrowAddress,
			"amountQu":      amount,
		}); err != nil {
			return err
		}

		esc.Status = domain.EscrowDepositDetected
		esc.DepositAmountQu = amount
		out = domain.DepositOutcome{Escrow: esc}
		return nil
	})
	if err != nil {
		return domain.DepositOutcome{}, err
	}
	return out, nil
}

// MarkJoining records the join transaction id and flips the escrow to
// joining_sc. Re-running with the same tx id is a no-op on status mismatch.
func (s *EscrowStore) MarkJoining(ctx context.Context, escrowID, txID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		esc, err := lockEscrow(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if esc.Status != domain.EscrowDepositDetected {
			return fmt.Errorf("postgres: escrow %s is %s, not deposit_detected: %w",
				escrowID, esc.Status, domain.ErrConflict)
		}
		_, err = tx.Exec(ctx,
			`UPDATE escrows SET status = $1, join_bet_tx_id = $2, updated_at = NOW() WHERE id = $3`,
			string(domain.EscrowJoiningSC), txID, escrowID,
		)
		if err != nil {
			return fmt.Errorf("postgres: mark joining: %w", err)
		}
		return nil
	})
}

// MarkActive flips joining_sc to active_in_sc, confirms the bet, and
// appends the bet_joined ledger entry.
func (s *EscrowStore) MarkActive(ctx context.Context, escrowID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		esc, err := lockEscrow(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if esc.Status != domain.EscrowJoiningSC {
			return fmt.Errorf("postgres: escrow %s is %s, not joining_sc: %w",
				escrowID, esc.Status, domain.ErrConflict)
		}
		if err := setEscrowStatusTx(ctx, tx, escrowID, domain.EscrowActiveInSC); err != nil {
			return err
		}
		if err := setBetStatusTx(ctx, tx, esc.BetID, domain.BetStatusConfirmed); err != nil {
			return err
		}
		_, err = appendLedgerTx(ctx, tx, domain.EventBetJoined, esc.ID, map[string]any{
			"escrowId": esc.ID,
			"betId":    esc.BetID,
			"txId":     esc.JoinBetTxID,
			"amountQu": esc.DepositAmountQu,
		})
		return err
	})
}

// Settle applies a market resolution. The market flips closed -> resolved
// with its price and winner in the same transaction that settles every
// active escrow: winning bets move to won_awaiting_sweep with their payout
// recorded and their accounts credited with the net win; losing bets move
// to lost and their accounts debited. payouts is keyed by bet id. A market
// that is not closed returns ErrConflict and nothing changes.
func (s *EscrowStore) Settle(ctx context.Context, marketID string, winningOption int, resolutionPrice float64, payouts map[string]int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE markets SET
				status = 'resolved',
				resolution_price = $1,
				winning_option = $2,
				updated_at = NOW()
			 WHERE id = $3 AND status = 'closed'`,
			resolutionPrice, winningOption, marketID,
		)
		if err != nil {
			return fmt.Errorf("postgres: resolve market %s: %w", marketID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: market %s not closed: %w", marketID, domain.ErrConflict)
		}

		rows, err := tx.Query(ctx, `
			SELECT e.id, e.bet_id, b.payout_address, b.option_index, b.amount_qu
			FROM escrows e
			JOIN bets b ON b.id = e.bet_id
			WHERE b.market_id = $1 AND e.status = 'active_in_sc'
			ORDER BY e.created_at ASC
			FOR UPDATE OF e`,
			marketID,
		)
		if err != nil {
			return fmt.Errorf("postgres: lock active escrows: %w", err)
		}

		type settleRow struct {
			escrowID      string
			betID         string
			payoutAddress string
			option        int
			amountQu      int64
		}
		var settles []settleRow
		for rows.Next() {
			var r settleRow
			if err := rows.Scan(&r.escrowID, &r.betID, &r.payoutAddress, &r.option, &r.amountQu); err != nil {
				rows.Close()
				return fmt.Errorf("postgres: scan settle row: %w", err)
			}
			settles = append(settles, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("postgres: settle rows: %w", err)
		}

		for _, r := range settles {
			if r.option == winningOption {
				payout := payouts[r.betID]
				_, err := tx.Exec(ctx, `
					UPDATE escrows SET status = $1, updated_at = NOW() WHERE id = $2`,
					string(domain.EscrowWonAwaitingSweep), r.escrowID,
				)
				if err != nil {
					return fmt.Errorf("postgres: mark escrow won: %w", err)
				}
				_, err = tx.Exec(ctx,
					`UPDATE bets SET status = $1, payout_qu = $2, updated_at = NOW() WHERE id = $3`,
					string(domain.BetStatusWon), payout, r.betID,
				)
				if err != nil {
					return fmt.Errorf("postgres: mark bet won: %w", err)
				}
				if err := upsertAccountTx(ctx, tx, r.payoutAddress, payout-r.amountQu, 0, 0, 0, payout); err != nil {
					return err
				}
			} else {
				if err := setEscrowStatusTx(ctx, tx, r.escrowID, domain.EscrowLost); err != nil {
					return err
				}
				if err := setBetStatusTx(ctx, tx, r.betID, domain.BetStatusLost); err != nil {
					return err
				}
				if err := upsertAccountTx(ctx, tx, r.payoutAddress, -r.amountQu, 0, 0, 0, 0); err != nil {
					return err
				}
				if _, err := appendLedgerTx(ctx, tx, domain.EventBetLost, r.betID, map[string]any{
					"betId":    r.betID,
					"escrowId": r.escrowID,
					"marketId": marketID,
					"amountQu": r.amountQu,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// MarkSwept records the payout transaction, flips won_awaiting_sweep to
// swept, debits the account, and appends the payout_swept ledger entry.
func (s *EscrowStore) MarkSwept(ctx context.Context, escrowID, txID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		esc, err := lockEscrow(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if esc.Status != domain.EscrowWonAwaitingSweep {
			return fmt.Errorf("postgres: escrow %s is %s, not won_awaiting_sweep: %w",
				escrowID, esc.Status, domain.ErrConflict)
		}
		bet, err := lockBetTx(ctx, tx, esc.BetID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE escrows SET status = $1, sweep_tx_id = $2, updated_at = NOW() WHERE id = $3`,
			string(domain.EscrowSwept), txID, escrowID,
		)
		if err != nil {
			return fmt.Errorf("postgres: mark swept: %w", err)
		}
		if err := upsertAccountTx(ctx, tx, bet.PayoutAddress, -bet.PayoutQu, 0, bet.PayoutQu, 0, 0); err != nil {
			return err
		}
		_, err = appendLedgerTx(ctx, tx, domain.EventPayoutSwept, esc.ID, map[string]any{
			"escrowId":      esc.ID,
			"betId":         bet.ID,
			"payoutAddress": bet.PayoutAddress,
			"payoutQu":      bet.PayoutQu,
			"txId":          txID,
		})
		return err
	})
}

// MarkRefunded flips an escrow to refunded, recording the refund
// transaction id. Two paths lead here: a funded escrow rejected by the hard
// slot cap (still awaiting_deposit, never credited) and an active escrow on
// a cancelled market (credited at deposit time, so debited here).
func (s *EscrowStore) MarkRefunded(ctx context.Context, escrowID, txID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		esc, err := lockEscrow(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if esc.Status != domain.EscrowAwaitingDeposit && esc.Status != domain.EscrowActiveInSC {
			return fmt.Errorf("postgres: escrow %s is %s, not refundable: %w",
				escrowID, esc.Status, domain.ErrConflict)
		}
		bet, err := lockBetTx(ctx, tx, esc.BetID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE escrows SET status = $1, sweep_tx_id = $2, updated_at = NOW() WHERE id = $3`,
			string(domain.EscrowRefunded), txID, escrowID,
		)
		if err != nil {
			return fmt.Errorf("postgres: mark refunded: %w", err)
		}
		if err := setBetStatusTx(ctx, tx, bet.ID, domain.BetStatusRefunded); err != nil {
			return err
		}
		if esc.Status == domain.EscrowActiveInSC {
			if err := upsertAccountTx(ctx, tx, bet.PayoutAddress, -esc.DepositAmountQu, 0, esc.DepositAmountQu, 0, 0); err != nil {
				return err
			}
		}
		_, err = appendLedgerTx(ctx, tx, domain.EventBetRefunded, esc.ID, map[string]any{
			"escrowId":      esc.ID,
			"betId":         bet.ID,
			"payoutAddress": bet.PayoutAddress,
			"amountQu":      esc.DepositAmountQu,
			"txId":          txID,
		})
		return err
	})
}

// Cancel voids an escrow at the bettor's request. Only permitted while
// awaiting_deposit with no deposit recorded.
func (s *EscrowStore) Cancel(ctx context.Context, escrowID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		esc, err := lockEscrow(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if esc.Status != domain.EscrowAwaitingDeposit {
			return fmt.Errorf("postgres: escrow %s is %s, not awaiting_deposit: %w",
				escrowID, esc.Status, domain.ErrConflict)
		}
		if esc.DepositAmountQu != 0 {
			return fmt.Errorf("postgres: escrow %s already funded: %w", escrowID, domain.ErrConflict)
		}
		if err := setEscrowStatusTx(ctx, tx, escrowID, domain.EscrowCancelled); err != nil {
			return err
		}
		if err := setBetStatusTx(ctx, tx, esc.BetID, domain.BetStatusRefunded); err != nil {
			return err
		}
		_, err = appendLedgerTx(ctx, tx, domain.EventEscrowCancelled, esc.ID, map[string]any{
			"escrowId": esc.ID,
			"betId":    esc.BetID,
		})
		return err
	})
}

// ExpireStale transitions awaiting_deposit escrows past their expiry and
// returns the affected rows. Each expiry appends its own ledger entry.
// Only escrows with zero recorded deposit expire; a funded escrow still
// sitting in awaiting_deposit is owed a refund and must stay reachable by
// the refund path.
func (s *EscrowStore) ExpireStale(ctx context.Context, now time.Time) ([]domain.Escrow, error) {
	var expired []domain.Escrow
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+escrowCols+` FROM escrows
			 WHERE status = 'awaiting_deposit'
			   AND deposit_amount_qu = 0
			   AND expires_at <= $1
			 ORDER BY expires_at ASC
			 FOR UPDATE`,
			now,
		)
		if err != nil {
			return fmt.Errorf("postgres: lock stale escrows: %w", err)
		}
		var stale []domain.Escrow
		for rows.Next() {
			e, err := scanEscrow(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("postgres: scan stale escrow: %w", err)
			}
			stale = append(stale, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("postgres: stale escrow rows: %w", err)
		}

		for i := range stale {
			e := &stale[i]
			if err := setEscrowStatusTx(ctx, tx, e.ID, domain.EscrowExpired); err != nil {
				return err
			}
			if err := setBetStatusTx(ctx, tx, e.BetID, domain.BetStatusRefunded); err != nil {
				return err
			}
			if _, err := appendLedgerTx(ctx, tx, domain.EventEscrowExpired, e.ID, map[string]any{
				"escrowId":  e.ID,
				"betId":     e.BetID,
				"expiresAt": e.ExpiresAt.UTC().Format(time.RFC3339),
			}); err != nil {
				return err
			}
			e.Status = domain.EscrowExpired
		}
		expired = stale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// Compile-time interface check.
var _ domain.EscrowStore = (*EscrowStore)(nil)
