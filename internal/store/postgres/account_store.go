package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qubex-labs/qupool/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL. Balance
// mutations happen only inside the escrow store's compound transactions.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountCols = `address, balance_qu, total_deposited, total_withdrawn,
	total_bet, total_won, created_at, updated_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.Address, &a.BalanceQu, &a.TotalDeposited, &a.TotalWithdrawn,
		&a.TotalBet, &a.TotalWon, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

// Get retrieves one account by address.
func (s *AccountStore) Get(ctx context.Context, address string) (domain.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE address = $1`, address)
	a, err := scanAccount(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account: %w", err)
	}
	return a, nil
}

// List returns every account ordered by address. The solvency auditor reads
// the full set to build its merkle snapshot.
func (s *AccountStore) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountCols+` FROM accounts ORDER BY address ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list accounts rows: %w", err)
	}
	return accounts, nil
}

// Count returns the number of accounts.
func (s *AccountStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count accounts: %w", err)
	}
	return count, nil
}

// upsertAccountTx applies a balance delta and aggregate deltas to an account
// inside an existing transaction, creating the row on first touch. The
// balance CHECK constraint rejects any delta that would go negative.
func upsertAccountTx(ctx context.Context, tx pgx.Tx, address string, balanceDelta, depositedDelta, withdrawnDelta, betDelta, wonDelta int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (
			address, balance_qu, total_deposited, total_withdrawn,
			total_bet, total_won, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (address) DO UPDATE SET
			balance_qu      = accounts.balance_qu + EXCLUDED.balance_qu,
			total_deposited = accounts.total_deposited + EXCLUDED.total_deposited,
			total_withdrawn = accounts.total_withdrawn + EXCLUDED.total_withdrawn,
			total_bet       = accounts.total_bet + EXCLUDED.total_bet,
			total_won       = accounts.total_won + EXCLUDED.total_won,
			updated_at      = NOW()`,
		address, balanceDelta, depositedDelta, withdrawnDelta, betDelta, wonDelta,
	)
	if err != nil {
		return fmt.Errorf("postgres: adjust account %s: %w", address, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AccountStore = (*AccountStore)(nil)
