package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qubex-labs/qupool/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL. Bet rows are written
// through the escrow store's compound transactions; this store only reads.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betCols = `id, market_id, payout_address, option_index, slots,
	amount_qu, commitment_hash, commitment_nonce, status, payout_qu,
	created_at, updated_at`

func scanBet(row pgx.Row) (domain.Bet, error) {
	var b domain.Bet
	var status string
	err := row.Scan(
		&b.ID, &b.MarketID, &b.PayoutAddress, &b.Option, &b.Slots,
		&b.AmountQu, &b.CommitmentHash, &b.CommitmentNonce, &status, &b.PayoutQu,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}
	b.Status = domain.BetStatus(status)
	return b, nil
}

// GetByID retrieves a bet by its primary key.
func (s *BetStore) GetByID(ctx context.Context, id string) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betCols+` FROM bets WHERE id = $1`, id)
	b, err := scanBet(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return b, nil
}

// ListByMarket returns every bet on a market, oldest first.
func (s *BetStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betCols+` FROM bets WHERE market_id = $1 ORDER BY created_at ASC`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: bet rows: %w", err)
	}
	return bets, nil
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
