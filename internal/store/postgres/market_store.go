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

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, question, pair, resolution_type, resolution_target,
	resolution_target_high, options, max_slots, slots_per_option, min_bet_qu,
	commitment_hash, resolution_price, winning_option, status,
	close_date, end_date, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m           domain.Market
		resType     string
		status      string
		optionsJSON []byte
		slotsJSON   []byte
	)
	err := row.Scan(
		&m.ID, &m.Question, &m.Pair, &resType, &m.ResolutionTarget,
		&m.ResolutionTargetHigh, &optionsJSON, &m.MaxSlots, &slotsJSON, &m.MinBetQu,
		&m.CommitmentHash, &m.ResolutionPrice, &m.WinningOption, &status,
		&m.CloseDate, &m.EndDate, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.ResolutionType = domain.ResolutionType(resType)
	m.Status = domain.MarketStatus(status)
	if err := json.Unmarshal(optionsJSON, &m.Options); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: decode market options: %w", err)
	}
	if err := json.Unmarshal(slotsJSON, &m.SlotsPerOption); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: decode slots per option: %w", err)
	}
	return m, nil
}

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	optionsJSON, err := json.Marshal(m.Options)
	if err != nil {
		return fmt.Errorf("postgres: encode market options: %w", err)
	}
	slots := m.SlotsPerOption
	if slots == nil {
		slots = map[int]int{}
	}
	slotsJSON, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("postgres: encode slots per option: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO markets (
			id, question, pair, resolution_type, resolution_target,
			resolution_target_high, options, max_slots, slots_per_option, min_bet_qu,
			commitment_hash, status, close_date, end_date, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, NOW(), NOW()
		)`,
		m.ID, m.Question, m.Pair, string(m.ResolutionType), m.ResolutionTarget,
		m.ResolutionTargetHigh, optionsJSON, m.MaxSlots, slotsJSON, m.MinBetQu,
		m.CommitmentHash, string(m.Status), m.CloseDate, m.EndDate,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets, optionally filtered by status, newest first.
func (s *MarketStore) List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryMarkets(ctx, query, args...)
}

func (s *MarketStore) queryMarkets(ctx context.Context, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}

// UpdateStatus moves a market from one status to another. It returns
// domain.ErrConflict when the market is no longer in the source status, so
// concurrent transitions cannot race past each other.
func (s *MarketStore) UpdateStatus(ctx context.Context, id string, from, to domain.MarketStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("postgres: update market status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %s not in status %s: %w", id, from, domain.ErrConflict)
	}
	return nil
}

// ListPastClose returns active markets whose betting window has ended.
func (s *MarketStore) ListPastClose(ctx context.Context, now time.Time) ([]domain.Market, error) {
	return s.queryMarkets(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE status = 'active' AND close_date <= $1
		 ORDER BY close_date ASC`,
		now,
	)
}

// ListPastEnd returns closed markets that have reached resolution time.
func (s *MarketStore) ListPastEnd(ctx context.Context, now time.Time) ([]domain.Market, error) {
	return s.queryMarkets(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE status = 'closed' AND end_date <= $1
		 ORDER BY end_date ASC`,
		now,
	)
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
