package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qubex-labs/qupool/internal/domain"
)

// AttestationStore implements domain.AttestationStore using PostgreSQL.
type AttestationStore struct {
	pool *pgxpool.Pool
}

// NewAttestationStore creates a new AttestationStore backed by the given
// connection pool.
func NewAttestationStore(pool *pgxpool.Pool) *AttestationStore {
	return &AttestationStore{pool: pool}
}

// Insert persists one signed oracle reading. One attestation per market
// and source; a retried resolution pass keeps the original row.
func (s *AttestationStore) Insert(ctx context.Context, a domain.Attestation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attestations (
			id, market_id, oracle_source, pair, price,
			tick, epoch, source_timestamp, attestation_hash, server_signature,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (market_id, oracle_source) DO NOTHING`,
		a.ID, a.MarketID, a.OracleSource, a.Pair, a.Price,
		int64(a.Tick), int64(a.Epoch), a.SourceTimestamp, a.AttestationHash, a.ServerSignature,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert attestation %s: %w", a.ID, err)
	}
	return nil
}

// ListByMarket returns every attestation recorded for a market, oldest first.
func (s *AttestationStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Attestation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, oracle_source, pair, price,
		       tick, epoch, source_timestamp, attestation_hash, server_signature,
		       created_at
		FROM attestations WHERE market_id = $1 ORDER BY created_at ASC`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attestations for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var attestations []domain.Attestation
	for rows.Next() {
		var (
			a     domain.Attestation
			tick  int64
			epoch int64
		)
		if err := rows.Scan(
			&a.ID, &a.MarketID, &a.OracleSource, &a.Pair, &a.Price,
			&tick, &epoch, &a.SourceTimestamp, &a.AttestationHash, &a.ServerSignature,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan attestation: %w", err)
		}
		a.Tick = uint64(tick)
		a.Epoch = uint32(epoch)
		attestations = append(attestations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: attestation rows: %w", err)
	}
	return attestations, nil
}

// Compile-time interface check.
var _ domain.AttestationStore = (*AttestationStore)(nil)
