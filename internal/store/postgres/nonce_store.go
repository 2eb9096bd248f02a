package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qubex-labs/qupool/internal/domain"
)

// NonceStore implements domain.NonceStore using PostgreSQL. The composite
// primary key makes nonce reuse a constraint violation, which is the whole
// replay guard.
type NonceStore struct {
	pool *pgxpool.Pool
}

// NewNonceStore creates a new NonceStore backed by the given connection pool.
func NewNonceStore(pool *pgxpool.Pool) *NonceStore {
	return &NonceStore{pool: pool}
}

// Register records a nonce, returning domain.ErrConflict when the
// (address, purpose, nonce) tuple was already used.
func (s *NonceStore) Register(ctx context.Context, address, purpose, nonce string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO nonce_records (address, purpose, nonce, created_at)
		VALUES ($1, $2, $3, NOW())`,
		address, purpose, nonce,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: nonce already used: %w", domain.ErrConflict)
		}
		return fmt.Errorf("postgres: register nonce: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.NonceStore = (*NonceStore)(nil)
