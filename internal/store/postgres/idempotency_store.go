package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qubex-labs/qupool/internal/domain"
)

// IdempotencyStore implements domain.IdempotencyStore using PostgreSQL.
// Mutating API requests carrying an Idempotency-Key replay their cached
// response instead of re-executing within the key's TTL.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore creates a new IdempotencyStore backed by the given
// connection pool.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Get returns the cached record for a key. Absent and expired keys both
// return domain.ErrNotFound.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := s.pool.QueryRow(ctx, `
		SELECT key, status_code, response, expires_at, created_at
		FROM idempotency_records
		WHERE key = $1 AND expires_at > NOW()`,
		key,
	).Scan(&rec.Key, &rec.StatusCode, &rec.Response, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.IdempotencyRecord{}, domain.ErrNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("postgres: get idempotency key: %w", err)
	}
	return rec, nil
}

// Put stores a record, returning domain.ErrConflict when the key already
// exists.
func (s *IdempotencyStore) Put(ctx context.Context, rec domain.IdempotencyRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_records (key, status_code, response, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.Key, rec.StatusCode, rec.Response, rec.ExpiresAt, rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrConflict
		}
		return fmt.Errorf("postgres: put idempotency key: %w", err)
	}
	return nil
}

// PurgeExpired deletes records past their TTL and returns the count.
func (s *IdempotencyStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
