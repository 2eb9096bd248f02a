package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/ledger"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Appends lock
// the single ledger_head row so sequence numbers are gapless even under
// concurrent writers.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// appendLedgerTx writes one ledger entry inside an existing transaction.
// The compound escrow and market operations call this so their state change
// and its audit record commit or roll back together.
func appendLedgerTx(ctx context.Context, tx pgx.Tx, kind domain.EventKind, entityID string, payload map[string]any) (domain.LedgerEntry, error) {
	var (
		headSeq  int64
		headHash string
	)
	err := tx.QueryRow(ctx,
		`SELECT head_seq, head_hash FROM ledger_head WHERE singleton FOR UPDATE`,
	).Scan(&headSeq, &headHash)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("postgres: lock ledger head: %w", err)
	}

	canonical, err := ledger.Canonicalize(payload)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	entry := domain.LedgerEntry{
		SequenceNum: headSeq + 1,
		EventType:   kind,
		EntityID:    entityID,
		PayloadHash: ledger.PayloadHash(canonical),
		PrevHash:    headHash,
		PayloadJSON: string(canonical),
		CreatedAt:   time.Now().UTC(),
	}
	entry.ChainHash = ledger.ChainHash(entry.PrevHash, entry.PayloadHash, entry.SequenceNum)

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (
			sequence_num, event_type, entity_id,
			payload_hash, prev_hash, chain_hash,
			payload_json, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.SequenceNum, string(entry.EventType), entry.EntityID,
		entry.PayloadHash, entry.PrevHash, entry.ChainHash,
		entry.PayloadJSON, entry.CreatedAt,
	)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("postgres: insert ledger entry: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE ledger_head SET head_seq = $1, head_hash = $2 WHERE singleton`,
		entry.SequenceNum, entry.ChainHash,
	)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("postgres: advance ledger head: %w", err)
	}

	return entry, nil
}

// Append writes one entry in its own transaction.
func (s *LedgerStore) Append(ctx context.Context, kind domain.EventKind, entityID string, payload map[string]any) (domain.LedgerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("postgres: begin ledger append: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := appendLedgerTx(ctx, tx, kind, entityID, payload)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("postgres: commit ledger append: %w", err)
	}
	return entry, nil
}

const ledgerCols = `sequence_num, event_type, entity_id,
	payload_hash, prev_hash, chain_hash, payload_json, created_at`

func scanLedgerEntry(row pgx.Row) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var eventType string
	err := row.Scan(
		&e.SequenceNum, &eventType, &e.EntityID,
		&e.PayloadHash, &e.PrevHash, &e.ChainHash,
		&e.PayloadJSON, &e.CreatedAt,
	)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	e.EventType = domain.EventKind(eventType)
	return e, nil
}

func (s *LedgerStore) queryEntries(ctx context.Context, query string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query ledger: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ledger rows: %w", err)
	}
	return entries, nil
}

// List returns entries newest first with pagination.
func (s *LedgerStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	return s.queryEntries(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries
		 ORDER BY sequence_num DESC LIMIT $1 OFFSET $2`,
		limit, opts.Offset,
	)
}

// ListAscending returns entries ordered by sequence starting at fromSeq
// (inclusive). Passing 0 replays from genesis.
func (s *LedgerStore) ListAscending(ctx context.Context, fromSeq int64, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.queryEntries(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries
		 WHERE sequence_num >= $1 ORDER BY sequence_num ASC LIMIT $2`,
		fromSeq, limit,
	)
}

// ListByEntity returns every entry touching one entity, oldest first.
func (s *LedgerStore) ListByEntity(ctx context.Context, entityID string) ([]domain.LedgerEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries
		 WHERE entity_id = $1 ORDER BY sequence_num ASC`,
		entityID,
	)
}

// Head returns the current head sequence and chain hash.
func (s *LedgerStore) Head(ctx context.Context) (int64, string, error) {
	var (
		seq  int64
		hash string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT head_seq, head_hash FROM ledger_head WHERE singleton`,
	).Scan(&seq, &hash)
	if err != nil {
		return 0, "", fmt.Errorf("postgres: ledger head: %w", err)
	}
	return seq, hash, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
