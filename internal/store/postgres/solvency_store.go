package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qubex-labs/qupool/internal/domain"
)

// SolvencyStore implements domain.SolvencyStore using PostgreSQL. Proofs
// are append-only; the leaf snapshot is stored alongside each root so
// inclusion proofs stay servable after balances move on.
type SolvencyStore struct {
	pool *pgxpool.Pool
}

// NewSolvencyStore creates a new SolvencyStore backed by the given
// connection pool.
func NewSolvencyStore(pool *pgxpool.Pool) *SolvencyStore {
	return &SolvencyStore{pool: pool}
}

const solvencyCols = `id, merkle_root, total_user_balance, on_chain_balance,
	is_solvent, account_count, tick, epoch, created_at`

func scanSolvencyProof(row pgx.Row) (domain.SolvencyProof, error) {
	var (
		p     domain.SolvencyProof
		tick  int64
		epoch int64
	)
	err := row.Scan(
		&p.ID, &p.MerkleRoot, &p.TotalUserBalance, &p.OnChainBalance,
		&p.IsSolvent, &p.AccountCount, &tick, &epoch, &p.CreatedAt,
	)
	if err != nil {
		return domain.SolvencyProof{}, err
	}
	p.Tick = uint64(tick)
	p.Epoch = uint32(epoch)
	return p, nil
}

// Insert persists a proof together with its leaf snapshot.
func (s *SolvencyStore) Insert(ctx context.Context, p domain.SolvencyProof, leaves []domain.ProofLeaf) error {
	if leaves == nil {
		leaves = []domain.ProofLeaf{}
	}
	leavesJSON, err := json.Marshal(leaves)
	if err != nil {
		return fmt.Errorf("postgres: encode proof leaves: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO solvency_proofs (
			id, merkle_root, total_user_balance, on_chain_balance,
			is_solvent, account_count, tick, epoch, leaves, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.MerkleRoot, p.TotalUserBalance, p.OnChainBalance,
		p.IsSolvent, p.AccountCount, int64(p.Tick), int64(p.Epoch), leavesJSON, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert solvency proof %s: %w", p.ID, err)
	}
	return nil
}

// Latest returns the most recent proof.
func (s *SolvencyStore) Latest(ctx context.Context) (domain.SolvencyProof, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+solvencyCols+` FROM solvency_proofs ORDER BY created_at DESC LIMIT 1`)
	p, err := scanSolvencyProof(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SolvencyProof{}, domain.ErrNotFound
		}
		return domain.SolvencyProof{}, fmt.Errorf("postgres: latest solvency proof: %w", err)
	}
	return p, nil
}

// List returns proofs newest first with pagination.
func (s *SolvencyStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.SolvencyProof, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+solvencyCols+` FROM solvency_proofs
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list solvency proofs: %w", err)
	}
	defer rows.Close()

	var proofs []domain.SolvencyProof
	for rows.Next() {
		p, err := scanSolvencyProof(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan solvency proof: %w", err)
		}
		proofs = append(proofs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: solvency proof rows: %w", err)
	}
	return proofs, nil
}

// Leaves returns the leaf snapshot a proof was built from.
func (s *SolvencyStore) Leaves(ctx context.Context, proofID string) ([]domain.ProofLeaf, error) {
	var leavesJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT leaves FROM solvency_proofs WHERE id = $1`, proofID,
	).Scan(&leavesJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: proof leaves %s: %w", proofID, err)
	}
	var leaves []domain.ProofLeaf
	if err := json.Unmarshal(leavesJSON, &leaves); err != nil {
		return nil, fmt.Errorf("postgres: decode proof leaves: %w", err)
	}
	return leaves, nil
}

// Compile-time interface check.
var _ domain.SolvencyStore = (*SolvencyStore)(nil)
