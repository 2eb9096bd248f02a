package solvency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qubex-labs/qupool/internal/chain"
	"github.com/qubex-labs/qupool/internal/domain"
)

// Alerter is the notification surface the auditor needs. Satisfied by
// notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Auditor snapshots user balances into a merkle root and compares the total
// liability against the custody address balance on chain.
type Auditor struct {
	accounts      domain.AccountStore
	proofs        domain.SolvencyStore
	ledger        domain.LedgerStore
	chain         chain.Client
	alerter       Alerter
	masterAddress string
	logger        *slog.Logger
}

// NewAuditor wires an Auditor. alerter may be nil when no notification
// channels are configured.
func NewAuditor(
	accounts domain.AccountStore,
	proofs domain.SolvencyStore,
	ledger domain.LedgerStore,
	chainClient chain.Client,
	alerter Alerter,
	masterAddress string,
	logger *slog.Logger,
) *Auditor {
	return &Auditor{
		accounts:      accounts,
		proofs:        proofs,
		ledger:        ledger,
		chain:         chainClient,
		alerter:       alerter,
		masterAddress: masterAddress,
		logger:        logger.With(slog.String("component", "solvency")),
	}
}

// GenerateProof takes a fresh snapshot, persists it, and appends a
// solvency_snapshot ledger entry. An insolvent snapshot is still persisted;
// it raises an alert rather than an error so the audit trail keeps moving.
func (a *Auditor) GenerateProof(ctx context.Context) (domain.SolvencyProof, error) {
	accounts, err := a.accounts.List(ctx)
	if err != nil {
		return domain.SolvencyProof{}, fmt.Errorf("solvency: list accounts: %w", err)
	}

	leaves := make([]domain.ProofLeaf, 0, len(accounts))
	var total int64
	for _, acc := range accounts {
		leaves = append(leaves, domain.ProofLeaf{Address: acc.Address, BalanceQu: acc.BalanceQu})
		total += acc.BalanceQu
	}
	tree := BuildTree(leaves)

	onChain, err := a.chain.GetBalance(ctx, a.masterAddress)
	if err != nil {
		return domain.SolvencyProof{}, fmt.Errorf("solvency: master balance: %w", err)
	}
	tick, err := a.chain.GetTickInfo(ctx)
	if err != nil {
		return domain.SolvencyProof{}, fmt.Errorf("solvency: tick info: %w", err)
	}

	proof := domain.SolvencyProof{
		ID:               uuid.NewString(),
		MerkleRoot:       tree.Root(),
		TotalUserBalance: total,
		OnChainBalance:   onChain,
		IsSolvent:        onChain >= total,
		AccountCount:     len(leaves),
		Tick:             tick.Tick,
		Epoch:            tick.Epoch,
		CreatedAt:        time.Now().UTC(),
	}
	if err := a.proofs.Insert(ctx, proof, tree.Leaves()); err != nil {
		return domain.SolvencyProof{}, fmt.Errorf("solvency: insert proof: %w", err)
	}

	if _, err := a.ledger.Append(ctx, domain.EventSolvencySnapshot, proof.ID, map[string]any{
		"merkleRoot":       proof.MerkleRoot,
		"totalUserBalance": proof.TotalUserBalance,
		"onChainBalance":   proof.OnChainBalance,
		"isSolvent":        proof.IsSolvent,
		"accountCount":     proof.AccountCount,
		"tick":             proof.Tick,
	}); err != nil {
		return domain.SolvencyProof{}, fmt.Errorf("solvency: ledger append: %w", err)
	}

	a.logger.InfoContext(ctx, "solvency proof generated",
		slog.String("proof_id", proof.ID),
		slog.Int64("total_user_balance", total),
		slog.Int64("on_chain_balance", onChain),
		slog.Bool("solvent", proof.IsSolvent),
	)

	if !proof.IsSolvent && a.alerter != nil {
		msg := fmt.Sprintf("liabilities %d qu exceed reserves %d qu at tick %d (deficit %d qu)",
			total, onChain, tick.Tick, total-onChain)
		if nerr := a.alerter.Notify(ctx, "insolvency", "Solvency check failed", msg); nerr != nil {
			a.logger.ErrorContext(ctx, "insolvency alert failed", slog.String("error", nerr.Error()))
		}
	}
	return proof, nil
}

// Latest returns the most recent stored proof.
func (a *Auditor) Latest(ctx context.Context) (domain.SolvencyProof, error) {
	return a.proofs.Latest(ctx)
}

// List returns stored proofs newest first.
func (a *Auditor) List(ctx context.Context, opts domain.ListOpts) ([]domain.SolvencyProof, error) {
	return a.proofs.List(ctx, opts)
}

// InclusionProof rebuilds the latest snapshot's tree and returns the merkle
// path for one address. Addresses with no balance at snapshot time get
// ErrNotFound.
func (a *Auditor) InclusionProof(ctx context.Context, address string) (domain.InclusionProof, error) {
	if !domain.ValidAddress(address) {
		return domain.InclusionProof{}, fmt.Errorf("solvency: malformed address: %w", domain.ErrValidation)
	}
	latest, err := a.proofs.Latest(ctx)
	if err != nil {
		return domain.InclusionProof{}, fmt.Errorf("solvency: latest proof: %w", err)
	}
	leaves, err := a.proofs.Leaves(ctx, latest.ID)
	if err != nil {
		return domain.InclusionProof{}, fmt.Errorf("solvency: proof leaves: %w", err)
	}
	proof, err := BuildTree(leaves).Proof(address)
	if err != nil {
		return domain.InclusionProof{}, err
	}
	proof.ProofID = latest.ID
	return proof, nil
}
