package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qubex-labs/qupool/internal/domain"
)

// Exporter writes solvency proofs and ledger segments to the audit bucket
// so external auditors can verify them without access to the database.
type Exporter struct {
	writer *Writer
	prefix string
	logger *slog.Logger
}

// NewExporter creates an Exporter. prefix namespaces all keys and may be
// empty.
func NewExporter(writer *Writer, prefix string, logger *slog.Logger) *Exporter {
	return &Exporter{
		writer: writer,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// proofExport is the on-bucket shape of a solvency proof: the proof header
// plus the full leaf snapshot the merkle root was built from.
type proofExport struct {
	Proof  domain.SolvencyProof `json:"proof"`
	Leaves []domain.ProofLeaf   `json:"leaves"`
}

// ExportProof uploads one solvency proof with its leaf snapshot. Keys are
// date-partitioned for lifecycle rules on the bucket.
func (e *Exporter) ExportProof(ctx context.Context, p domain.SolvencyProof, leaves []domain.ProofLeaf) error {
	body, err := json.Marshal(proofExport{Proof: p, Leaves: leaves})
	if err != nil {
		return fmt.Errorf("s3blob: marshal proof %s: %w", p.ID, err)
	}

	key := e.key(fmt.Sprintf("solvency/%s/proof-%s.json", p.CreatedAt.UTC().Format("2006/01/02"), p.ID))
	if err := e.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "solvency proof exported",
		slog.String("proof_id", p.ID),
		slog.String("key", key),
	)
	return nil
}

// ExportLedgerSegment uploads a contiguous run of ledger entries. The key
// embeds the sequence range so segments line up for replay.
func (e *Exporter) ExportLedgerSegment(ctx context.Context, entries []domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("s3blob: marshal ledger segment: %w", err)
	}

	from := entries[0].SequenceNum
	to := entries[len(entries)-1].SequenceNum
	key := e.key(fmt.Sprintf("ledger/segment-%012d-%012d.json", from, to))
	if err := e.writer.PutMultipart(ctx, key, bytes.NewReader(body), minPartSize); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "ledger segment exported",
		slog.Int64("from_seq", from),
		slog.Int64("to_seq", to),
		slog.String("key", key),
	)
	return nil
}

func (e *Exporter) key(suffix string) string {
	if e.prefix == "" {
		return suffix
	}
	return e.prefix + "/" + suffix
}
