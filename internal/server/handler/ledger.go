package handler

import (
	"log/slog"
	"net/http"

	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/ledger"
)

// verifyBatch bounds one page of the full-chain replay.
const verifyBatch = 1000

// LedgerHandler serves the audit ledger endpoints.
type LedgerHandler struct {
	ledgers domain.LedgerStore
	logger  *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledgers domain.LedgerStore, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledgers: ledgers, logger: logger}
}

// listEntriesResponse wraps the entry list with the current head.
type listEntriesResponse struct {
	Entries  []domain.LedgerEntry `json:"entries"`
	HeadSeq  int64                `json:"headSeq"`
	HeadHash string               `json:"headHash"`
}

// ListEntries returns ledger entries, newest first.
// GET /api/ledger?limit=50&offset=0
func (h *LedgerHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entries, err := h.ledgers.List(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to list ledger entries")
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}

	seq, hash, err := h.ledgers.Head(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to read ledger head")
		return
	}

	writeJSON(w, http.StatusOK, listEntriesResponse{
		Entries:  entries,
		HeadSeq:  seq,
		HeadHash: hash,
	})
}

// EntityHistory returns the full ledger trail for one entity, oldest first.
// GET /api/ledger/entity/{id}
func (h *LedgerHandler) EntityHistory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing entity id")
		return
	}

	entries, err := h.ledgers.ListByEntity(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to list entity history")
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// VerifyChain replays the whole ledger from genesis and reports whether
// every hash still checks out.
// GET /api/ledger/verify
func (h *LedgerHandler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	var all []domain.LedgerEntry
	fromSeq := int64(1)
	for {
		batch, err := h.ledgers.ListAscending(r.Context(), fromSeq, verifyBatch)
		if err != nil {
			writeDomainError(w, r, h.logger, err, "failed to read ledger for verification")
			return
		}
		all = append(all, batch...)
		if len(batch) < verifyBatch {
			break
		}
		fromSeq = batch[len(batch)-1].SequenceNum + 1
	}

	result := ledger.VerifyChain(all)
	code := http.StatusOK
	if !result.Valid {
		// A broken chain is an operational emergency, not a client error.
		code = http.StatusConflict
		h.logger.ErrorContext(r.Context(), "ledger chain verification failed",
			slog.Int64("broken_at", result.BrokenAt),
		)
	}
	writeJSON(w, code, result)
}
