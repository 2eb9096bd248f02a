package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/qubex-labs/qupool/internal/domain"
)

// SolvencyService defines what the solvency handler needs from the auditor.
type SolvencyService interface {
	Latest(ctx context.Context) (domain.SolvencyProof, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.SolvencyProof, error)
	InclusionProof(ctx context.Context, address string) (domain.InclusionProof, error)
}

// SolvencyHandler serves the solvency proof endpoints.
type SolvencyHandler struct {
	auditor SolvencyService
	logger  *slog.Logger
}

// NewSolvencyHandler creates a SolvencyHandler.
func NewSolvencyHandler(auditor SolvencyService, logger *slog.Logger) *SolvencyHandler {
	return &SolvencyHandler{auditor: auditor, logger: logger}
}

// Latest returns the most recent solvency proof.
// GET /api/solvency/latest
func (h *SolvencyHandler) Latest(w http.ResponseWriter, r *http.Request) {
	proof, err := h.auditor.Latest(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to get latest solvency proof")
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

// List returns solvency proofs, newest first.
// GET /api/solvency/proofs?limit=50&offset=0
func (h *SolvencyHandler) List(w http.ResponseWriter, r *http.Request) {
	proofs, err := h.auditor.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to list solvency proofs")
		return
	}
	if proofs == nil {
		proofs = []domain.SolvencyProof{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"proofs": proofs})
}

// Inclusion returns a merkle inclusion proof showing one address's balance
// is counted in the latest snapshot.
// GET /api/solvency/inclusion/{address}
func (h *SolvencyHandler) Inclusion(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	proof, err := h.auditor.InclusionProof(r.Context(), address)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to build inclusion proof")
		return
	}
	writeJSON(w, http.StatusOK, proof)
}
