package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/service"
)

// BetService defines what the bet handler needs from the service layer.
type BetService interface {
	PlaceBet(ctx context.Context, req service.PlaceBetRequest) (service.PlaceBetResult, error)
	GetBet(ctx context.Context, id string) (domain.Bet, domain.Escrow, error)
	GetEscrow(ctx context.Context, id string) (domain.Escrow, error)
	CancelEscrow(ctx context.Context, id string) (domain.Escrow, error)
}

// BetHandler serves bet and escrow endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, logger: logger}
}

// PlaceBet opens a bet commitment and returns the deposit instructions.
// POST /api/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req service.PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.bets.PlaceBet(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to place bet")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// betResponse pairs a bet with its escrow.
type betResponse struct {
	Bet    domain.Bet    `json:"bet"`
	Escrow domain.Escrow `json:"escrow"`
}

// GetBet returns a bet and its escrow.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing bet id")
		return
	}

	bet, esc, err := h.bets.GetBet(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to get bet")
		return
	}
	writeJSON(w, http.StatusOK, betResponse{Bet: bet, Escrow: esc})
}

// GetEscrow returns one escrow by ID.
// GET /api/escrows/{id}
func (h *BetHandler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing escrow id")
		return
	}

	esc, err := h.bets.GetEscrow(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to get escrow")
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

// CancelEscrow voids an escrow still awaiting its deposit.
// DELETE /api/escrows/{id}
func (h *BetHandler) CancelEscrow(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing escrow id")
		return
	}

	esc, err := h.bets.CancelEscrow(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to cancel escrow")
		return
	}
	writeJSON(w, http.StatusOK, esc)
}
