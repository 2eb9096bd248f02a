package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/service"
)

// MarketAdmin defines the operator-only market operations.
type MarketAdmin interface {
	CreateMarket(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error)
	CloseMarket(ctx context.Context, id string) error
	ResolveMarket(ctx context.Context, id string) (domain.Market, error)
	CancelMarket(ctx context.Context, id string) error
}

// CronControl defines the operator surface of the scheduler.
type CronControl interface {
	TriggerManual(ctx context.Context) error
	EnsureAutoCron(ctx context.Context)
	StopAutoCron()
	Running() bool
}

// AdminHandler serves operator endpoints. The server mounts these behind
// API key auth.
type AdminHandler struct {
	markets MarketAdmin
	cron    CronControl
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(markets MarketAdmin, cron CronControl, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{markets: markets, cron: cron, logger: logger}
}

// CreateMarket opens a new market for betting.
// POST /api/admin/markets
func (h *AdminHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req service.CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to create market")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// CloseMarket ends a market's betting window early.
// POST /api/admin/markets/{id}/close
func (h *AdminHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}
	if err := h.markets.CloseMarket(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, err, "failed to close market")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "market_id": id})
}

// ResolveMarket forces oracle resolution of a closed market.
// POST /api/admin/markets/{id}/resolve
func (h *AdminHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}
	m, err := h.markets.ResolveMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to resolve market")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CancelMarket voids a market and refunds joined bets.
// POST /api/admin/markets/{id}/cancel
func (h *AdminHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}
	if err := h.markets.CancelMarket(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, err, "failed to cancel market")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "market_id": id})
}

// TriggerCron runs one reconciliation cycle immediately.
// POST /api/admin/cron/trigger
func (h *AdminHandler) TriggerCron(w http.ResponseWriter, r *http.Request) {
	if err := h.cron.TriggerManual(r.Context()); err != nil {
		writeDomainError(w, r, h.logger, err, "cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// CronStatus reports whether the automatic scheduler is running.
// GET /api/admin/cron
func (h *AdminHandler) CronStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"running": h.cron.Running()})
}

// StartCron enables the automatic scheduler.
// POST /api/admin/cron/start
func (h *AdminHandler) StartCron(w http.ResponseWriter, r *http.Request) {
	// Detach from the request context; the loops must outlive it.
	h.cron.EnsureAutoCron(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

// StopCron disables the automatic scheduler.
// POST /api/admin/cron/stop
func (h *AdminHandler) StopCron(w http.ResponseWriter, r *http.Request) {
	h.cron.StopAutoCron()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}
