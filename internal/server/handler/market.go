package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/service"
)

// MarketService defines what the market handler needs from the service
// layer. Declared locally so the handler package does not depend on the
// concrete implementation.
type MarketService interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	ResolutionPackage(ctx context.Context, id string) (service.ResolutionPackage, error)
}

// MarketHandler serves the public market endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// listMarketsResponse wraps the list endpoint output.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets, optionally filtered by status.
// GET /api/markets?status=active&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	status := domain.MarketStatus(r.URL.Query().Get("status"))

	markets, err := h.markets.ListMarkets(r.Context(), status, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to list markets")
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns one market by ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to get market")
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// GetResolution returns the offline-verifiable resolution evidence for a
// market: sealed terms, signed oracle attestations, and the ledger trail.
// GET /api/markets/{id}/resolution
func (h *MarketHandler) GetResolution(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	pkg, err := h.markets.ResolutionPackage(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to build resolution package")
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}
