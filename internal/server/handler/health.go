package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/qubex-labs/qupool/internal/chain"
)

// Pinger is a connectivity probe for a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and dependency status.
type HealthHandler struct {
	db     Pinger
	cache  Pinger
	rpc    *chain.Resilient
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. db, cache, and rpc may each be
// nil when the corresponding dependency is disabled.
func NewHealthHandler(db, cache Pinger, rpc *chain.Resilient, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, rpc: rpc, logger: logger}
}

// HealthCheck reports overall status plus per-dependency detail. The RPC
// section exposes the circuit breaker so operators can see an open circuit
// before it pages them.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	deps := map[string]any{}

	probe := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			status = "degraded"
			deps[name] = map[string]string{"status": "down", "error": err.Error()}
			return
		}
		deps[name] = map[string]string{"status": "up"}
	}
	probe("postgres", h.db)
	probe("redis", h.cache)

	if h.rpc != nil {
		snap := h.rpc.Breaker().Snapshot()
		if snap.State != chain.BreakerClosed {
			status = "degraded"
		}
		deps["rpc"] = map[string]any{
			"breaker":   snap,
			"endpoints": h.rpc.Endpoints(),
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
