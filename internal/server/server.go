// Package server exposes the custody layer over HTTP and WebSocket: public
// market, bet, ledger, and solvency endpoints plus an API-key-guarded admin
// surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/server/handler"
	"github.com/qubex-labs/qupool/internal/server/middleware"
	"github.com/qubex-labs/qupool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // empty disables admin auth
	RateLimit   int    // requests per client IP per RateWindow; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates everything the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Bets     *handler.BetHandler
	Ledger   *handler.LedgerHandler
	Solvency *handler.SolvencyHandler
	Admin    *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. idem
// backs Idempotency-Key replay on mutating endpoints; limiter may be nil.
func NewServer(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	idem domain.IdempotencyStore,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	// Health (no auth).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Markets.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/resolution", handlers.Markets.GetResolution)

	// Bets and escrows.
	mux.HandleFunc("POST /api/bets", handler.Idempotent(idem, logger, handlers.Bets.PlaceBet))
	mux.HandleFunc("GET /api/bets/{id}", handlers.Bets.GetBet)
	mux.HandleFunc("GET /api/escrows/{id}", handlers.Bets.GetEscrow)
	mux.HandleFunc("DELETE /api/escrows/{id}", handlers.Bets.CancelEscrow)

	// Audit ledger.
	mux.HandleFunc("GET /api/ledger", handlers.Ledger.ListEntries)
	mux.HandleFunc("GET /api/ledger/verify", handlers.Ledger.VerifyChain)
	mux.HandleFunc("GET /api/ledger/entity/{id}", handlers.Ledger.EntityHistory)

	// Solvency proofs.
	mux.HandleFunc("GET /api/solvency/latest", handlers.Solvency.Latest)
	mux.HandleFunc("GET /api/solvency/proofs", handlers.Solvency.List)
	mux.HandleFunc("GET /api/solvency/inclusion/{address}", handlers.Solvency.Inclusion)

	// Admin surface behind API key auth.
	admin := middleware.Auth(cfg.AdminAPIKey)
	guarded := func(h http.HandlerFunc) http.Handler { return admin(h) }
	mux.Handle("POST /api/admin/markets", guarded(handler.Idempotent(idem, logger, handlers.Admin.CreateMarket)))
	mux.Handle("POST /api/admin/markets/{id}/close", guarded(handlers.Admin.CloseMarket))
	mux.Handle("POST /api/admin/markets/{id}/resolve", guarded(handlers.Admin.ResolveMarket))
	mux.Handle("POST /api/admin/markets/{id}/cancel", guarded(handlers.Admin.CancelMarket))
	mux.Handle("GET /api/admin/cron", guarded(handlers.Admin.CronStatus))
	mux.Handle("POST /api/admin/cron/trigger", guarded(handlers.Admin.TriggerCron))
	mux.Handle("POST /api/admin/cron/start", guarded(handlers.Admin.StartCron))
	mux.Handle("POST /api/admin/cron/stop", guarded(handlers.Admin.StopCron))

	// Live event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start listens for HTTP requests. It blocks until the server errors or is
// shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
