package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qubex-labs/qupool/internal/server"
	"github.com/qubex-labs/qupool/internal/server/handler"
	"github.com/qubex-labs/qupool/internal/server/ws"
)

// shutdownGrace is how long the HTTP server gets to drain on shutdown.
const shutdownGrace = 10 * time.Second

// ServerMode runs the HTTP + WebSocket API without the automatic
// reconciliation loops. Operators can still trigger cycles through the
// admin endpoints; the Redis lock keeps replicas from colliding.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return waitGroup(ctx, g)
}

// WorkerMode runs only the reconciliation and solvency loops.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	a.startScheduler(ctx, deps)
	defer deps.Scheduler.StopAutoCron()
	<-ctx.Done()
	return ctx.Err()
}

// FullMode runs the API and the loops in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startScheduler(ctx, deps)
	defer deps.Scheduler.StopAutoCron()
	a.startServer(ctx, g, deps)
	return waitGroup(ctx, g)
}

func (a *App) startScheduler(ctx context.Context, deps *Dependencies) {
	if a.cfg.Scheduler.AutoStart {
		deps.Scheduler.EnsureAutoCron(ctx)
	} else {
		a.logger.InfoContext(ctx, "scheduler auto-start disabled; waiting for admin trigger")
	}
}

// startServer builds the handlers, hub, and HTTP server and launches both
// on the errgroup.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.PG.Pool(), deps.Redis, deps.RPC, a.logger),
		Markets:  handler.NewMarketHandler(deps.MarketSvc, a.logger),
		Bets:     handler.NewBetHandler(deps.BetSvc, a.logger),
		Ledger:   handler.NewLedgerHandler(deps.Ledger, a.logger),
		Solvency: handler.NewSolvencyHandler(deps.Auditor, a.logger),
		Admin:    handler.NewAdminHandler(deps.MarketSvc, deps.Scheduler, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminAPIKey: a.cfg.Server.AdminAPIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.Idempotency, deps.RateLimiter, a.logger)

	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// waitGroup waits for the errgroup, treating a cancelled context as a
// clean shutdown.
func waitGroup(ctx context.Context, g *errgroup.Group) error {
	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
