// Package scheduler drives the reconciliation loop: expiring stale escrows,
// detecting deposits, joining and sweeping bets on chain, closing and
// resolving due markets, and taking periodic solvency snapshots. A Redis
// lock keeps cycles mutually exclusive across replicas.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/qubex-labs/qupool/internal/blob/s3"
	"github.com/qubex-labs/qupool/internal/cache/redis"
	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/escrow"
	"github.com/qubex-labs/qupool/internal/service"
	"github.com/qubex-labs/qupool/internal/solvency"
)

const (
	cycleLockKey    = "cron:cycle"
	solvencyLockKey = "cron:solvency"
	manualRateKey   = "cron:manual"

	// manualWindow throttles operator-triggered cycles.
	manualWindow = 10 * time.Second

	// exportBatch bounds one ledger segment upload.
	exportBatch = 1000
)

// Scheduler owns the periodic reconciliation and solvency cycles.
type Scheduler struct {
	engine   *escrow.Engine
	markets  *service.MarketService
	auditor  *solvency.Auditor
	proofs   domain.SolvencyStore
	ledgers  domain.LedgerStore
	idem     domain.IdempotencyStore
	locks    *redis.LockManager
	limiter  *redis.RateLimiter
	exporter *s3blob.Exporter
	bus      domain.SignalBus

	interval         time.Duration
	solvencyInterval time.Duration
	logger           *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// lastExportedSeq tracks the tail of the last ledger segment pushed to
	// the audit bucket. Re-exporting after a restart is harmless; segment
	// keys are deterministic.
	lastExportedSeq int64
}

// NewScheduler creates a Scheduler. exporter may be nil when audit exports
// are disabled.
func NewScheduler(
	engine *escrow.Engine,
	markets *service.MarketService,
	auditor *solvency.Auditor,
	proofs domain.SolvencyStore,
	ledgers domain.LedgerStore,
	idem domain.IdempotencyStore,
	locks *redis.LockManager,
	limiter *redis.RateLimiter,
	exporter *s3blob.Exporter,
	bus domain.SignalBus,
	interval time.Duration,
	solvencyInterval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		engine:           engine,
		markets:          markets,
		auditor:          auditor,
		proofs:           proofs,
		ledgers:          ledgers,
		idem:             idem,
		locks:            locks,
		limiter:          limiter,
		exporter:         exporter,
		bus:              bus,
		interval:         interval,
		solvencyInterval: solvencyInterval,
		logger:           logger,
	}
}

// cycleStep is one named unit of a reconciliation pass.
type cycleStep struct {
	name string
	run  func(context.Context) error
}

// cycleSteps returns the ordered reconciliation pass. Deposits are checked
// before stale escrows expire so a deposit landing at the edge of its
// window is confirmed (or routed to refund) rather than stranded.
func (s *Scheduler) cycleSteps() []cycleStep {
	return []cycleStep{
		{"check_deposits", s.engine.CheckDeposits},
		{"expire_stale", func(ctx context.Context) error {
			expired, err := s.engine.ExpireStale(ctx)
			if len(expired) > 0 {
				s.logger.InfoContext(ctx, "expired stale escrows", slog.Int("count", len(expired)))
			}
			return err
		}},
		{"execute_joins", s.engine.ExecuteJoins},
		{"close_due_markets", s.markets.CloseDue},
		{"resolve_due_markets", s.markets.ResolveDue},
		{"refund_stragglers", s.engine.RefundStragglers},
		{"execute_sweeps", s.engine.ExecuteSweeps},
		{"purge_idempotency", func(ctx context.Context) error {
			n, err := s.idem.PurgeExpired(ctx, time.Now().UTC())
			if n > 0 {
				s.logger.DebugContext(ctx, "purged idempotency records", slog.Int64("count", n))
			}
			return err
		}},
	}
}

// RunCycle executes one reconciliation pass. Each step runs even when an
// earlier one fails, so a single bad escrow cannot stall market resolution.
// Returns domain.ErrLockHeld when another replica holds the cycle lock.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	release, err := s.locks.Acquire(ctx, cycleLockKey, s.interval)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "cycle lock held elsewhere, skipping")
		}
		return err
	}
	defer release()

	started := time.Now()
	var errs []error

	for _, step := range s.cycleSteps() {
		if err := step.run(ctx); err != nil {
			s.logger.ErrorContext(ctx, "cycle step failed",
				slog.String("step", step.name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}

	s.logger.InfoContext(ctx, "reconciliation cycle finished",
		slog.Duration("elapsed", time.Since(started)),
		slog.Int("failed_steps", len(errs)),
	)

	if seq, hash, err := s.ledgers.Head(ctx); err == nil {
		s.publish(ctx, "ledger", map[string]any{
			"event":    "head_advanced",
			"headSeq":  seq,
			"headHash": hash,
		})
	}
	return errors.Join(errs...)
}

// RunSolvencyCycle takes one solvency snapshot and pushes the proof and any
// new ledger entries to the audit bucket.
func (s *Scheduler) RunSolvencyCycle(ctx context.Context) error {
	release, err := s.locks.Acquire(ctx, solvencyLockKey, s.solvencyInterval)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "solvency lock held elsewhere, skipping")
		}
		return err
	}
	defer release()

	proof, err := s.auditor.GenerateProof(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: generate solvency proof: %w", err)
	}
	s.publish(ctx, "proofs", map[string]any{
		"event":      "proof_generated",
		"proofId":    proof.ID,
		"merkleRoot": proof.MerkleRoot,
		"isSolvent":  proof.IsSolvent,
	})

	if s.exporter == nil {
		return nil
	}

	leaves, err := s.proofs.Leaves(ctx, proof.ID)
	if err != nil {
		return fmt.Errorf("scheduler: load proof leaves: %w", err)
	}
	if err := s.exporter.ExportProof(ctx, proof, leaves); err != nil {
		return err
	}
	return s.exportLedger(ctx)
}

// exportLedger uploads entries appended since the last export, in bounded
// segments.
func (s *Scheduler) exportLedger(ctx context.Context) error {
	for {
		entries, err := s.ledgers.ListAscending(ctx, s.lastExportedSeq+1, exportBatch)
		if err != nil {
			return fmt.Errorf("scheduler: list ledger entries: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		if err := s.exporter.ExportLedgerSegment(ctx, entries); err != nil {
			return err
		}
		s.lastExportedSeq = entries[len(entries)-1].SequenceNum
		if len(entries) < exportBatch {
			return nil
		}
	}
}

// publish pushes a lifecycle event onto the signal bus. Best effort; a
// down bus never fails a cycle.
func (s *Scheduler) publish(ctx context.Context, channel string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, raw); err != nil {
		s.logger.WarnContext(ctx, "scheduler: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// TriggerManual runs one cycle on operator demand, throttled to one trigger
// per window across all replicas.
func (s *Scheduler) TriggerManual(ctx context.Context) error {
	allowed, err := s.limiter.Allow(ctx, manualRateKey, 1, manualWindow)
	if err != nil {
		return fmt.Errorf("scheduler: manual trigger rate check: %w", err)
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return s.RunCycle(ctx)
}

// EnsureAutoCron starts the ticker loops if they are not already running.
// Safe to call repeatedly.
func (s *Scheduler) EnsureAutoCron(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.ErrorContext(runCtx, "scheduler stopped with error", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("scheduler started",
		slog.Duration("interval", s.interval),
		slog.Duration("solvency_interval", s.solvencyInterval),
	)
}

// StopAutoCron stops the ticker loops and waits for the in-flight cycle to
// finish. Safe to call repeatedly.
func (s *Scheduler) StopAutoCron() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

// Running reports whether the ticker loops are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// run drives both tickers until ctx is cancelled. Lock contention is an
// expected outcome, not an error.
func (s *Scheduler) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := s.RunCycle(ctx); err != nil && !errors.Is(err, domain.ErrLockHeld) {
					s.logger.ErrorContext(ctx, "reconciliation cycle failed", slog.String("error", err.Error()))
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(s.solvencyInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := s.RunSolvencyCycle(ctx); err != nil && !errors.Is(err, domain.ErrLockHeld) {
					s.logger.ErrorContext(ctx, "solvency cycle failed", slog.String("error", err.Error()))
				}
			}
		}
	})

	return g.Wait()
}
