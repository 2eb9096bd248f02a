package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qubex-labs/qupool/internal/chain"
	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/escrow"
	"github.com/qubex-labs/qupool/internal/ledger"
	"github.com/qubex-labs/qupool/internal/oracle"
)

// Alerter is the notification surface the market service needs. Satisfied
// by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// CreateMarketRequest carries the terms of a new market.
type CreateMarketRequest struct {
	Question             string    `json:"question"`
	Pair                 string    `json:"pair"`
	ResolutionType       string    `json:"resolutionType"`
	ResolutionTarget     float64   `json:"resolutionTarget"`
	ResolutionTargetHigh float64   `json:"resolutionTargetHigh"`
	Options              []string  `json:"options"`
	MaxSlots             int       `json:"maxSlots"`
	MinBetQu             int64     `json:"minBetQu"`
	CloseDate            time.Time `json:"closeDate"`
	EndDate              time.Time `json:"endDate"`
}

// ResolutionPackage bundles everything an auditor needs to re-verify one
// market's resolution offline.
type ResolutionPackage struct {
	Market       domain.Market        `json:"market"`
	Attestations []domain.Attestation `json:"attestations"`
	LedgerTrail  []domain.LedgerEntry `json:"ledgerTrail"`
}

// MarketService owns the market lifecycle: creation, close, oracle-driven
// resolution with settlement, and cancellation with refunds.
type MarketService struct {
	markets  domain.MarketStore
	bets     domain.BetStore
	escrows  domain.EscrowStore
	attests  domain.AttestationStore
	ledgers  domain.LedgerStore
	resolver *oracle.Resolver
	signer   *oracle.Signer
	chain    chain.Client
	engine   *escrow.Engine
	bus      domain.SignalBus
	alerter  Alerter
	feeBps   int
	logger   *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
// alerter may be nil.
func NewMarketService(
	markets domain.MarketStore,
	bets domain.BetStore,
	escrows domain.EscrowStore,
	attests domain.AttestationStore,
	ledgers domain.LedgerStore,
	resolver *oracle.Resolver,
	signer *oracle.Signer,
	chainClient chain.Client,
	engine *escrow.Engine,
	bus domain.SignalBus,
	alerter Alerter,
	feeBps int,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:  markets,
		bets:     bets,
		escrows:  escrows,
		attests:  attests,
		ledgers:  ledgers,
		resolver: resolver,
		signer:   signer,
		chain:    chainClient,
		engine:   engine,
		bus:      bus,
		alerter:  alerter,
		feeBps:   feeBps,
		logger:   logger,
	}
}

// CreateMarket validates the terms, seals them into a commitment hash, and
// persists the market as active.
func (s *MarketService) CreateMarket(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	if err := validateMarketRequest(req); err != nil {
		return domain.Market{}, err
	}

	now := time.Now().UTC()
	m := domain.Market{
		ID:                   uuid.NewString(),
		Question:             req.Question,
		Pair:                 req.Pair,
		ResolutionType:       domain.ResolutionType(req.ResolutionType),
		ResolutionTarget:     req.ResolutionTarget,
		ResolutionTargetHigh: req.ResolutionTargetHigh,
		Options:              req.Options,
		MaxSlots:             req.MaxSlots,
		SlotsPerOption:       map[int]int{},
		MinBetQu:             req.MinBetQu,
		Status:               domain.MarketStatusActive,
		CloseDate:            req.CloseDate.UTC(),
		EndDate:              req.EndDate.UTC(),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	// The commitment hash seals the market terms before any bet is taken;
	// a later edit of target or options would no longer match it.
	canonical, err := ledger.Canonicalize(map[string]any{
		"id":                   m.ID,
		"question":             m.Question,
		"pair":                 m.Pair,
		"resolutionType":       string(m.ResolutionType),
		"resolutionTarget":     m.ResolutionTarget,
		"resolutionTargetHigh": m.ResolutionTargetHigh,
		"options":              m.Options,
		"maxSlots":             m.MaxSlots,
		"minBetQu":             m.MinBetQu,
		"closeDate":            m.CloseDate.Format(time.RFC3339),
		"endDate":              m.EndDate.Format(time.RFC3339),
	})
	if err != nil {
		return domain.Market{}, err
	}
	m.CommitmentHash = ledger.PayloadHash(canonical)

	if err := s.markets.Create(ctx, m); err != nil {
		return domain.Market{}, err
	}
	if _, err := s.ledgers.Append(ctx, domain.EventMarketCreated, m.ID, map[string]any{
		"marketId":       m.ID,
		"question":       m.Question,
		"pair":           m.Pair,
		"commitmentHash": m.CommitmentHash,
		"maxSlots":       m.MaxSlots,
		"minBetQu":       m.MinBetQu,
	}); err != nil {
		return domain.Market{}, err
	}

	s.publish(ctx, "markets", map[string]any{
		"event":    "market_created",
		"marketId": m.ID,
		"status":   m.Status,
	})
	s.logger.InfoContext(ctx, "market created",
		slog.String("market_id", m.ID),
		slog.String("pair", m.Pair),
	)
	return m, nil
}

func validateMarketRequest(req CreateMarketRequest) error {
	switch domain.ResolutionType(req.ResolutionType) {
	case domain.ResolutionAbove, domain.ResolutionBelow:
	case domain.ResolutionBetween:
		if req.ResolutionTargetHigh <= req.ResolutionTarget {
			return fmt.Errorf("%w: between market needs resolutionTargetHigh above resolutionTarget", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown resolution type %q", domain.ErrValidation, req.ResolutionType)
	}
	if req.Question == "" {
		return fmt.Errorf("%w: question is required", domain.ErrValidation)
	}
	if req.Pair == "" {
		return fmt.Errorf("%w: pair is required", domain.ErrValidation)
	}
	if len(req.Options) < 2 {
		return fmt.Errorf("%w: at least two options required", domain.ErrValidation)
	}
	if req.MaxSlots < 1 {
		return fmt.Errorf("%w: maxSlots must be positive", domain.ErrValidation)
	}
	if req.MinBetQu < 1 {
		return fmt.Errorf("%w: minBetQu must be positive", domain.ErrValidation)
	}
	now := time.Now().UTC()
	if !req.CloseDate.After(now) {
		return fmt.Errorf("%w: closeDate must be in the future", domain.ErrValidation)
	}
	if !req.EndDate.After(req.CloseDate) {
		return fmt.Errorf("%w: endDate must be after closeDate", domain.ErrValidation)
	}
	return nil
}

// GetMarket retrieves one market.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return s.markets.GetByID(ctx, id)
}

// ListMarkets returns markets, optionally filtered by status.
func (s *MarketService) ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	return s.markets.List(ctx, status, opts)
}

// CloseMarket flips an active market to closed, ending its betting window.
func (s *MarketService) CloseMarket(ctx context.Context, id string) error {
	if err := s.markets.UpdateStatus(ctx, id, domain.MarketStatusActive, domain.MarketStatusClosed); err != nil {
		return err
	}
	if _, err := s.ledgers.Append(ctx, domain.EventMarketClosed, id, map[string]any{
		"marketId": id,
	}); err != nil {
		return err
	}
	s.publish(ctx, "markets", map[string]any{
		"event":    "market_closed",
		"marketId": id,
	})
	s.logger.InfoContext(ctx, "market closed", slog.String("market_id", id))
	return nil
}

// CloseDue closes every active market whose betting window has passed.
func (s *MarketService) CloseDue(ctx context.Context) error {
	due, err := s.markets.ListPastClose(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("market_service: list past close: %w", err)
	}
	var errs []error
	for _, m := range due {
		if err := s.CloseMarket(ctx, m.ID); err != nil && !errors.Is(err, domain.ErrConflict) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResolveMarket fetches prices from every oracle source, persists a signed
// attestation per reading, derives the outcome from the median, and settles
// all active escrows on the market.
func (s *MarketService) ResolveMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	if m.Status != domain.MarketStatusClosed {
		return domain.Market{}, fmt.Errorf("market_service: market %s is %s, not closed: %w",
			id, m.Status, domain.ErrConflict)
	}

	tick, err := s.chain.GetTickInfo(ctx)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: tick info: %w", err)
	}

	readings, err := s.resolver.FetchPrices(ctx, m.Pair)
	if err != nil {
		if s.alerter != nil {
			msg := fmt.Sprintf("no oracle source reachable for %s while resolving market %s", m.Pair, m.ID)
			if nerr := s.alerter.Notify(ctx, "oracle_outage", "Oracle outage", msg); nerr != nil {
				s.logger.ErrorContext(ctx, "oracle outage alert failed", slog.String("error", nerr.Error()))
			}
		}
		return domain.Market{}, fmt.Errorf("market_service: fetch prices: %w", err)
	}

	prices := make([]float64, 0, len(readings))
	attestationIDs := make([]string, 0, len(readings))
	for _, r := range readings {
		a := s.signer.Attest(uuid.NewString(), m.ID, r, tick.Tick, tick.Epoch)
		if err := s.attests.Insert(ctx, a); err != nil {
			return domain.Market{}, err
		}
		prices = append(prices, r.Price)
		attestationIDs = append(attestationIDs, a.ID)
	}
	median := oracle.Median(prices)
	winner := s.outcome(m, median)

	payouts, pool, fee := s.computePayouts(ctx, m, winner)

	// Settle flips the market closed->resolved and pays escrows in one
	// transaction, so a crash here never leaves a resolved market with
	// unsettled escrows.
	if err := s.escrows.Settle(ctx, m.ID, winner, median, payouts); err != nil {
		return domain.Market{}, err
	}
	if _, err := s.ledgers.Append(ctx, domain.EventMarketResolved, m.ID, map[string]any{
		"marketId":        m.ID,
		"resolutionPrice": median,
		"winningOption":   winner,
		"poolQu":          pool,
		"feeQu":           fee,
		"tick":            tick.Tick,
		"epoch":           tick.Epoch,
		"attestationIds":  attestationIDs,
	}); err != nil {
		return domain.Market{}, err
	}

	s.publish(ctx, "markets", map[string]any{
		"event":           "market_resolved",
		"marketId":        m.ID,
		"resolutionPrice": median,
		"winningOption":   winner,
	})
	s.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", m.ID),
		slog.Float64("median", median),
		slog.Int("winning_option", winner),
		slog.Int64("pool_qu", pool),
	)

	return s.markets.GetByID(ctx, m.ID)
}

// outcome maps the oracle median onto a winning option index. Option 0 is
// the affirmative side of the market's question.
func (s *MarketService) outcome(m domain.Market, median float64) int {
	var yes bool
	switch m.ResolutionType {
	case domain.ResolutionAbove:
		yes = median > m.ResolutionTarget
	case domain.ResolutionBelow:
		yes = median < m.ResolutionTarget
	case domain.ResolutionBetween:
		yes = median >= m.ResolutionTarget && median <= m.ResolutionTargetHigh
	}
	if yes {
		return 0
	}
	return 1
}

// computePayouts splits the pool among winning slots. The fee comes off the
// gross pool first; integer division leaves any dust in the pool.
func (s *MarketService) computePayouts(ctx context.Context, m domain.Market, winner int) (payouts map[string]int64, pool, fee int64) {
	bets, err := s.bets.ListByMarket(ctx, m.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "list bets for payout", slog.String("error", err.Error()))
		return map[string]int64{}, 0, 0
	}

	var totalWinningSlots int64
	for _, b := range bets {
		if b.Status != domain.BetStatusConfirmed {
			continue
		}
		pool += b.AmountQu
		if b.Option == winner {
			totalWinningSlots += int64(b.Slots)
		}
	}
	fee = pool * int64(s.feeBps) / 10_000
	payouts = make(map[string]int64)
	if totalWinningSlots == 0 {
		return payouts, pool, fee
	}
	distributable := pool - fee
	for _, b := range bets {
		if b.Status != domain.BetStatusConfirmed || b.Option != winner {
			continue
		}
		payouts[b.ID] = int64(b.Slots) * distributable / totalWinningSlots
	}
	return payouts, pool, fee
}

// ResolveDue resolves every closed market past its end date.
func (s *MarketService) ResolveDue(ctx context.Context) error {
	due, err := s.markets.ListPastEnd(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("market_service: list past end: %w", err)
	}
	var errs []error
	for _, m := range due {
		if _, err := s.ResolveMarket(ctx, m.ID); err != nil && !errors.Is(err, domain.ErrConflict) {
			s.logger.ErrorContext(ctx, "resolve market failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CancelMarket voids a market and refunds every bet that already joined the
// pool. Unfunded escrows are left to expire on their own clock.
func (s *MarketService) CancelMarket(ctx context.Context, id string) error {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !m.CanTransition(domain.MarketStatusCancelled) {
		return fmt.Errorf("market_service: market %s is %s, not cancellable: %w",
			id, m.Status, domain.ErrConflict)
	}
	if err := s.markets.UpdateStatus(ctx, id, m.Status, domain.MarketStatusCancelled); err != nil {
		return err
	}

	bets, err := s.bets.ListByMarket(ctx, id)
	if err != nil {
		return fmt.Errorf("market_service: list bets for cancel: %w", err)
	}
	var errs []error
	for _, b := range bets {
		esc, err := s.escrows.GetByBetID(ctx, b.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if esc.Status != domain.EscrowActiveInSC {
			continue
		}
		if err := s.engine.RefundFromPool(ctx, esc); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := s.ledgers.Append(ctx, domain.EventMarketCancelled, id, map[string]any{
		"marketId": id,
	}); err != nil {
		errs = append(errs, err)
	}

	s.publish(ctx, "markets", map[string]any{
		"event":    "market_cancelled",
		"marketId": id,
	})
	s.logger.WarnContext(ctx, "market cancelled", slog.String("market_id", id))
	return errors.Join(errs...)
}

// ResolutionPackage assembles the offline-verifiable evidence for one
// resolved market: its sealed terms, every signed oracle attestation, and
// the ledger trail touching it.
func (s *MarketService) ResolutionPackage(ctx context.Context, id string) (ResolutionPackage, error) {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return ResolutionPackage{}, err
	}
	attests, err := s.attests.ListByMarket(ctx, id)
	if err != nil {
		return ResolutionPackage{}, err
	}
	trail, err := s.ledgers.ListByEntity(ctx, id)
	if err != nil {
		return ResolutionPackage{}, err
	}
	return ResolutionPackage{Market: m, Attestations: attests, LedgerTrail: trail}, nil
}

func (s *MarketService) publish(ctx context.Context, channel string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, raw); err != nil {
		s.logger.WarnContext(ctx, "market_service: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
