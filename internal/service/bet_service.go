// Package service implements the application operations behind the HTTP
// API: bet placement, market lifecycle, and the queries that feed them.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/escrow"
)

// noncePurposeBet scopes bet-placement nonces in the replay guard.
const noncePurposeBet = "place_bet"

// PlaceBetRequest carries the client's bet terms.
type PlaceBetRequest struct {
	MarketID      string `json:"marketId"`
	PayoutAddress string `json:"payoutAddress"`
	Option        int    `json:"option"`
	Slots         int    `json:"slots"`
	Nonce         string `json:"nonce"`
}

// PlaceBetResult is the response to a successful placement: the bet, its
// escrow, and the deposit instructions the client must follow.
type PlaceBetResult struct {
	Bet          domain.Bet    `json:"bet"`
	Escrow       domain.Escrow `json:"escrow"`
	Instructions Instructions  `json:"instructions"`
}

// Instructions tell the bettor where to send funds and by when.
type Instructions struct {
	DepositAddress string    `json:"depositAddress"`
	AmountQu       int64     `json:"amountQu"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// BetService handles bet placement and custody queries.
type BetService struct {
	markets domain.MarketStore
	bets    domain.BetStore
	escrows domain.EscrowStore
	nonces  domain.NonceStore
	engine  *escrow.Engine
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewBetService creates a BetService with all required dependencies.
func NewBetService(
	markets domain.MarketStore,
	bets domain.BetStore,
	escrows domain.EscrowStore,
	nonces domain.NonceStore,
	engine *escrow.Engine,
	bus domain.SignalBus,
	logger *slog.Logger,
) *BetService {
	return &BetService{
		markets: markets,
		bets:    bets,
		escrows: escrows,
		nonces:  nonces,
		engine:  engine,
		bus:     bus,
		logger:  logger,
	}
}

// PlaceBet validates the request, burns its nonce, and creates the bet with
// its escrow. The nonce check runs before any state change so a replayed
// request cannot allocate a second escrow.
func (s *BetService) PlaceBet(ctx context.Context, req PlaceBetRequest) (PlaceBetResult, error) {
	if err := domain.CheckAddress(req.PayoutAddress); err != nil {
		return PlaceBetResult{}, err
	}
	if err := domain.CheckNonce(req.Nonce); err != nil {
		return PlaceBetResult{}, err
	}
	if req.MarketID == "" {
		return PlaceBetResult{}, fmt.Errorf("%w: marketId is required", domain.ErrValidation)
	}

	m, err := s.markets.GetByID(ctx, req.MarketID)
	if err != nil {
		return PlaceBetResult{}, fmt.Errorf("bet_service: market %s: %w", req.MarketID, err)
	}

	// Validate the bet before the nonce burns; a rejected request must
	// leave the nonce reusable.
	if err := escrow.ValidateBetTerms(m, req.Option, req.Slots); err != nil {
		return PlaceBetResult{}, err
	}

	if err := s.nonces.Register(ctx, req.PayoutAddress, noncePurposeBet, req.Nonce); err != nil {
		return PlaceBetResult{}, fmt.Errorf("bet_service: nonce: %w", err)
	}

	bet, esc, err := s.engine.CreateEscrow(ctx, m, req.PayoutAddress, req.Option, req.Slots, req.Nonce)
	if err != nil {
		return PlaceBetResult{}, err
	}

	s.publish(ctx, "escrows", map[string]any{
		"event":    "escrow_created",
		"escrowId": esc.ID,
		"betId":    bet.ID,
		"marketId": bet.MarketID,
		"status":   esc.Status,
	})

	return PlaceBetResult{
		Bet:    bet,
		Escrow: esc,
		Instructions: Instructions{
			DepositAddress: esc.EscrowAddress,
			AmountQu:       esc.ExpectedAmountQu,
			ExpiresAt:      esc.ExpiresAt,
		},
	}, nil
}

// GetBet returns a bet with its escrow.
func (s *BetService) GetBet(ctx context.Context, betID string) (domain.Bet, domain.Escrow, error) {
	bet, err := s.bets.GetByID(ctx, betID)
	if err != nil {
		return domain.Bet{}, domain.Escrow{}, fmt.Errorf("bet_service: bet %s: %w", betID, err)
	}
	esc, err := s.escrows.GetByBetID(ctx, betID)
	if err != nil {
		return domain.Bet{}, domain.Escrow{}, fmt.Errorf("bet_service: escrow for bet %s: %w", betID, err)
	}
	return bet, esc, nil
}

// GetEscrow returns one escrow by id.
func (s *BetService) GetEscrow(ctx context.Context, escrowID string) (domain.Escrow, error) {
	esc, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return domain.Escrow{}, fmt.Errorf("bet_service: escrow %s: %w", escrowID, err)
	}
	return esc, nil
}

// CancelEscrow voids an unfunded escrow at the bettor's request.
func (s *BetService) CancelEscrow(ctx context.Context, escrowID string) (domain.Escrow, error) {
	esc, err := s.engine.Cancel(ctx, escrowID)
	if err != nil {
		return domain.Escrow{}, err
	}
	s.publish(ctx, "escrows", map[string]any{
		"event":    "escrow_cancelled",
		"escrowId": esc.ID,
		"status":   esc.Status,
	})
	return esc, nil
}

// publish sends a lifecycle event to the signal bus; failures are logged
// but never fail the operation that triggered them.
func (s *BetService) publish(ctx context.Context, channel string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, raw); err != nil {
		s.logger.WarnContext(ctx, "bet_service: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
