// Package escrow drives the custody lifecycle: one deposit address per
// bet, deposit detection, pool entry on chain, and payout sweeps.
package escrow

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"github.com/qubex-labs/qupool/internal/chain"
	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/ledger"
)

const submitAttempts = 3

// Alerter is the notification surface the engine needs. Satisfied by
// notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config carries the engine's tunables.
type Config struct {
	// DepositWindow is how long an escrow waits for its deposit before
	// expiring.
	DepositWindow time.Duration
	// MasterAddress is the custody address payouts and pool refunds are
	// drawn from.
	MasterAddress string
}

// Engine owns every escrow state transition that touches the chain. All
// database effects of a transition happen inside the store's transaction;
// the engine sequences chain calls around them.
type Engine struct {
	escrows domain.EscrowStore
	bets    domain.BetStore
	markets domain.MarketStore
	chain   chain.Client
	alerter Alerter
	cfg     Config
	logger  *slog.Logger
}

// NewEngine wires an Engine. alerter may be nil.
func NewEngine(
	escrows domain.EscrowStore,
	bets domain.BetStore,
	markets domain.MarketStore,
	chainClient chain.Client,
	alerter Alerter,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.DepositWindow <= 0 {
		cfg.DepositWindow = 2 * time.Hour
	}
	return &Engine{
		escrows: escrows,
		bets:    bets,
		markets: markets,
		chain:   chainClient,
		alerter: alerter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "escrow")),
	}
}

// ValidateBetTerms checks bet terms against a market without touching any
// state, so callers can reject bad input before burning a nonce. The
// slot-cap check here is advisory only; the binding check runs inside the
// deposit-confirmation transaction.
func ValidateBetTerms(m domain.Market, option, slots int) error {
	if m.Status != domain.MarketStatusActive {
		return fmt.Errorf("escrow: market %s is %s, not active: %w", m.ID, m.Status, domain.ErrValidation)
	}
	if now := time.Now().UTC(); !now.Before(m.CloseDate) {
		return fmt.Errorf("escrow: market %s closed for betting: %w", m.ID, domain.ErrValidation)
	}
	if option < 0 || option >= len(m.Options) {
		return fmt.Errorf("escrow: option %d out of range: %w", option, domain.ErrValidation)
	}
	if slots < 1 {
		return fmt.Errorf("escrow: slots must be positive: %w", domain.ErrValidation)
	}
	if m.TotalSlots()+slots > m.MaxSlots {
		return fmt.Errorf("escrow: market %s has %d of %d slots filled: %w",
			m.ID, m.TotalSlots(), m.MaxSlots, domain.ErrConflict)
	}
	return nil
}

// CreateEscrow validates the bet terms against the market, allocates a
// fresh deposit address, and persists the bet with its escrow atomically.
func (e *Engine) CreateEscrow(ctx context.Context, m domain.Market, payoutAddress string, option, slots int, nonce string) (domain.Bet, domain.Escrow, error) {
	if err := ValidateBetTerms(m, option, slots); err != nil {
		return domain.Bet{}, domain.Escrow{}, err
	}

	amount := int64(slots) * m.MinBetQu
	now := time.Now().UTC()
	bet := domain.Bet{
		ID:              uuid.NewString(),
		MarketID:        m.ID,
		PayoutAddress:   payoutAddress,
		Option:          option,
		Slots:           slots,
		AmountQu:        amount,
		CommitmentHash:  ledger.CommitmentHash(m.ID, option, slots, amount, nonce),
		CommitmentNonce: nonce,
		Status:          domain.BetStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	addr, err := NewEscrowAddress()
	if err != nil {
		return domain.Bet{}, domain.Escrow{}, fmt.Errorf("escrow: allocate address: %w", err)
	}
	esc := domain.Escrow{
		ID:               uuid.NewString(),
		BetID:            bet.ID,
		EscrowAddress:    addr,
		ExpectedAmountQu: amount,
		Status:           domain.EscrowAwaitingDeposit,
		ExpiresAt:        now.Add(e.cfg.DepositWindow),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.escrows.CreateWithBet(ctx, bet, esc); err != nil {
		return domain.Bet{}, domain.Escrow{}, fmt.Errorf("escrow: create: %w", err)
	}

	e.logger.InfoContext(ctx, "escrow created",
		slog.String("escrow_id", esc.ID),
		slog.String("bet_id", bet.ID),
		slog.String("market_id", m.ID),
		slog.Int("slots", slots),
		slog.Int64("amount_qu", amount),
	)
	return bet, esc, nil
}

// NewEscrowAddress draws a 60-character uppercase address from crypto/rand.
// Uniqueness is ultimately enforced by the database constraint.
func NewEscrowAddress() (string, error) {
	buf := make([]byte, domain.AddressLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = 'A' + b%26
	}
	return string(buf), nil
}

// CheckDeposits scans awaiting_deposit escrows for funded addresses. Fully
// funded escrows are confirmed; escrows the hard slot-cap rejects are
// refunded straight back to the bettor.
func (e *Engine) CheckDeposits(ctx context.Context) error {
	pending, err := e.escrows.ListByStatus(ctx, domain.EscrowAwaitingDeposit)
	if err != nil {
		return fmt.Errorf("escrow: list awaiting deposits: %w", err)
	}
	var errs []error
	for _, esc := range pending {
		if err := e.checkDeposit(ctx, esc); err != nil {
			e.logger.ErrorContext(ctx, "deposit check failed",
				slog.String("escrow_id", esc.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) checkDeposit(ctx context.Context, esc domain.Escrow) error {
	balance, err := e.chain.GetBalance(ctx, esc.EscrowAddress)
	if err != nil {
		return fmt.Errorf("escrow: balance of %s: %w", esc.EscrowAddress, err)
	}
	if balance < esc.ExpectedAmountQu {
		return nil
	}

	outcome, err := e.escrows.ConfirmDeposit(ctx, esc.ID, balance)
	if err != nil {
		return fmt.Errorf("escrow: confirm deposit: %w", err)
	}
	if outcome.Rejected {
		return e.refundFromEscrow(ctx, outcome.Escrow, balance, outcome.Reason)
	}
	e.logger.InfoContext(ctx, "deposit confirmed",
		slog.String("escrow_id", esc.ID),
		slog.Int64("amount_qu", balance),
	)
	return nil
}

// refundFromEscrow returns funds still sitting on the deposit address and
// records the refund.
func (e *Engine) refundFromEscrow(ctx context.Context, esc domain.Escrow, amount int64, reason string) error {
	bet, err := e.bets.GetByID(ctx, esc.BetID)
	if err != nil {
		return fmt.Errorf("escrow: bet for refund: %w", err)
	}
	txID, err := e.submitPayout(ctx, chain.PayoutRequest{
		SourceAddress: esc.EscrowAddress,
		DestAddress:   bet.PayoutAddress,
		AmountQu:      amount,
		Reference:     "refund:" + esc.ID,
	})
	if err != nil {
		return fmt.Errorf("escrow: refund payout: %w", err)
	}
	if err := e.escrows.MarkRefunded(ctx, esc.ID, txID); err != nil {
		return fmt.Errorf("escrow: mark refunded: %w", err)
	}
	e.logger.WarnContext(ctx, "escrow auto-refunded",
		slog.String("escrow_id", esc.ID),
		slog.String("reason", reason),
		slog.Int64("amount_qu", amount),
	)
	if e.alerter != nil {
		msg := fmt.Sprintf("escrow %s refunded %d qu to %s: %s", esc.ID, amount, bet.PayoutAddress, reason)
		if nerr := e.alerter.Notify(ctx, "auto_refund", "Escrow auto-refunded", msg); nerr != nil {
			e.logger.ErrorContext(ctx, "refund alert failed", slog.String("error", nerr.Error()))
		}
	}
	return nil
}

// RefundFromPool refunds an active escrow out of the custody address. Used
// when a market is cancelled after bets already joined the pool.
func (e *Engine) RefundFromPool(ctx context.Context, esc domain.Escrow) error {
	bet, err := e.bets.GetByID(ctx, esc.BetID)
	if err != nil {
		return fmt.Errorf("escrow: bet for pool refund: %w", err)
	}
	txID, err := e.submitPayout(ctx, chain.PayoutRequest{
		SourceAddress: e.cfg.MasterAddress,
		DestAddress:   bet.PayoutAddress,
		AmountQu:      esc.DepositAmountQu,
		Reference:     "refund:" + esc.ID,
	})
	if err != nil {
		return fmt.Errorf("escrow: pool refund payout: %w", err)
	}
	if err := e.escrows.MarkRefunded(ctx, esc.ID, txID); err != nil {
		return fmt.Errorf("escrow: mark refunded: %w", err)
	}
	e.logger.InfoContext(ctx, "escrow refunded from pool",
		slog.String("escrow_id", esc.ID),
		slog.Int64("amount_qu", esc.DepositAmountQu),
	)
	return nil
}

// RefundStragglers refunds active escrows whose market has already been
// resolved or cancelled. A join that confirms after settlement misses the
// payout pass, so those escrows stay active_in_sc until this sweeps them.
func (e *Engine) RefundStragglers(ctx context.Context) error {
	active, err := e.escrows.ListByStatus(ctx, domain.EscrowActiveInSC)
	if err != nil {
		return fmt.Errorf("escrow: list active: %w", err)
	}

	var errs []error
	for _, esc := range active {
		bet, err := e.bets.GetByID(ctx, esc.BetID)
		if err != nil {
			errs = append(errs, fmt.Errorf("escrow: bet for straggler %s: %w", esc.ID, err))
			continue
		}
		m, err := e.markets.GetByID(ctx, bet.MarketID)
		if err != nil {
			errs = append(errs, fmt.Errorf("escrow: market for straggler %s: %w", esc.ID, err))
			continue
		}
		if m.Status != domain.MarketStatusResolved && m.Status != domain.MarketStatusCancelled {
			continue
		}
		e.logger.WarnContext(ctx, "refunding straggler escrow",
			slog.String("escrow_id", esc.ID),
			slog.String("market_id", m.ID),
			slog.String("market_status", string(m.Status)),
		)
		if err := e.RefundFromPool(ctx, esc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ExecuteJoins moves funded escrows into the pool: deposit_detected
// escrows get a join transaction submitted, joining_sc escrows are polled
// until the chain confirms them.
func (e *Engine) ExecuteJoins(ctx context.Context) error {
	var errs []error

	funded, err := e.escrows.ListByStatus(ctx, domain.EscrowDepositDetected)
	if err != nil {
		return fmt.Errorf("escrow: list funded: %w", err)
	}
	for _, esc := range funded {
		if err := e.submitJoin(ctx, esc); err != nil {
			e.logger.ErrorContext(ctx, "join submit failed",
				slog.String("escrow_id", esc.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}

	joining, err := e.escrows.ListByStatus(ctx, domain.EscrowJoiningSC)
	if err != nil {
		return fmt.Errorf("escrow: list joining: %w", err)
	}
	for _, esc := range joining {
		if err := e.pollJoin(ctx, esc); err != nil {
			e.logger.ErrorContext(ctx, "join poll failed",
				slog.String("escrow_id", esc.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) submitJoin(ctx context.Context, esc domain.Escrow) error {
	// A recorded tx id means a previous cycle submitted but crashed before
	// flipping the status; reuse it instead of double-joining.
	txID := esc.JoinBetTxID
	if txID == "" {
		bet, err := e.bets.GetByID(ctx, esc.BetID)
		if err != nil {
			return fmt.Errorf("escrow: bet for join: %w", err)
		}
		txID, err = e.submitWithRetry(ctx, func(ctx context.Context) (string, error) {
			return e.chain.SubmitJoinBet(ctx, chain.JoinBetRequest{
				MarketID:      bet.MarketID,
				EscrowAddress: esc.EscrowAddress,
				Option:        bet.Option,
				Slots:         bet.Slots,
				AmountQu:      esc.DepositAmountQu,
			})
		})
		if err != nil {
			return fmt.Errorf("escrow: submit join: %w", err)
		}
	}
	if err := e.escrows.MarkJoining(ctx, esc.ID, txID); err != nil {
		return fmt.Errorf("escrow: mark joining: %w", err)
	}
	e.logger.InfoContext(ctx, "join submitted",
		slog.String("escrow_id", esc.ID),
		slog.String("tx_id", txID),
	)
	return nil
}

func (e *Engine) pollJoin(ctx context.Context, esc domain.Escrow) error {
	status, err := e.chain.GetTransactionStatus(ctx, esc.JoinBetTxID)
	if err != nil {
		return fmt.Errorf("escrow: join status: %w", err)
	}
	if !status.Confirmed {
		return nil
	}
	if err := e.escrows.MarkActive(ctx, esc.ID); err != nil {
		return fmt.Errorf("escrow: mark active: %w", err)
	}
	e.logger.InfoContext(ctx, "bet active in pool",
		slog.String("escrow_id", esc.ID),
		slog.Uint64("tick", status.Tick),
	)
	return nil
}

// ExecuteSweeps pays out winners awaiting their sweep.
func (e *Engine) ExecuteSweeps(ctx context.Context) error {
	winners, err := e.escrows.ListByStatus(ctx, domain.EscrowWonAwaitingSweep)
	if err != nil {
		return fmt.Errorf("escrow: list winners: %w", err)
	}
	var errs []error
	for _, esc := range winners {
		if err := e.sweep(ctx, esc); err != nil {
			e.logger.ErrorContext(ctx, "sweep failed",
				slog.String("escrow_id", esc.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) sweep(ctx context.Context, esc domain.Escrow) error {
	bet, err := e.bets.GetByID(ctx, esc.BetID)
	if err != nil {
		return fmt.Errorf("escrow: bet for sweep: %w", err)
	}
	txID := esc.SweepTxID
	if txID == "" {
		txID, err = e.submitWithRetry(ctx, func(ctx context.Context) (string, error) {
			return e.chain.SubmitPayout(ctx, chain.PayoutRequest{
				SourceAddress: e.cfg.MasterAddress,
				DestAddress:   bet.PayoutAddress,
				AmountQu:      bet.PayoutQu,
				Reference:     "sweep:" + esc.ID,
			})
		})
		if err != nil {
			return fmt.Errorf("escrow: submit sweep: %w", err)
		}
	}
	if err := e.escrows.MarkSwept(ctx, esc.ID, txID); err != nil {
		return fmt.Errorf("escrow: mark swept: %w", err)
	}
	e.logger.InfoContext(ctx, "payout swept",
		slog.String("escrow_id", esc.ID),
		slog.String("tx_id", txID),
		slog.Int64("payout_qu", bet.PayoutQu),
	)
	return nil
}

// Cancel voids an unfunded escrow at the bettor's request.
func (e *Engine) Cancel(ctx context.Context, escrowID string) (domain.Escrow, error) {
	if err := e.escrows.Cancel(ctx, escrowID); err != nil {
		return domain.Escrow{}, err
	}
	esc, err := e.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return domain.Escrow{}, err
	}
	e.logger.InfoContext(ctx, "escrow cancelled", slog.String("escrow_id", escrowID))
	return esc, nil
}

// ExpireStale expires awaiting_deposit escrows past their deposit window.
func (e *Engine) ExpireStale(ctx context.Context) ([]domain.Escrow, error) {
	expired, err := e.escrows.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("escrow: expire stale: %w", err)
	}
	if len(expired) > 0 {
		e.logger.InfoContext(ctx, "escrows expired", slog.Int("count", len(expired)))
	}
	return expired, nil
}

// submitWithRetry retries a chain submission with jittered backoff. A
// breaker short-circuit is returned immediately.
func (e *Engine) submitWithRetry(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 2 * time.Second, Jitter: true}
	var lastErr error
	for attempt := 0; attempt < submitAttempts; attempt++ {
		txID, err := fn(ctx)
		if err == nil {
			return txID, nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrUpstreamUnavailable) {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return "", lastErr
}

func (e *Engine) submitPayout(ctx context.Context, req chain.PayoutRequest) (string, error) {
	return e.submitWithRetry(ctx, func(ctx context.Context) (string, error) {
		return e.chain.SubmitPayout(ctx, req)
	})
}
