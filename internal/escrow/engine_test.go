package escrow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubex-labs/qupool/internal/chain"
	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/ledger"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeEscrowStore struct {
	domain.EscrowStore

	byStatus map[domain.EscrowStatus][]domain.Escrow

	created       []domain.Escrow
	createdBets   []domain.Bet
	confirmFn     func(escrowID string, amount int64) (domain.DepositOutcome, error)
	confirmed     []string
	joining       map[string]string // escrow id -> tx id
	active        []string
	swept         map[string]string
	refunded      map[string]string
}

func newFakeEscrowStore() *fakeEscrowStore {
	return &fakeEscrowStore{
		byStatus: make(map[domain.EscrowStatus][]domain.Escrow),
		joining:  make(map[string]string),
		swept:    make(map[string]string),
		refunded: make(map[string]string),
	}
}

func (s *fakeEscrowStore) CreateWithBet(_ context.Context, b domain.Bet, e domain.Escrow) error {
	s.createdBets = append(s.createdBets, b)
	s.created = append(s.created, e)
	return nil
}

func (s *fakeEscrowStore) ListByStatus(_ context.Context, status domain.EscrowStatus) ([]domain.Escrow, error) {
	return s.byStatus[status], nil
}

func (s *fakeEscrowStore) ConfirmDeposit(_ context.Context, escrowID string, amount int64) (domain.DepositOutcome, error) {
	s.confirmed = append(s.confirmed, escrowID)
	if s.confirmFn != nil {
		return s.confirmFn(escrowID, amount)
	}
	return domain.DepositOutcome{Escrow: domain.Escrow{ID: escrowID, DepositAmountQu: amount}}, nil
}

func (s *fakeEscrowStore) MarkJoining(_ context.Context, escrowID, txID string) error {
	s.joining[escrowID] = txID
	return nil
}

func (s *fakeEscrowStore) MarkActive(_ context.Context, escrowID string) error {
	s.active = append(s.active, escrowID)
	return nil
}

func (s *fakeEscrowStore) MarkSwept(_ context.Context, escrowID, txID string) error {
	s.swept[escrowID] = txID
	return nil
}

func (s *fakeEscrowStore) MarkRefunded(_ context.Context, escrowID, txID string) error {
	s.refunded[escrowID] = txID
	return nil
}

type fakeBetStore struct {
	bets map[string]domain.Bet
}

func (s *fakeBetStore) GetByID(_ context.Context, id string) (domain.Bet, error) {
	b, ok := s.bets[id]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *fakeBetStore) ListByMarket(context.Context, string) ([]domain.Bet, error) {
	return nil, nil
}

type fakeMarketStore struct {
	domain.MarketStore

	markets map[string]domain.Market
}

func (s *fakeMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

type fakeChain struct {
	balances map[string]int64

	joinCalls   int
	joinErr     error
	payoutCalls []chain.PayoutRequest
	payoutErr   error
	statuses    map[string]chain.TxStatus
}

func (c *fakeChain) GetBalance(_ context.Context, address string) (int64, error) {
	return c.balances[address], nil
}

func (c *fakeChain) GetTickInfo(context.Context) (chain.TickInfo, error) {
	return chain.TickInfo{Tick: 100, Epoch: 1}, nil
}

func (c *fakeChain) SubmitJoinBet(_ context.Context, req chain.JoinBetRequest) (string, error) {
	c.joinCalls++
	if c.joinErr != nil {
		return "", c.joinErr
	}
	return fmt.Sprintf("join-tx-%d", c.joinCalls), nil
}

func (c *fakeChain) SubmitPayout(_ context.Context, req chain.PayoutRequest) (string, error) {
	c.payoutCalls = append(c.payoutCalls, req)
	if c.payoutErr != nil {
		return "", c.payoutErr
	}
	return fmt.Sprintf("payout-tx-%d", len(c.payoutCalls)), nil
}

func (c *fakeChain) GetTransactionStatus(_ context.Context, txID string) (chain.TxStatus, error) {
	return c.statuses[txID], nil
}

type fakeAlerter struct {
	events []string
}

func (a *fakeAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.events = append(a.events, event)
	return nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeMarket() domain.Market {
	return domain.Market{
		ID:             "mkt-1",
		Question:       "Will QUBIC close above 0.000003 by epoch 150?",
		Pair:           "QUBIC/USDT",
		ResolutionType: domain.ResolutionAbove,
		Options:        []string{"yes", "no"},
		MaxSlots:       10,
		SlotsPerOption: map[int]int{0: 2, 1: 3},
		MinBetQu:       10000,
		Status:         domain.MarketStatusActive,
		CloseDate:      time.Now().UTC().Add(time.Hour),
		EndDate:        time.Now().UTC().Add(2 * time.Hour),
	}
}

type engineFixture struct {
	engine  *Engine
	escrows *fakeEscrowStore
	bets    *fakeBetStore
	markets *fakeMarketStore
	chain   *fakeChain
	alerter *fakeAlerter
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		escrows: newFakeEscrowStore(),
		bets:    &fakeBetStore{bets: make(map[string]domain.Bet)},
		markets: &fakeMarketStore{markets: make(map[string]domain.Market)},
		chain: &fakeChain{
			balances: make(map[string]int64),
			statuses: make(map[string]chain.TxStatus),
		},
		alerter: &fakeAlerter{},
	}
	f.engine = NewEngine(f.escrows, f.bets, f.markets, f.chain, f.alerter, Config{
		DepositWindow: 2 * time.Hour,
		MasterAddress: "MASTERADDRESSMASTERADDRESSMASTERADDRESSMASTERADDRESSMASTERAD",
	}, testLogger())
	return f
}

// ---------------------------------------------------------------------------
// CreateEscrow
// ---------------------------------------------------------------------------

func TestCreateEscrow_Success(t *testing.T) {
	f := newFixture(t)
	m := activeMarket()

	bet, esc, err := f.engine.CreateEscrow(context.Background(), m, "PAYOUTADDR", 1, 5, "secret-nonce")
	require.NoError(t, err)

	assert.Equal(t, int64(50000), bet.AmountQu)
	assert.Equal(t, domain.BetStatusPending, bet.Status)
	assert.Equal(t, ledger.CommitmentHash(m.ID, 1, 5, 50000, "secret-nonce"), bet.CommitmentHash)

	assert.Equal(t, bet.ID, esc.BetID)
	assert.Equal(t, domain.EscrowAwaitingDeposit, esc.Status)
	assert.Equal(t, int64(50000), esc.ExpectedAmountQu)
	assert.Len(t, esc.EscrowAddress, domain.AddressLen)
	assert.WithinDuration(t, time.Now().UTC().Add(2*time.Hour), esc.ExpiresAt, time.Minute)

	require.Len(t, f.escrows.created, 1)
	require.Len(t, f.escrows.createdBets, 1)
}

func TestCreateEscrow_Validation(t *testing.T) {
	f := newFixture(t)

	closed := activeMarket()
	closed.Status = domain.MarketStatusClosed
	_, _, err := f.engine.CreateEscrow(context.Background(), closed, "ADDR", 0, 1, "n")
	assert.ErrorIs(t, err, domain.ErrValidation)

	past := activeMarket()
	past.CloseDate = time.Now().UTC().Add(-time.Minute)
	_, _, err = f.engine.CreateEscrow(context.Background(), past, "ADDR", 0, 1, "n")
	assert.ErrorIs(t, err, domain.ErrValidation)

	m := activeMarket()
	_, _, err = f.engine.CreateEscrow(context.Background(), m, "ADDR", 2, 1, "n")
	assert.ErrorIs(t, err, domain.ErrValidation, "option out of range")

	_, _, err = f.engine.CreateEscrow(context.Background(), m, "ADDR", 0, 0, "n")
	assert.ErrorIs(t, err, domain.ErrValidation, "zero slots")
}

func TestCreateEscrow_SlotCap(t *testing.T) {
	f := newFixture(t)
	m := activeMarket() // 5 of 10 slots filled

	_, _, err := f.engine.CreateEscrow(context.Background(), m, "ADDR", 0, 6, "n")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, _, err = f.engine.CreateEscrow(context.Background(), m, "ADDR", 0, 5, "n")
	assert.NoError(t, err, "filling exactly to the cap is allowed")
}

func TestNewEscrowAddress(t *testing.T) {
	a, err := NewEscrowAddress()
	require.NoError(t, err)
	b, err := NewEscrowAddress()
	require.NoError(t, err)

	assert.Len(t, a, domain.AddressLen)
	assert.NotEqual(t, a, b)
	for _, r := range a {
		assert.True(t, r >= 'A' && r <= 'Z', "address must be uppercase A-Z")
	}
}

// ---------------------------------------------------------------------------
// Deposit detection
// ---------------------------------------------------------------------------

func TestCheckDeposits_ConfirmsFunded(t *testing.T) {
	f := newFixture(t)
	f.escrows.byStatus[domain.EscrowAwaitingDeposit] = []domain.Escrow{
		{ID: "esc-funded", EscrowAddress: "ADDR1", ExpectedAmountQu: 50000},
		{ID: "esc-short", EscrowAddress: "ADDR2", ExpectedAmountQu: 50000},
	}
	f.chain.balances["ADDR1"] = 50000
	f.chain.balances["ADDR2"] = 49999

	require.NoError(t, f.engine.CheckDeposits(context.Background()))
	assert.Equal(t, []string{"esc-funded"}, f.escrows.confirmed)
}

func TestCheckDeposits_RejectedDepositAutoRefunds(t *testing.T) {
	f := newFixture(t)
	esc := domain.Escrow{ID: "esc-1", BetID: "bet-1", EscrowAddress: "ESCADDR", ExpectedAmountQu: 50000}
	f.escrows.byStatus[domain.EscrowAwaitingDeposit] = []domain.Escrow{esc}
	f.chain.balances["ESCADDR"] = 50000
	f.bets.bets["bet-1"] = domain.Bet{ID: "bet-1", PayoutAddress: "BETTORADDR"}
	f.escrows.confirmFn = func(id string, amount int64) (domain.DepositOutcome, error) {
		return domain.DepositOutcome{Escrow: esc, Rejected: true, Reason: "slot cap reached before deposit"}, nil
	}

	require.NoError(t, f.engine.CheckDeposits(context.Background()))

	require.Len(t, f.chain.payoutCalls, 1)
	refund := f.chain.payoutCalls[0]
	assert.Equal(t, "ESCADDR", refund.SourceAddress)
	assert.Equal(t, "BETTORADDR", refund.DestAddress)
	assert.Equal(t, int64(50000), refund.AmountQu)
	assert.Equal(t, "refund:esc-1", refund.Reference)

	assert.Equal(t, "payout-tx-1", f.escrows.refunded["esc-1"])
	assert.Equal(t, []string{"auto_refund"}, f.alerter.events)
}

// ---------------------------------------------------------------------------
// Pool joins
// ---------------------------------------------------------------------------

func TestExecuteJoins_SubmitsAndMarksJoining(t *testing.T) {
	f := newFixture(t)
	f.escrows.byStatus[domain.EscrowDepositDetected] = []domain.Escrow{
		{ID: "esc-1", BetID: "bet-1", EscrowAddress: "ESCADDR", DepositAmountQu: 50000},
	}
	f.bets.bets["bet-1"] = domain.Bet{ID: "bet-1", MarketID: "mkt-1", Option: 1, Slots: 5}

	require.NoError(t, f.engine.ExecuteJoins(context.Background()))
	assert.Equal(t, 1, f.chain.joinCalls)
	assert.Equal(t, "join-tx-1", f.escrows.joining["esc-1"])
}

func TestExecuteJoins_ReusesRecordedTxID(t *testing.T) {
	f := newFixture(t)
	f.escrows.byStatus[domain.EscrowDepositDetected] = []domain.Escrow{
		{ID: "esc-1", BetID: "bet-1", JoinBetTxID: "join-tx-earlier"},
	}

	require.NoError(t, f.engine.ExecuteJoins(context.Background()))
	assert.Zero(t, f.chain.joinCalls, "no duplicate join submission")
	assert.Equal(t, "join-tx-earlier", f.escrows.joining["esc-1"])
}

func TestExecuteJoins_PollsUntilConfirmed(t *testing.T) {
	f := newFixture(t)
	f.escrows.byStatus[domain.EscrowJoiningSC] = []domain.Escrow{
		{ID: "esc-confirmed", JoinBetTxID: "tx-a"},
		{ID: "esc-pending", JoinBetTxID: "tx-b"},
	}
	f.chain.statuses["tx-a"] = chain.TxStatus{TxID: "tx-a", Confirmed: true, Tick: 500}
	f.chain.statuses["tx-b"] = chain.TxStatus{TxID: "tx-b", Confirmed: false}

	require.NoError(t, f.engine.ExecuteJoins(context.Background()))
	assert.Equal(t, []string{"esc-confirmed"}, f.escrows.active)
}

func TestExecuteJoins_BreakerShortCircuitStopsRetries(t *testing.T) {
	f := newFixture(t)
	f.escrows.byStatus[domain.EscrowDepositDetected] = []domain.Escrow{
		{ID: "esc-1", BetID: "bet-1"},
	}
	f.bets.bets["bet-1"] = domain.Bet{ID: "bet-1"}
	f.chain.joinErr = fmt.Errorf("chain: circuit open: %w", domain.ErrUpstreamUnavailable)

	err := f.engine.ExecuteJoins(context.Background())
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, 1, f.chain.joinCalls, "breaker short-circuit is not retried")
}

// ---------------------------------------------------------------------------
// Sweeps and refunds
// ---------------------------------------------------------------------------

func TestExecuteSweeps_PaysWinnerFromCustody(t *testing.T) {
	f := newFixture(t)
	f.escrows.byStatus[domain.EscrowWonAwaitingSweep] = []domain.Escrow{
		{ID: "esc-1", BetID: "bet-1"},
	}
	f.bets.bets["bet-1"] = domain.Bet{ID: "bet-1", PayoutAddress: "WINNERADDR", PayoutQu: 95000}

	require.NoError(t, f.engine.ExecuteSweeps(context.Background()))

	require.Len(t, f.chain.payoutCalls, 1)
	sweep := f.chain.payoutCalls[0]
	assert.Equal(t, f.engine.cfg.MasterAddress, sweep.SourceAddress)
	assert.Equal(t, "WINNERADDR", sweep.DestAddress)
	assert.Equal(t, int64(95000), sweep.AmountQu)
	assert.Equal(t, "sweep:esc-1", sweep.Reference)
	assert.Equal(t, "payout-tx-1", f.escrows.swept["esc-1"])
}

func TestExecuteSweeps_ReusesRecordedTxID(t *testing.T) {
	f := newFixture(t)
	f.escrows.byStatus[domain.EscrowWonAwaitingSweep] = []domain.Escrow{
		{ID: "esc-1", BetID: "bet-1", SweepTxID: "sweep-tx-earlier"},
	}
	f.bets.bets["bet-1"] = domain.Bet{ID: "bet-1", PayoutQu: 95000}

	require.NoError(t, f.engine.ExecuteSweeps(context.Background()))
	assert.Empty(t, f.chain.payoutCalls)
	assert.Equal(t, "sweep-tx-earlier", f.escrows.swept["esc-1"])
}

func TestRefundFromPool(t *testing.T) {
	f := newFixture(t)
	f.bets.bets["bet-1"] = domain.Bet{ID: "bet-1", PayoutAddress: "BETTORADDR"}

	esc := domain.Escrow{ID: "esc-1", BetID: "bet-1", DepositAmountQu: 50000, Status: domain.EscrowActiveInSC}
	require.NoError(t, f.engine.RefundFromPool(context.Background(), esc))

	require.Len(t, f.chain.payoutCalls, 1)
	refund := f.chain.payoutCalls[0]
	assert.Equal(t, f.engine.cfg.MasterAddress, refund.SourceAddress)
	assert.Equal(t, "BETTORADDR", refund.DestAddress)
	assert.Equal(t, int64(50000), refund.AmountQu)
	assert.Equal(t, "payout-tx-1", f.escrows.refunded["esc-1"])
}

func TestRefundStragglers_RefundsActiveEscrowOnResolvedMarket(t *testing.T) {
	f := newFixture(t)
	f.escrows.byStatus[domain.EscrowActiveInSC] = []domain.Escrow{
		{ID: "esc-1", BetID: "bet-1", DepositAmountQu: 50000, Status: domain.EscrowActiveInSC},
	}
	f.bets.bets["bet-1"] = domain.Bet{ID: "bet-1", MarketID: "mkt-1", PayoutAddress: "BETTORADDR"}
	m := activeMarket()
	m.Status = domain.MarketStatusResolved
	f.markets.markets["mkt-1"] = m

	require.NoError(t, f.engine.RefundStragglers(context.Background()))

	require.Len(t, f.chain.payoutCalls, 1)
	refund := f.chain.payoutCalls[0]
	assert.Equal(t, "BETTORADDR", refund.DestAddress)
	assert.Equal(t, int64(50000), refund.AmountQu)
	assert.Equal(t, "refund:esc-1", refund.Reference)
	assert.Equal(t, "payout-tx-1", f.escrows.refunded["esc-1"])
}

func TestRefundStragglers_LeavesOpenMarketsAlone(t *testing.T) {
	f := newFixture(t)
	f.escrows.byStatus[domain.EscrowActiveInSC] = []domain.Escrow{
		{ID: "esc-active", BetID: "bet-active", Status: domain.EscrowActiveInSC},
		{ID: "esc-closed", BetID: "bet-closed", Status: domain.EscrowActiveInSC},
	}
	f.bets.bets["bet-active"] = domain.Bet{ID: "bet-active", MarketID: "mkt-active"}
	f.bets.bets["bet-closed"] = domain.Bet{ID: "bet-closed", MarketID: "mkt-closed"}

	open := activeMarket()
	open.ID = "mkt-active"
	f.markets.markets["mkt-active"] = open

	closed := activeMarket()
	closed.ID = "mkt-closed"
	closed.Status = domain.MarketStatusClosed
	f.markets.markets["mkt-closed"] = closed

	require.NoError(t, f.engine.RefundStragglers(context.Background()))
	assert.Empty(t, f.chain.payoutCalls, "escrows awaiting resolution are not touched")
	assert.Empty(t, f.escrows.refunded)
}

func TestRefundStragglers_CancelledMarket(t *testing.T) {
	f := newFixture(t)
	f.escrows.byStatus[domain.EscrowActiveInSC] = []domain.Escrow{
		{ID: "esc-1", BetID: "bet-1", DepositAmountQu: 30000, Status: domain.EscrowActiveInSC},
	}
	f.bets.bets["bet-1"] = domain.Bet{ID: "bet-1", MarketID: "mkt-1", PayoutAddress: "BETTORADDR"}
	m := activeMarket()
	m.Status = domain.MarketStatusCancelled
	f.markets.markets["mkt-1"] = m

	require.NoError(t, f.engine.RefundStragglers(context.Background()))
	assert.Equal(t, "payout-tx-1", f.escrows.refunded["esc-1"])
}
