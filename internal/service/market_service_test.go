package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubex-labs/qupool/internal/chain"
	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/oracle"
)

type fakeBetStore struct {
	bets []domain.Bet
}

func (s *fakeBetStore) GetByID(context.Context, string) (domain.Bet, error) {
	return domain.Bet{}, domain.ErrNotFound
}

func (s *fakeBetStore) ListByMarket(context.Context, string) ([]domain.Bet, error) {
	return s.bets, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticSource struct {
	name  string
	price float64
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) FetchPrice(_ context.Context, pair string) (oracle.Reading, error) {
	return oracle.Reading{Source: s.name, Pair: pair, Price: s.price, Timestamp: time.Now().UTC()}, nil
}

// fakeSettleStore mirrors the store contract for Settle: the market flips
// closed -> resolved and escrows settle in the same transaction, so a
// failure leaves the market closed and a retry is possible.
type fakeSettleStore struct {
	domain.EscrowStore

	markets     *fakeMarketStore
	settleCalls int
	failures    int
	payouts     map[string]int64
}

func (s *fakeSettleStore) Settle(_ context.Context, marketID string, winningOption int, resolutionPrice float64, payouts map[string]int64) error {
	s.settleCalls++
	if s.settleCalls <= s.failures {
		return errors.New("postgres: connection reset")
	}
	m, ok := s.markets.markets[marketID]
	if !ok || m.Status != domain.MarketStatusClosed {
		return domain.ErrConflict
	}
	m.Status = domain.MarketStatusResolved
	m.ResolutionPrice = &resolutionPrice
	m.WinningOption = &winningOption
	s.markets.markets[marketID] = m
	s.payouts = payouts
	return nil
}

// fakeAttestStore keeps one attestation per market and source, matching
// the unique constraint on the real table.
type fakeAttestStore struct {
	attests map[string]domain.Attestation
}

func (s *fakeAttestStore) Insert(_ context.Context, a domain.Attestation) error {
	key := a.MarketID + "|" + a.OracleSource
	if _, ok := s.attests[key]; ok {
		return nil
	}
	if s.attests == nil {
		s.attests = make(map[string]domain.Attestation)
	}
	s.attests[key] = a
	return nil
}

func (s *fakeAttestStore) ListByMarket(context.Context, string) ([]domain.Attestation, error) {
	return nil, nil
}

type fakeLedgerStore struct {
	domain.LedgerStore

	events []domain.EventKind
}

func (s *fakeLedgerStore) Append(_ context.Context, kind domain.EventKind, _ string, _ map[string]any) (domain.LedgerEntry, error) {
	s.events = append(s.events, kind)
	return domain.LedgerEntry{}, nil
}

type fakeTickChain struct {
	chain.Client
}

func (c *fakeTickChain) GetTickInfo(context.Context) (chain.TickInfo, error) {
	return chain.TickInfo{Tick: 12000, Epoch: 142}, nil
}

func TestResolveMarket_RetriesAfterSettleFailure(t *testing.T) {
	markets := &fakeMarketStore{markets: map[string]domain.Market{
		"mkt-1": {
			ID:               "mkt-1",
			Pair:             "QUBIC/USDT",
			ResolutionType:   domain.ResolutionAbove,
			ResolutionTarget: 1.0,
			Options:          []string{"yes", "no"},
			Status:           domain.MarketStatusClosed,
		},
	}}
	escrows := &fakeSettleStore{markets: markets, failures: 1}
	attests := &fakeAttestStore{}
	ledgers := &fakeLedgerStore{}
	bets := &fakeBetStore{bets: []domain.Bet{
		{ID: "b1", Option: 0, Slots: 2, AmountQu: 20000, Status: domain.BetStatusConfirmed},
	}}

	svc := &MarketService{
		markets: markets,
		bets:    bets,
		escrows: escrows,
		attests: attests,
		ledgers: ledgers,
		resolver: oracle.NewResolver([]oracle.PriceSource{
			staticSource{"binance", 1.5},
			staticSource{"gate", 1.4},
			staticSource{"mexc", 1.6},
		}, nil, time.Second, testLogger()),
		signer: oracle.NewSigner([]byte("test-signing-key")),
		chain:  &fakeTickChain{},
		logger: testLogger(),
	}

	_, err := svc.ResolveMarket(context.Background(), "mkt-1")
	require.Error(t, err)
	assert.Equal(t, 1, escrows.settleCalls)
	assert.Equal(t, domain.MarketStatusClosed, markets.markets["mkt-1"].Status,
		"a failed settlement leaves the market closed")

	m, err := svc.ResolveMarket(context.Background(), "mkt-1")
	require.NoError(t, err, "a closed market stays resolvable after a transient settle failure")
	assert.Equal(t, 2, escrows.settleCalls)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	require.NotNil(t, m.ResolutionPrice)
	require.NotNil(t, m.WinningOption)
	assert.Equal(t, 1.5, *m.ResolutionPrice)
	assert.Equal(t, 0, *m.WinningOption)
	assert.Equal(t, map[string]int64{"b1": 20000}, escrows.payouts)

	assert.Len(t, attests.attests, 3, "the retry reuses per-source attestations")
	assert.Equal(t, []domain.EventKind{domain.EventMarketResolved}, ledgers.events,
		"only the successful pass reaches the ledger")
}

func TestResolveMarket_RequiresClosedMarket(t *testing.T) {
	markets := &fakeMarketStore{markets: map[string]domain.Market{
		"mkt-1": {ID: "mkt-1", Status: domain.MarketStatusActive},
	}}
	svc := &MarketService{markets: markets, logger: testLogger()}

	_, err := svc.ResolveMarket(context.Background(), "mkt-1")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestOutcome(t *testing.T) {
	s := &MarketService{logger: testLogger()}

	tests := []struct {
		name   string
		market domain.Market
		median float64
		want   int
	}{
		{"above wins", domain.Market{ResolutionType: domain.ResolutionAbove, ResolutionTarget: 1.0}, 1.5, 0},
		{"above loses at target", domain.Market{ResolutionType: domain.ResolutionAbove, ResolutionTarget: 1.0}, 1.0, 1},
		{"below wins", domain.Market{ResolutionType: domain.ResolutionBelow, ResolutionTarget: 1.0}, 0.5, 0},
		{"below loses at target", domain.Market{ResolutionType: domain.ResolutionBelow, ResolutionTarget: 1.0}, 1.0, 1},
		{"between wins at lower bound", domain.Market{ResolutionType: domain.ResolutionBetween, ResolutionTarget: 1.0, ResolutionTargetHigh: 2.0}, 1.0, 0},
		{"between wins at upper bound", domain.Market{ResolutionType: domain.ResolutionBetween, ResolutionTarget: 1.0, ResolutionTargetHigh: 2.0}, 2.0, 0},
		{"between loses outside", domain.Market{ResolutionType: domain.ResolutionBetween, ResolutionTarget: 1.0, ResolutionTargetHigh: 2.0}, 2.1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.outcome(tt.market, tt.median))
		})
	}
}

func TestComputePayouts_SplitsPoolBySlots(t *testing.T) {
	bets := &fakeBetStore{bets: []domain.Bet{
		{ID: "b1", Option: 0, Slots: 3, AmountQu: 30000, Status: domain.BetStatusConfirmed},
		{ID: "b2", Option: 0, Slots: 1, AmountQu: 10000, Status: domain.BetStatusConfirmed},
		{ID: "b3", Option: 1, Slots: 6, AmountQu: 60000, Status: domain.BetStatusConfirmed},
	}}
	s := &MarketService{bets: bets, feeBps: 200, logger: testLogger()}

	payouts, pool, fee := s.computePayouts(context.Background(), domain.Market{ID: "mkt-1"}, 0)

	assert.Equal(t, int64(100000), pool)
	assert.Equal(t, int64(2000), fee) // 2% of the gross pool

	// 98000 distributable over 4 winning slots.
	require.Len(t, payouts, 2)
	assert.Equal(t, int64(73500), payouts["b1"])
	assert.Equal(t, int64(24500), payouts["b2"])
}

func TestComputePayouts_IgnoresUnconfirmedBets(t *testing.T) {
	bets := &fakeBetStore{bets: []domain.Bet{
		{ID: "b1", Option: 0, Slots: 1, AmountQu: 10000, Status: domain.BetStatusConfirmed},
		{ID: "b2", Option: 0, Slots: 1, AmountQu: 10000, Status: domain.BetStatusPending},
		{ID: "b3", Option: 0, Slots: 1, AmountQu: 10000, Status: domain.BetStatusRefunded},
	}}
	s := &MarketService{bets: bets, feeBps: 0, logger: testLogger()}

	payouts, pool, _ := s.computePayouts(context.Background(), domain.Market{ID: "mkt-1"}, 0)

	assert.Equal(t, int64(10000), pool)
	require.Len(t, payouts, 1)
	assert.Equal(t, int64(10000), payouts["b1"])
}

func TestComputePayouts_NoWinners(t *testing.T) {
	bets := &fakeBetStore{bets: []domain.Bet{
		{ID: "b1", Option: 1, Slots: 2, AmountQu: 20000, Status: domain.BetStatusConfirmed},
	}}
	s := &MarketService{bets: bets, feeBps: 200, logger: testLogger()}

	payouts, pool, fee := s.computePayouts(context.Background(), domain.Market{ID: "mkt-1"}, 0)

	assert.Empty(t, payouts)
	assert.Equal(t, int64(20000), pool)
	assert.Equal(t, int64(400), fee)
}

func TestComputePayouts_IntegerDustStaysInPool(t *testing.T) {
	bets := &fakeBetStore{bets: []domain.Bet{
		{ID: "b1", Option: 0, Slots: 1, AmountQu: 10000, Status: domain.BetStatusConfirmed},
		{ID: "b2", Option: 0, Slots: 1, AmountQu: 10000, Status: domain.BetStatusConfirmed},
		{ID: "b3", Option: 0, Slots: 1, AmountQu: 10001, Status: domain.BetStatusConfirmed},
	}}
	s := &MarketService{bets: bets, feeBps: 0, logger: testLogger()}

	payouts, pool, _ := s.computePayouts(context.Background(), domain.Market{ID: "mkt-1"}, 0)

	// 30001 over 3 slots leaves 1 qu of dust undistributed.
	assert.Equal(t, int64(30001), pool)
	var distributed int64
	for _, p := range payouts {
		distributed += p
	}
	assert.Equal(t, int64(30000), distributed)
}

func TestValidateMarketRequest(t *testing.T) {
	valid := func() CreateMarketRequest {
		return CreateMarketRequest{
			Question:         "Will QUBIC close above 0.000003?",
			Pair:             "QUBIC/USDT",
			ResolutionType:   "above",
			ResolutionTarget: 0.000003,
			Options:          []string{"yes", "no"},
			MaxSlots:         100,
			MinBetQu:         10000,
			CloseDate:        time.Now().UTC().Add(time.Hour),
			EndDate:          time.Now().UTC().Add(2 * time.Hour),
		}
	}

	assert.NoError(t, validateMarketRequest(valid()))

	tests := []struct {
		name   string
		mutate func(*CreateMarketRequest)
	}{
		{"unknown resolution type", func(r *CreateMarketRequest) { r.ResolutionType = "exactly" }},
		{"between without high bound", func(r *CreateMarketRequest) {
			r.ResolutionType = "between"
			r.ResolutionTargetHigh = r.ResolutionTarget
		}},
		{"empty question", func(r *CreateMarketRequest) { r.Question = "" }},
		{"empty pair", func(r *CreateMarketRequest) { r.Pair = "" }},
		{"single option", func(r *CreateMarketRequest) { r.Options = []string{"yes"} }},
		{"zero max slots", func(r *CreateMarketRequest) { r.MaxSlots = 0 }},
		{"zero min bet", func(r *CreateMarketRequest) { r.MinBetQu = 0 }},
		{"close in the past", func(r *CreateMarketRequest) { r.CloseDate = time.Now().UTC().Add(-time.Hour) }},
		{"end before close", func(r *CreateMarketRequest) { r.EndDate = r.CloseDate.Add(-time.Minute) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			assert.ErrorIs(t, validateMarketRequest(req), domain.ErrValidation)
		})
	}
}
