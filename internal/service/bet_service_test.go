package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubex-labs/qupool/internal/domain"
)

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

type fakeNonceStore struct {
	registered map[string]bool
}

func (s *fakeNonceStore) Register(_ context.Context, address, purpose, nonce string) error {
	key := address + "|" + purpose + "|" + nonce
	if s.registered[key] {
		return domain.ErrConflict
	}
	if s.registered == nil {
		s.registered = make(map[string]bool)
	}
	s.registered[key] = true
	return nil
}

func TestPlaceBet_RejectsBeforeAnyStateChange(t *testing.T) {
	addr := strings.Repeat("A", domain.AddressLen)
	nonces := &fakeNonceStore{}
	s := &BetService{
		markets: &fakeMarketStore{markets: map[string]domain.Market{}},
		nonces:  nonces,
		logger:  testLogger(),
	}

	_, err := s.PlaceBet(context.Background(), PlaceBetRequest{
		MarketID: "mkt-1", PayoutAddress: "bad-address", Nonce: "nonce-123",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.PlaceBet(context.Background(), PlaceBetRequest{
		MarketID: "mkt-1", PayoutAddress: addr, Nonce: "short",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.PlaceBet(context.Background(), PlaceBetRequest{
		PayoutAddress: addr, Nonce: "nonce-123",
	})
	assert.ErrorIs(t, err, domain.ErrValidation, "missing market id")

	_, err = s.PlaceBet(context.Background(), PlaceBetRequest{
		MarketID: "mkt-unknown", PayoutAddress: addr, Nonce: "nonce-123",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Nothing above may burn a nonce.
	assert.Empty(t, nonces.registered)
}

func bettableMarket() domain.Market {
	return domain.Market{
		ID:        "mkt-1",
		Options:   []string{"yes", "no"},
		MaxSlots:  10,
		MinBetQu:  10000,
		Status:    domain.MarketStatusActive,
		CloseDate: time.Now().UTC().Add(time.Hour),
	}
}

func TestPlaceBet_ReplayedNonce(t *testing.T) {
	addr := strings.Repeat("A", domain.AddressLen)
	nonces := &fakeNonceStore{}
	require.NoError(t, nonces.Register(context.Background(), addr, noncePurposeBet, "nonce-123"))

	s := &BetService{
		markets: &fakeMarketStore{markets: map[string]domain.Market{"mkt-1": bettableMarket()}},
		nonces:  nonces,
		logger:  testLogger(),
	}

	_, err := s.PlaceBet(context.Background(), PlaceBetRequest{
		MarketID: "mkt-1", PayoutAddress: addr, Nonce: "nonce-123", Option: 0, Slots: 1,
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestPlaceBet_RejectedTermsLeaveNonceReusable(t *testing.T) {
	addr := strings.Repeat("A", domain.AddressLen)
	nonces := &fakeNonceStore{}
	s := &BetService{
		markets: &fakeMarketStore{markets: map[string]domain.Market{"mkt-1": bettableMarket()}},
		nonces:  nonces,
		logger:  testLogger(),
	}

	_, err := s.PlaceBet(context.Background(), PlaceBetRequest{
		MarketID: "mkt-1", PayoutAddress: addr, Nonce: "nonce-123", Option: 2, Slots: 1,
	})
	assert.ErrorIs(t, err, domain.ErrValidation, "option out of range")

	_, err = s.PlaceBet(context.Background(), PlaceBetRequest{
		MarketID: "mkt-1", PayoutAddress: addr, Nonce: "nonce-123", Option: 0, Slots: 0,
	})
	assert.ErrorIs(t, err, domain.ErrValidation, "zero slots")

	// A rejected bet must not consume its nonce.
	assert.Empty(t, nonces.registered)
}
