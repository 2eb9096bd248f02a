package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAddress(t *testing.T) {
	valid := strings.Repeat("A", AddressLen)

	tests := []struct {
		name string
		addr string
		ok   bool
	}{
		{"valid", valid, true},
		{"empty", "", false},
		{"too short", strings.Repeat("A", AddressLen-1), false},
		{"too long", strings.Repeat("A", AddressLen+1), false},
		{"lowercase", strings.Repeat("a", AddressLen), false},
		{"digit", strings.Repeat("A", AddressLen-1) + "1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ok {
				assert.NoError(t, CheckAddress(tt.addr))
			} else {
				assert.ErrorIs(t, CheckAddress(tt.addr), ErrValidation)
			}
		})
	}
}

func TestCheckNonce(t *testing.T) {
	assert.NoError(t, CheckNonce("12345678"))
	assert.NoError(t, CheckNonce(strings.Repeat("x", 128)))
	assert.ErrorIs(t, CheckNonce("1234567"), ErrValidation)
	assert.ErrorIs(t, CheckNonce(strings.Repeat("x", 129)), ErrValidation)
}

func TestMarketTransitions(t *testing.T) {
	tests := []struct {
		from MarketStatus
		to   MarketStatus
		ok   bool
	}{
		{MarketStatusDraft, MarketStatusActive, true},
		{MarketStatusDraft, MarketStatusCancelled, true},
		{MarketStatusDraft, MarketStatusResolved, false},
		{MarketStatusActive, MarketStatusClosed, true},
		{MarketStatusActive, MarketStatusCancelled, true},
		{MarketStatusActive, MarketStatusResolved, false},
		{MarketStatusClosed, MarketStatusResolved, true},
		{MarketStatusClosed, MarketStatusCancelled, true},
		{MarketStatusClosed, MarketStatusActive, false},
		{MarketStatusResolved, MarketStatusCancelled, false},
		{MarketStatusCancelled, MarketStatusActive, false},
	}
	for _, tt := range tests {
		m := Market{Status: tt.from}
		assert.Equal(t, tt.ok, m.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestEscrowTransitions(t *testing.T) {
	tests := []struct {
		from EscrowStatus
		to   EscrowStatus
		ok   bool
	}{
		{EscrowAwaitingDeposit, EscrowDepositDetected, true},
		{EscrowAwaitingDeposit, EscrowExpired, true},
		{EscrowAwaitingDeposit, EscrowCancelled, true},
		{EscrowAwaitingDeposit, EscrowRefunded, true},
		{EscrowAwaitingDeposit, EscrowActiveInSC, false},
		{EscrowDepositDetected, EscrowJoiningSC, true},
		{EscrowDepositDetected, EscrowCancelled, false},
		{EscrowJoiningSC, EscrowActiveInSC, true},
		{EscrowActiveInSC, EscrowWonAwaitingSweep, true},
		{EscrowActiveInSC, EscrowLost, true},
		{EscrowActiveInSC, EscrowRefunded, true},
		{EscrowWonAwaitingSweep, EscrowSwept, true},
		{EscrowSwept, EscrowRefunded, false},
		{EscrowLost, EscrowWonAwaitingSweep, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestEscrowTerminalStates(t *testing.T) {
	terminal := []EscrowStatus{EscrowSwept, EscrowLost, EscrowRefunded, EscrowExpired, EscrowCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), s)
	}
	live := []EscrowStatus{EscrowAwaitingDeposit, EscrowDepositDetected, EscrowJoiningSC, EscrowActiveInSC, EscrowWonAwaitingSweep}
	for _, s := range live {
		assert.False(t, s.Terminal(), s)
	}
}

func TestMarketTotalSlots(t *testing.T) {
	m := Market{SlotsPerOption: map[int]int{0: 3, 1: 4, 2: 0}}
	assert.Equal(t, 7, m.TotalSlots())

	empty := Market{}
	assert.Zero(t, empty.TotalSlots())
}
