package oracle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testReading() Reading {
	return Reading{
		Source:    "binance",
		Pair:      "QUBIC/USDT",
		Price:     0.00000215,
		Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestSigner_AttestAndVerify(t *testing.T) {
	s := NewSigner([]byte("server-key"))
	a := s.Attest("att-1", "mkt-1", testReading(), 18_500_000, 142)

	assert.Equal(t, "mkt-1", a.MarketID)
	assert.Equal(t, "binance", a.OracleSource)
	assert.Len(t, a.AttestationHash, 64)
	assert.NotEmpty(t, a.ServerSignature)

	res := s.Verify(a)
	assert.True(t, res.HashValid)
	assert.True(t, res.SigValid)
}

func TestSigner_Verify_TamperedPrice(t *testing.T) {
	s := NewSigner([]byte("server-key"))
	a := s.Attest("att-1", "mkt-1", testReading(), 18_500_000, 142)

	a.Price = 0.5

	res := s.Verify(a)
	assert.False(t, res.HashValid)
	assert.False(t, res.SigValid)
}

func TestSigner_Verify_TamperedTick(t *testing.T) {
	s := NewSigner([]byte("server-key"))
	a := s.Attest("att-1", "mkt-1", testReading(), 18_500_000, 142)

	a.Tick = 18_500_001

	res := s.Verify(a)
	assert.False(t, res.HashValid)
}

func TestSigner_Verify_WrongKey(t *testing.T) {
	s := NewSigner([]byte("server-key"))
	a := s.Attest("att-1", "mkt-1", testReading(), 18_500_000, 142)

	// The hash still checks out under any key; only the signature fails.
	other := NewSigner([]byte("different-key"))
	res := other.Verify(a)
	assert.True(t, res.HashValid)
	assert.False(t, res.SigValid)
}

func TestSigner_Verify_ForgedSignature(t *testing.T) {
	s := NewSigner([]byte("server-key"))
	a := s.Attest("att-1", "mkt-1", testReading(), 18_500_000, 142)

	a.ServerSignature = "Zm9yZ2Vk"

	res := s.Verify(a)
	assert.True(t, res.HashValid)
	assert.False(t, res.SigValid)
}

func TestMedian_OddCount(t *testing.T) {
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
}

func TestMedian_EvenCount(t *testing.T) {
	assert.Equal(t, 2.5, Median([]float64{4, 1, 2, 3}))
}

func TestMedian_SingleValue(t *testing.T) {
	assert.Equal(t, 7.5, Median([]float64{7.5}))
}

func TestMedian_Empty(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
}

func TestMedian_OutlierResistant(t *testing.T) {
	// One wildly wrong source must not move the median.
	assert.Equal(t, 0.0000021, Median([]float64{0.0000020, 0.0000021, 99999}))
}

func TestMedian_DoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in)
}
