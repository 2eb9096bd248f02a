package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubex-labs/qupool/internal/domain"
)

func tickServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/v1/tick-info", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tickInfo":{"tick":12345,"epoch":142}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failingServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "node is syncing", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewPool_RequiresEndpoints(t *testing.T) {
	_, err := NewPool(nil, time.Second)
	assert.Error(t, err)
}

func TestPool_FallsThroughToHealthyEndpoint(t *testing.T) {
	var badHits, goodHits atomic.Int32
	bad := failingServer(t, &badHits)
	good := tickServer(t, &goodHits)

	pool, err := NewPool([]string{bad.URL, good.URL}, time.Second)
	require.NoError(t, err)

	info, err := pool.GetTickInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), info.Tick)
	assert.Equal(t, uint32(142), info.Epoch)
	assert.Equal(t, int32(1), badHits.Load())
	assert.Equal(t, int32(1), goodHits.Load())
}

func TestPool_SuccessAdvancesCursor(t *testing.T) {
	var firstHits, secondHits atomic.Int32
	first := tickServer(t, &firstHits)
	second := tickServer(t, &secondHits)

	pool, err := NewPool([]string{first.URL, second.URL}, time.Second)
	require.NoError(t, err)

	_, err = pool.GetTickInfo(context.Background())
	require.NoError(t, err)
	_, err = pool.GetTickInfo(context.Background())
	require.NoError(t, err)

	// Round-robin: one call each, not two against the first endpoint.
	assert.Equal(t, int32(1), firstHits.Load())
	assert.Equal(t, int32(1), secondHits.Load())
}

func TestPool_AllEndpointsDown(t *testing.T) {
	var hits atomic.Int32
	a := failingServer(t, &hits)
	b := failingServer(t, &hits)

	pool, err := NewPool([]string{a.URL, b.URL}, time.Second)
	require.NoError(t, err)

	_, err = pool.GetTickInfo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}

func TestPool_ContextCancellation(t *testing.T) {
	var hits atomic.Int32
	srv := tickServer(t, &hits)

	pool, err := NewPool([]string{srv.URL}, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = pool.GetTickInfo(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, hits.Load())
}

func TestRPCClient_GetBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/balances/TESTADDR", r.URL.Path)
		w.Write([]byte(`{"balance":{"id":"TESTADDR","balance":"1500000"}}`))
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, time.Second)
	got, err := c.GetBalance(context.Background(), "TESTADDR")
	require.NoError(t, err)
	assert.Equal(t, int64(1500000), got)
}

func TestRPCClient_SubmitJoinBet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/transactions/join-bet", r.URL.Path)
		w.Write([]byte(`{"txId":"tx-abc123"}`))
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, time.Second)
	txID, err := c.SubmitJoinBet(context.Background(), JoinBetRequest{EscrowAddress: "ESCROW"})
	require.NoError(t, err)
	assert.Equal(t, "tx-abc123", txID)
}

func TestRPCClient_SubmitJoinBet_EmptyTxID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, time.Second)
	_, err := c.SubmitJoinBet(context.Background(), JoinBetRequest{})
	assert.Error(t, err)
}
