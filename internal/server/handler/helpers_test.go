package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubex-labs/qupool/internal/domain"
)

type fakeIdemStore struct {
	records map[string]domain.IdempotencyRecord
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{records: make(map[string]domain.IdempotencyRecord)}
}

func (s *fakeIdemStore) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	rec, ok := s.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *fakeIdemStore) Put(_ context.Context, rec domain.IdempotencyRecord) error {
	if _, ok := s.records[rec.Key]; ok {
		return domain.ErrConflict
	}
	s.records[rec.Key] = rec
	return nil
}

func (s *fakeIdemStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIdempotent_ReplaysFirstResponse(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	h := Idempotent(store, testLogger(), func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusCreated, map[string]int{"call": calls})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/bets", nil)
	req.Header.Set("Idempotency-Key", "key-1")

	first := httptest.NewRecorder()
	h(first, req)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get("Idempotent-Replay"))

	second := httptest.NewRecorder()
	h(second, req)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls, "handler must not re-run on replay")
}

func TestIdempotent_NoHeaderPassesThrough(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	h := Idempotent(store, testLogger(), func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/bets", nil)
	h(httptest.NewRecorder(), req)
	h(httptest.NewRecorder(), req)

	assert.Equal(t, 2, calls)
	assert.Empty(t, store.records)
}

func TestIdempotent_ErrorsAreNotCached(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	h := Idempotent(store, testLogger(), func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeError(w, http.StatusConflict, "try again")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"ok": "yes"})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/bets", nil)
	req.Header.Set("Idempotency-Key", "key-1")

	first := httptest.NewRecorder()
	h(first, req)
	assert.Equal(t, http.StatusConflict, first.Code)

	second := httptest.NewRecorder()
	h(second, req)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 2, calls, "a failed attempt must re-run the handler")
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{errors.New("something unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		writeDomainError(w, r, testLogger(), tt.err, "internal error")
		assert.Equal(t, tt.status, w.Code, tt.err.Error())
	}

	// Rate limiting tells the client when to come back.
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	writeDomainError(w, r, testLogger(), domain.ErrRateLimited, "internal error")
	assert.Equal(t, "10", w.Header().Get("Retry-After"))
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	opts := parseListOpts(r)
	assert.Equal(t, 50, opts.Limit)
	assert.Zero(t, opts.Offset)

	r = httptest.NewRequest(http.MethodGet, "/api/markets?limit=100&offset=20", nil)
	opts = parseListOpts(r)
	assert.Equal(t, 100, opts.Limit)
	assert.Equal(t, 20, opts.Offset)

	r = httptest.NewRequest(http.MethodGet, "/api/markets?limit=9999", nil)
	assert.Equal(t, 500, parseListOpts(r).Limit)

	r = httptest.NewRequest(http.MethodGet, "/api/markets?limit=-5&offset=-3", nil)
	opts = parseListOpts(r)
	assert.Equal(t, 50, opts.Limit)
	assert.Zero(t, opts.Offset)
}
