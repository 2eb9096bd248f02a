package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/qubex-labs/qupool/internal/domain"
)

// idempotencyTTL is how long a cached response stays replayable.
const idempotencyTTL = 24 * time.Hour

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain sentinel errors onto HTTP status codes.
// fallback is logged and returned as a 500 for anything unrecognized.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.ErrorContext(r.Context(), "handler: "+fallback,
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// parseListOpts extracts pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter (Go 1.22+ routing).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// recordingWriter buffers the response body so it can be cached for
// idempotent replay.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Idempotent wraps a mutating handler with Idempotency-Key replay. A
// repeated key returns the first response verbatim instead of re-running
// the handler. Requests without the header pass straight through.
func Idempotent(store domain.IdempotencyStore, logger *slog.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}

		if rec, err := store.Get(r.Context(), key); err == nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(rec.StatusCode)
			w.Write([]byte(rec.Response))
			return
		} else if !errors.Is(err, domain.ErrNotFound) {
			logger.ErrorContext(r.Context(), "handler: idempotency lookup failed",
				slog.String("error", err.Error()),
			)
		}

		rw := &recordingWriter{ResponseWriter: w}
		next(rw, r)

		// Only successful outcomes are worth replaying; a 4xx/5xx retry
		// should re-run the handler.
		if rw.status < 200 || rw.status >= 300 {
			return
		}

		now := time.Now().UTC()
		err := store.Put(r.Context(), domain.IdempotencyRecord{
			Key:        key,
			StatusCode: rw.status,
			Response:   rw.body.String(),
			ExpiresAt:  now.Add(idempotencyTTL),
			CreatedAt:  now,
		})
		if err != nil && !errors.Is(err, domain.ErrConflict) {
			logger.ErrorContext(r.Context(), "handler: idempotency store failed",
				slog.String("error", err.Error()),
			)
		}
	}
}
