package domain

import "errors"

var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown market, bet, escrow, or account.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks duplicate nonces, double cancels, and illegal
	// state transitions.
	ErrConflict = errors.New("conflict")
	// ErrRateLimited marks a request rejected by a rate limiter.
	ErrRateLimited = errors.New("rate limited")
	// ErrUpstreamUnavailable marks an open circuit or exhausted RPC
	// endpoint list.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrLockHeld marks a distributed lock already held by another party.
	ErrLockHeld = errors.New("lock already held")
)
