// Package ratelimit provides the per-source fixed-window rate limit contract.
package ratelimit

import (
	"context"
	"time"
)

// Window is the fixed window length. The first request in a new window
// initializes the counter; the window resets 60s after its start.
const Window = time.Minute

// Result contains the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is within the limit.
	Allowed bool

	// Remaining is the number of requests left in the current window,
	// never negative.
	Remaining int

	// ResetAt is when the current window ends and the counter resets.
	ResetAt time.Time
}

// Limiter is the rate limiting contract. In-process state is sufficient for a
// single-instance deployment; the contract is identical for a distributed
// backing store.
type Limiter interface {
	// Check records a request for key under limitPerMinute and reports
	// whether it is allowed. A check whose stored window has ended resets
	// the counter (opportunistic reclaim).
	Check(ctx context.Context, key string, limitPerMinute int) (Result, error)

	// Reset clears the counter for key. Intended for tests.
	Reset(key string)
}
