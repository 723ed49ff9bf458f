// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/driftline/driftline/internal/domain/ratelimit"
)

// window tracks the request count for one source key within a fixed window.
type window struct {
	start time.Time
	count int
}

// RateLimiter implements ratelimit.Limiter with fixed one-minute windows in
// memory. Thread-safe for concurrent access. Expired entries are reclaimed
// opportunistically on Check and by a periodic background sweep.
type RateLimiter struct {
	windows map[string]*window
	mu      sync.Mutex

	stopChan      chan struct{}
	wg            sync.WaitGroup
	once          sync.Once
	sweepInterval time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimiter creates an in-memory fixed-window rate limiter.
// Default sweep interval: 5 minutes.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithConfig(5 * time.Minute)
}

// NewRateLimiterWithConfig creates a rate limiter with a custom sweep interval.
func NewRateLimiterWithConfig(sweepInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		windows:       make(map[string]*window),
		stopChan:      make(chan struct{}),
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// Check records a request for key under limitPerMinute.
// The first request in a new window initializes the counter; a check whose
// stored window has ended resets it.
func (r *RateLimiter) Check(_ context.Context, key string, limitPerMinute int) (ratelimit.Result, error) {
	if limitPerMinute <= 0 {
		limitPerMinute = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[key]
	if !ok || !now.Before(w.start.Add(ratelimit.Window)) {
		w = &window{start: now}
		r.windows[key] = w
	}

	resetAt := w.start.Add(ratelimit.Window)

	if w.count >= limitPerMinute {
		return ratelimit.Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	w.count++
	remaining := limitPerMinute - w.count
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Result{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

// Reset clears the counter for key. Intended for tests.
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, key)
}

// StartSweep starts the background goroutine that removes expired windows.
// It stops when ctx is cancelled or Stop is called.
func (r *RateLimiter) StartSweep(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// sweep removes windows that ended before now.
func (r *RateLimiter) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cleaned := 0
	for key, w := range r.windows {
		if !now.Before(w.start.Add(ratelimit.Window)) {
			delete(r.windows, key)
			cleaned++
		}
	}
	if cleaned > 0 {
		slog.Debug("rate limiter sweep completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.windows))
	}
}

// Stop gracefully stops the sweep goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *RateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*RateLimiter)(nil)
