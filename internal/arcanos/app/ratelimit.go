package app

import (
	"sync"
	"time"
)

const (
	// DefaultAskRateLimit is the maximum number of conversation turns
	// allowed per source per minute when no explicit limit is configured.
	DefaultAskRateLimit = 20

	// defaultRateLimitWindow is the sliding window duration.
	defaultRateLimitWindow = time.Minute
)

// RateLimiter enforces a per-source sliding-window rate limit on
// conversation turns.
//
// Internally it holds the call timestamps for each source within the current
// window and prunes stale entries on every Allow call, keeping memory
// bounded to O(limit) entries per active source.
//
// RateLimiter is safe for concurrent use from multiple goroutines.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counters map[string][]time.Time // source → call timestamps in window
}

// NewRateLimiter returns a RateLimiter that allows at most limit calls per
// source within window.
//
// If limit ≤ 0 it defaults to DefaultAskRateLimit.
// If window ≤ 0 it defaults to one minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultAskRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		counters: make(map[string][]time.Time),
	}
}

// Allow returns true when the source is permitted another turn and records
// the current timestamp. Returns false when the source has exhausted its
// quota for the current window.
func (r *RateLimiter) Allow(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	existing := r.counters[source]
	valid := existing[:0] // reuse backing array
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= r.limit {
		r.counters[source] = valid
		return false
	}

	r.counters[source] = append(valid, now)
	return true
}

// Remaining returns the number of turns the source can still make within
// the current window. A return value of 0 means the next Allow call will
// return false.
func (r *RateLimiter) Remaining(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	count := 0
	for _, t := range r.counters[source] {
		if t.After(cutoff) {
			count++
		}
	}
	rem := r.limit - count
	if rem < 0 {
		return 0
	}
	return rem
}
