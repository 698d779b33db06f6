package internal

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter keyed by caller identity, used for
// login attempts per IP and chat events per connection.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	return r.AllowAt(key, time.Now())
}

// AllowAt records a hit at now if key is under its limit.
func (r *RateLimiter) AllowAt(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	windowStart := now.Add(-r.window)
	slice := r.hits[key]
	idx := 0
	for _, ts := range slice {
		if ts.After(windowStart) {
			slice[idx] = ts
			idx++
		}
	}
	slice = slice[:idx]
	if len(slice) >= r.limit {
		r.hits[key] = slice
		return false
	}
	r.hits[key] = append(slice, now)
	return true
}

// Forget drops the history for key, e.g. when a connection closes.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	delete(r.hits, key)
	r.mu.Unlock()
}
