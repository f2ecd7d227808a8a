package gateway

import (
	"sync"
	"time"
)

// ClientRateLimiter implements sliding window rate limiting per connection
type ClientRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	window            time.Duration
	requests          []time.Time
	now               func() time.Time
}

// NewClientRateLimiter creates a limiter allowing requestsPerMinute requests
// in any trailing minute. A limit of 0 or less allows everything.
func NewClientRateLimiter(requestsPerMinute int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		window:            time.Minute,
		requests:          make([]time.Time, 0),
		now:               time.Now,
	}
}

// Allow records a request and reports whether it is within the limit.
// Rejected requests do not count against the window.
func (r *ClientRateLimiter) Allow() bool {
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.requestsPerMinute <= 0 {
		return true
	}

	now := r.now()
	r.prune(now)

	if len(r.requests) >= r.requestsPerMinute {
		return false
	}

	r.requests = append(r.requests, now)
	return true
}

// prune drops requests older than the window. Timestamps are appended in
// order, so the expired ones form a prefix.
func (r *ClientRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.requests) && !r.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.requests = append(r.requests[:0], r.requests[i:]...)
	}
}

// UpdateLimit changes the per-minute limit
func (r *ClientRateLimiter) UpdateLimit(requestsPerMinute int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestsPerMinute = requestsPerMinute
}

// GetStats returns the number of requests in the current window
func (r *ClientRateLimiter) GetStats() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.requests)
}
