package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces a per-client token-bucket budget on the /edit and
// /upload endpoints (spec §3 supplemented features): the expensive
// operations here are an upload write and a model call up to 60s long, so
// each client IP gets a small burst allowance refilled at a steady
// requests-per-minute rate rather than the tiered minute/hour/day quota
// system a multi-tenant document pipeline would need.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	burstSize         int

	buckets map[string]*tokenBucket
}

// tokenBucket tracks one client's remaining budget.
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing burstSize requests immediately
// per client, refilled at requestsPerMinute tokens per minute.
func NewRateLimiter(requestsPerMinute, burstSize int) *RateLimiter {
	if burstSize <= 0 {
		burstSize = requestsPerMinute
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
		buckets:           make(map[string]*tokenBucket),
	}
}

// Allow reports whether clientKey (the request's source IP) may proceed,
// consuming one token if so.
func (rl *RateLimiter) Allow(clientKey string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[clientKey]
	if !ok {
		b = &tokenBucket{tokens: float64(rl.burstSize), lastRefill: now}
		rl.buckets[clientKey] = b
	}

	refillPerSecond := float64(rl.requestsPerMinute) / 60.0
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = minFloat(float64(rl.burstSize), b.tokens+elapsed*refillPerSecond)
		b.lastRefill = now
	}

	if b.tokens < 1 {
		retryAfter := time.Duration(float64(time.Second))
		if refillPerSecond > 0 {
			retryAfter = time.Duration((1 - b.tokens) / refillPerSecond * float64(time.Second))
		}
		return &RateLimitError{Limit: rl.requestsPerMinute, RetryAfter: retryAfter}
	}

	b.tokens--
	return nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// RateLimitError signals a client exceeded its per-minute request budget.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d/min, retry after: %v)", e.Limit, e.RetryAfter)
}
