// Package server implements the per-connection token bucket that throttles
// inbound event frames before they reach the router.
package server

import (
	"sync"
	"time"
)

// rateLimiter is a continuously refilled token bucket. Each inbound frame
// costs one token; a frame arriving with the bucket empty is discarded by
// the read pump without touching the connection.
type rateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	perSecond  float64
	lastRefill time.Time
}

// newRateLimiter builds a bucket admitting capacity frames per interval.
// The bucket starts full so a fresh connection gets its whole burst.
func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	perSecond := float64(capacity) / interval.Seconds()
	if perSecond <= 0 {
		perSecond = float64(capacity)
	}

	return &rateLimiter{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		perSecond:  perSecond,
		lastRefill: time.Now(),
	}
}

// allow spends one token, reporting false when the bucket is empty.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now

	if elapsed > 0 {
		rl.tokens += elapsed * rl.perSecond
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
	}

	if rl.tokens < 1 {
		return false
	}

	rl.tokens--
	return true
}
