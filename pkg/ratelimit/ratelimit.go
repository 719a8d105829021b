// Package ratelimit enforces the per-client-IP request cap the HTTP surface
// applies to its mutating routes (§6: 30 req/min).
package ratelimit

import (
	"sync"
	"time"
)

// bucket is a token bucket that refills continuously at rate/duration.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// Limiter is a per-key token bucket, keyed by client IP.
type Limiter struct {
	rate    float64 // tokens added per second
	burst   float64 // bucket capacity
	mu      sync.Mutex
	buckets map[string]*bucket
}

// New constructs a Limiter allowing maxPerMinute requests per key, with
// burst capacity equal to maxPerMinute (a client may spend its whole
// minute's budget immediately, then must wait for refill).
func New(maxPerMinute int) *Limiter {
	return &Limiter{
		rate:    float64(maxPerMinute) / 60.0,
		burst:   float64(maxPerMinute),
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether a request from key may proceed, consuming one
// token if so.
func (l *Limiter) Allow(key string) bool {
	b := l.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastRefill: time.Now()}
		l.buckets[key] = b
	}
	return b
}
