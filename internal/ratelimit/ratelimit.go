// Package ratelimit implements a per-caller token bucket limiter for the
// HTTP gateway. Tool executions are expensive, so the limiter sits in
// front of the run endpoint rather than the whole mux.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a caller has exhausted its bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// idleEviction is how long an untouched bucket survives before Allow
// drops it, keeping the map bounded under rotating caller identities.
const idleEviction = 10 * time.Minute

// Config configures the limiter.
type Config struct {
	// RequestsPerMinute is the sustained refill rate per caller.
	// 0 disables limiting entirely.
	RequestsPerMinute int

	// BurstSize caps how many requests a caller can fire back to back.
	// 0 defaults to RequestsPerMinute.
	BurstSize int
}

// Limiter tracks one token bucket per caller identity. Buckets refill
// lazily on each Allow call; there are no background goroutines.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   float64

	lastSweep time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// New creates a limiter. With RequestsPerMinute of 0 Allow never refuses.
func New(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets:   make(map[string]*bucket),
		rate:      float64(cfg.RequestsPerMinute) / 60.0,
		burst:     float64(burst),
		lastSweep: time.Now(),
	}
}

// Allow consumes one token from caller's bucket, refilling first based on
// elapsed time. Callers start with a full bucket.
func (l *Limiter) Allow(caller string) error {
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweep(now)

	b, ok := l.buckets[caller]
	if !ok {
		b = &bucket{tokens: l.burst, seen: now}
		l.buckets[caller] = b
	}

	b.tokens += now.Sub(b.seen).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.seen = now

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// sweep drops buckets idle past the eviction window. Runs at most once
// per window; callers hold the lock.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < idleEviction {
		return
	}
	for caller, b := range l.buckets {
		if now.Sub(b.seen) >= idleEviction {
			delete(l.buckets, caller)
		}
	}
	l.lastSweep = now
}
