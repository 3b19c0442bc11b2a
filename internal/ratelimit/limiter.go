// Package ratelimit enforces per-workspace request limits on the decide
// endpoint. Token buckets refill continuously at the configured
// requests-per-minute rate; Burst absorbs short spikes. Over-limit requests
// get a Retry-After hint instead of queueing.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks one token bucket per workspace.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	enabled bool
	rate    float64 // tokens per second
	burst   float64
	maxKeys int

	now func() time.Time // test hook
}

const defaultMaxKeys = 10000

// New creates a limiter allowing requestsPerMinute sustained per workspace
// with the given burst. enabled=false admits everything.
func New(enabled bool, requestsPerMinute, burst int) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = requestsPerMinute / 6
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		enabled: enabled,
		rate:    float64(requestsPerMinute) / 60,
		burst:   float64(burst),
		maxKeys: defaultMaxKeys,
		now:     time.Now,
	}
}

// Allow consumes one token for the workspace. The returned duration is a
// Retry-After hint, zero when the request is admitted.
func (l *Limiter) Allow(workspaceID string) (bool, time.Duration) {
	if !l.enabled {
		return true, 0
	}
	b := l.bucketFor(workspaceID)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(l.now(), l.rate, l.burst)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, wait
}

// Reset clears the bucket for a workspace.
func (l *Limiter) Reset(workspaceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, workspaceID)
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

func (b *bucket) refill(now time.Time, rate, burst float64) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * rate
	if b.tokens > burst {
		b.tokens = burst
	}
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	if len(l.buckets) >= l.maxKeys {
		l.prune()
	}
	b = &bucket{tokens: l.burst, lastRefill: l.now()}
	l.buckets[key] = b
	return b
}

// prune drops buckets that have refilled close to full; those workspaces
// have been quiet long enough to forget.
func (l *Limiter) prune() {
	now := l.now()
	for key, b := range l.buckets {
		b.mu.Lock()
		b.refill(now, l.rate, l.burst)
		full := b.tokens >= l.burst*0.9
		b.mu.Unlock()
		if full {
			delete(l.buckets, key)
		}
	}
}
