package broker

import (
	"sync"
	"time"

	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// Breaker is a per-tool circuit breaker counting consecutive failures.
// After threshold failures it opens; after the cooldown it half-opens and
// admits a single probe. Probe success closes, probe failure re-opens with
// the cooldown reset.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	onChange  func(to string)

	mu            sync.Mutex
	state         string
	failures      int
	openedAt      time.Time
	probeInFlight bool

	now func() time.Time // test hook
}

// NewBreaker builds a breaker from a manifest circuit policy.
func NewBreaker(policy manifest.CircuitPolicy, onChange func(to string)) *Breaker {
	threshold := policy.Threshold
	if threshold <= 0 {
		threshold = manifest.DefaultThreshold
	}
	cooldown := time.Duration(policy.CooldownMs) * time.Millisecond
	if cooldown <= 0 {
		cooldown = time.Duration(manifest.DefaultCooldownMs) * time.Millisecond
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		onChange:  onChange,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In half-open state only one
// probe is admitted at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.transition(StateHalfOpen)
		b.probeInFlight = true
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return true
}

// RecordSuccess notes a successful call, closing a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probeInFlight = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure notes a final call failure. Threshold consecutive failures
// open the breaker; a failed half-open probe re-opens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false
	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.open()
		}
	}
}

// State returns the current breaker state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) open() {
	b.failures = 0
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to string) {
	b.state = to
	if b.onChange != nil {
		b.onChange(to)
	}
}

// BreakerRegistry holds one breaker per tool, created lazily from the
// tool's manifest policy.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	metrics  *observability.Metrics
}

// NewBreakerRegistry creates an empty registry. metrics may be nil.
func NewBreakerRegistry(metrics *observability.Metrics) *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*Breaker), metrics: metrics}
}

// For returns the breaker for a tool, creating it on first use.
func (r *BreakerRegistry) For(tool string, policy manifest.CircuitPolicy) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[tool]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[tool]; ok {
		return b
	}
	var onChange func(string)
	if r.metrics != nil {
		m := r.metrics
		name := tool
		onChange = func(to string) {
			m.BreakerTransitions.WithLabelValues(name, to).Inc()
		}
	}
	b = NewBreaker(policy, onChange)
	r.breakers[tool] = b
	return b
}
