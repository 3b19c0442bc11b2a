// Package backoff computes retry delays for the tool broker: exponential
// growth on the attempt number with multiplicative jitter.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Jitter bounds. Each delay is scaled by a random factor in [Min, Max).
const (
	JitterMin = 0.5
	JitterMax = 1.5
)

// Compute returns the delay before retrying the given attempt:
// base * 2^(attempt-1) * jitter(0.5–1.5), capped at max. Attempts start at 1.
func Compute(base, max time.Duration, attempt int) time.Duration {
	return ComputeWithRand(base, max, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand is Compute with an injected random value in [0, 1),
// so tests get deterministic results.
func ComputeWithRand(base, max time.Duration, attempt int, randomValue float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	exp := math.Max(float64(attempt-1), 0)
	raw := float64(base) * math.Pow(2, exp)
	jitter := JitterMin + (JitterMax-JitterMin)*randomValue
	total := raw * jitter
	if max > 0 && total > float64(max) {
		total = float64(max)
	}
	return time.Duration(total)
}
