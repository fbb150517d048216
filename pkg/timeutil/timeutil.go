package timeutil

import (
	"math"
	"math/rand"
	"time"
)

// durationPtr is a helper function to create a pointer to a time.Duration
func DurationPtr(d time.Duration) *time.Duration {
	return &d
}

// MaxDuration returns the largest duration among the given values, or 0 if
// the slice is empty.
func MaxDuration(durations []time.Duration) time.Duration {
	var max time.Duration
	for i, d := range durations {
		if i == 0 || d > max {
			max = d
		}
	}
	return max
}

// ComputeJitter returns a pseudo-random duration in [0, max) drawn from
// rng, or 0 when max is not positive.
func ComputeJitter(max time.Duration, rng rand.Rand) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(max)))
}

// ExponentialBackoffDelay computes the delay to wait before the given retry
// attempt, following initialDuration * multiplier^(attempt-1), capped at
// maxDuration, plus a random jitter in [0, jitter).
//
// attempt is 1-indexed: attempt 1 uses the initial duration unscaled.
func ExponentialBackoffDelay(attempt int, jitter time.Duration, rng rand.Rand, param BackoffParam) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	exponent := float64(attempt - 1)
	delay := float64(param.InitialDuration()) * math.Pow(param.Multiplier(), exponent)

	max := param.MaxDuration()
	if max > 0 && delay > float64(max) {
		delay = float64(max)
	}

	if jitter > 0 {
		delay += float64(rng.Int63n(int64(jitter)))
	}

	return time.Duration(delay)
}
