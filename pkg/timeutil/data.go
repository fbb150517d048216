package timeutil

import "time"

// Exponential Backoff parameters
// example:
//
//	initialDuration := 1 * time.Second // Start with 1s
//	multiplier := 2.0                 // Double each time
//	maxDuration := 30 * time.Second    // Cap at 30s

type BackoffParam struct {
	initialDuration time.Duration
	multiplier      float64
	maxDuration     time.Duration
}

func NewBackoffParam(
	initialDuration time.Duration,
	multiplier float64,
	maxDuration time.Duration,
) BackoffParam {
	return BackoffParam{
		initialDuration: initialDuration,
		multiplier:      multiplier,
		maxDuration:     maxDuration,
	}
}

func (b *BackoffParam) InitialDuration() time.Duration {
	return b.initialDuration
}

func (b *BackoffParam) Multiplier() float64 {
	return b.multiplier
}

func (b *BackoffParam) MaxDuration() time.Duration {
	return b.maxDuration
}

// Sleeper abstracts time.Sleep so callers can inject a fake clock instead of
// actually blocking the goroutine.
type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

// NewRealSleeper returns a Sleeper backed by time.Sleep.
func NewRealSleeper() realSleeper {
	return realSleeper{}
}

func (realSleeper) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}

// NoopSleeper is a Sleeper that records requested durations without blocking.
// Useful in tests that exercise delay computation without paying for real
// wall-clock time.
type NoopSleeper struct {
	Slept []time.Duration
}

func (n *NoopSleeper) Sleep(d time.Duration) {
	n.Slept = append(n.Slept, d)
}
