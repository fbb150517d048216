// Package limiter implements the crawler's politeness scheduler: per-host
// delay tracking, exponential backoff on error, and an atomic wait-then-mark
// primitive that serializes fetches to the same host.
package limiter

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/osint-platform/crawler-core/pkg/timeutil"
)

// RateLimiter bookkeeps each host's last-fetch timestamp, computes the
// delay owed before the next fetch, and enforces it.
type RateLimiter interface {
	SetBaseDelay(baseDelay time.Duration)
	SetJitter(jitter time.Duration)
	SetRandomSeed(randomSeed int64)
	SetBackoffParam(param timeutil.BackoffParam)
	SetCrawlDelay(host string, delay time.Duration)
	Backoff(host string) time.Duration
	ResetBackoff(host string)
	ResolveDelay(host string) time.Duration
	WaitForHost(ctx context.Context, host string) error
}

// ConcurrentRateLimiter is the production RateLimiter. It is safe for
// concurrent use by many goroutines fetching distinct hosts in parallel;
// WaitForHost serializes callers contending for the same host.
type ConcurrentRateLimiter struct {
	mu      sync.RWMutex
	rngMu   sync.Mutex
	hostMu  sync.Map // host (string) -> *sync.Mutex

	baseDelay    time.Duration
	jitter       time.Duration
	backoffParam timeutil.BackoffParam
	hostTimings  map[string]hostTiming
	rng          *rand.Rand
	sleeper      timeutil.Sleeper
}

// NewConcurrentRateLimiter returns a RateLimiter with the default backoff
// parameters (1s initial, 2x multiplier, 30s cap) and a time-seeded RNG.
func NewConcurrentRateLimiter() *ConcurrentRateLimiter {
	return &ConcurrentRateLimiter{
		hostTimings:  make(map[string]hostTiming),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		backoffParam: timeutil.NewBackoffParam(1*time.Second, 2.0, 30*time.Second),
		sleeper:      timeutil.NewRealSleeper(),
	}
}

func (r *ConcurrentRateLimiter) SetBaseDelay(baseDelay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseDelay = baseDelay
}

func (r *ConcurrentRateLimiter) SetJitter(jitter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jitter = jitter
}

func (r *ConcurrentRateLimiter) SetRandomSeed(randomSeed int64) {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	r.rng = rand.New(rand.NewSource(randomSeed))
}

// SetBackoffParam overrides the exponential backoff curve. Safe to call
// concurrently with Backoff.
func (r *ConcurrentRateLimiter) SetBackoffParam(param timeutil.BackoffParam) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoffParam = param
}

// SetSleeper stores a Sleeper on the limiter. WaitForHost does not call
// it: it waits on a timer so that ctx can interrupt the wait.
func (r *ConcurrentRateLimiter) SetSleeper(sleeper timeutil.Sleeper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeper = sleeper
}

// SetCrawlDelay records a per-host delay floor, typically derived from a
// robots.txt Crawl-delay directive.
func (r *ConcurrentRateLimiter) SetCrawlDelay(host string, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timing := r.hostTimings[host]
	timing.crawlDelay = delay
	r.hostTimings[host] = timing
}

// Backoff increments the host's consecutive-failure counter and recomputes
// its backoff delay. Returns the new delay.
func (r *ConcurrentRateLimiter) Backoff(host string) time.Duration {
	r.mu.Lock()
	param := r.backoffParam
	timing := r.hostTimings[host]
	timing.backoffCount++
	count := timing.backoffCount
	r.hostTimings[host] = timing
	r.mu.Unlock()

	jitter := r.computeJitter(r.getJitter())
	delay := timeutil.ExponentialBackoffDelay(count, 0, *r.cloneRng(), param) + jitter

	r.mu.Lock()
	timing = r.hostTimings[host]
	timing.backoffDelay = delay
	r.hostTimings[host] = timing
	r.mu.Unlock()

	return delay
}

// ResetBackoff clears a host's backoff state, typically after a successful fetch.
func (r *ConcurrentRateLimiter) ResetBackoff(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timing, exists := r.hostTimings[host]
	if !exists {
		return
	}
	timing.backoffCount = 0
	timing.backoffDelay = 0
	r.hostTimings[host] = timing
}

// MarkLastFetchAsNow records the current time as the host's last fetch.
func (r *ConcurrentRateLimiter) MarkLastFetchAsNow(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timing := r.hostTimings[host]
	timing.lastFetchAt = time.Now()
	r.hostTimings[host] = timing
}

// ResolveDelay returns how long the caller must still wait before fetching
// host again: max(baseDelay, crawlDelay, backoffDelay) + jitter - elapsed,
// floored at zero. An unregistered host owes no delay.
func (r *ConcurrentRateLimiter) ResolveDelay(host string) time.Duration {
	r.mu.RLock()
	timing, exists := r.hostTimings[host]
	base := r.baseDelay
	r.mu.RUnlock()

	if !exists {
		return 0
	}

	floor := timeutil.MaxDuration([]time.Duration{base, timing.crawlDelay, timing.backoffDelay})
	floor += r.computeJitter(r.getJitter())

	elapsed := time.Since(timing.lastFetchAt)
	if elapsed < floor {
		return floor - elapsed
	}
	return 0
}

// WaitForHost blocks until host's politeness delay has elapsed, then
// atomically records the fetch. Concurrent callers for the same host are
// serialized by a per-host lock, so politeness holds even when a single
// host is fetched from multiple goroutines. The delay wait is interruptible
// via ctx.
func (r *ConcurrentRateLimiter) WaitForHost(ctx context.Context, host string) error {
	lock := r.hostLock(host)
	lock.Lock()
	defer lock.Unlock()

	delay := r.ResolveDelay(host)
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	r.MarkLastFetchAsNow(host)
	return nil
}

func (r *ConcurrentRateLimiter) hostLock(host string) *sync.Mutex {
	lock, _ := r.hostMu.LoadOrStore(host, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (r *ConcurrentRateLimiter) getJitter() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jitter
}

// computeJitter returns a pseudo-random duration in [0, max).
func (r *ConcurrentRateLimiter) computeJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(r.rng.Int63n(int64(max)))
}

// cloneRng returns the current *rand.Rand so callers outside this file's
// lock scope can feed it into timeutil helpers that take rand.Rand by value.
func (r *ConcurrentRateLimiter) cloneRng() *rand.Rand {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r.rng
}

// SetRNG injects a custom random source, for deterministic tests.
func (r *ConcurrentRateLimiter) SetRNG(rng *rand.Rand) {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	r.rng = rng
}

func (r *ConcurrentRateLimiter) BaseDelay() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseDelay
}

func (r *ConcurrentRateLimiter) Jitter() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jitter
}

func (r *ConcurrentRateLimiter) RNG() *rand.Rand {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng
}

func (r *ConcurrentRateLimiter) HostTimings() map[string]hostTiming {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]hostTiming, len(r.hostTimings))
	for k, v := range r.hostTimings {
		out[k] = v
	}
	return out
}
