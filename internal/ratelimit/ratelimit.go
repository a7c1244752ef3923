package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RateLimiter spaces consecutive lookups on one vendor session.
type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// Feedback is implemented by limiters that adjust their delay to how the
// vendor site responds.
type Feedback interface {
	RecordSuccess()
	RecordError()
}

// SimpleRateLimiter spaces actions by a random delay between min and max.
type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
}

// NewSimpleRateLimiter returns a limiter with jitter between minDelay and
// maxDelay.
func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

// Wait blocks until the delay since the previous action has passed. The
// first call returns at once.
func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)
	delay := r.calculateDelay()

	if elapsed < delay {
		timer := time.NewTimer(delay - elapsed)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *SimpleRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.minDelay = min
	r.maxDelay = max
}

// Delays returns the current bounds.
func (r *SimpleRateLimiter) Delays() (min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if !r.jitter || r.minDelay >= r.maxDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	return r.minDelay + time.Duration(rand.Int63n(int64(delta)))
}

const (
	errorStreak   = 3
	successStreak = 6
	backoffFactor = 1.5
	recoverFactor = 0.9

	maxBackoffMin = 60 * time.Second
	maxBackoffMax = 120 * time.Second
)

// AdaptiveRateLimiter widens a vendor's delay window by half after three
// failed lookups in a row and narrows it by ten percent after six successes.
// The window never drops below the configured delays, so a vendor that
// recovers returns to its normal pace and no faster.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	baseMin   time.Duration
	baseMax   time.Duration
	errors    int
	successes int
}

var _ Feedback = (*AdaptiveRateLimiter)(nil)

// NewAdaptiveRateLimiter starts at, and never goes below, minDelay and
// maxDelay.
func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		SimpleRateLimiter: NewSimpleRateLimiter(minDelay, maxDelay),
		baseMin:           minDelay,
		baseMax:           maxDelay,
	}
}

// SetDelay replaces the configured delays and resets the window to them.
func (a *AdaptiveRateLimiter) SetDelay(min, max time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.baseMin, a.baseMax = min, max
	a.minDelay, a.maxDelay = min, max
	a.errors, a.successes = 0, 0
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errors = 0
	a.successes++
	if a.successes >= successStreak {
		a.scale(recoverFactor)
		a.successes = 0
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successes = 0
	a.errors++
	if a.errors >= errorStreak {
		a.scale(backoffFactor)
		a.errors = 0
	}
}

// scale multiplies both bounds by f, keeping each between its configured
// value and the backoff cap. Callers hold mu.
func (a *AdaptiveRateLimiter) scale(f float64) {
	a.minDelay = clamp(time.Duration(float64(a.minDelay)*f), a.baseMin, max(maxBackoffMin, a.baseMin))
	a.maxDelay = clamp(time.Duration(float64(a.maxDelay)*f), a.baseMax, max(maxBackoffMax, a.baseMax))
}

func clamp(d, lo, hi time.Duration) time.Duration {
	return min(max(d, lo), hi)
}
