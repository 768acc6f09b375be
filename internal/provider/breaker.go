package provider

import (
	"sync"
	"time"

	"github.com/DukeRupert/reelstat/internal/metrics"
)

// CircuitBreaker counts consecutive upstream failures and fails fast once
// Threshold is reached, until ResetWindow has passed since the last failure.
// One breaker is shared by every call of a Client.
type CircuitBreaker struct {
	threshold   int
	resetWindow time.Duration
	now         func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker creates a breaker. A non-positive threshold defaults to 5
// and a non-positive window to one minute.
func NewCircuitBreaker(threshold int, resetWindow time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetWindow <= 0 {
		resetWindow = time.Minute
	}
	return &CircuitBreaker{
		threshold:   threshold,
		resetWindow: resetWindow,
		now:         time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (b *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	b.now = now
	return b
}

// Allow reports whether a call may proceed. An elapsed reset window clears
// the failure count.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return true
	}
	if b.now().Sub(b.lastFailure) < b.resetWindow {
		return false
	}
	b.failures = 0
	metrics.BreakerOpen.Set(0)
	return true
}

// RecordFailure counts one upstream failure.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.threshold {
		metrics.BreakerOpen.Set(1)
	}
}

// RecordSuccess resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures >= b.threshold {
		metrics.BreakerOpen.Set(0)
	}
	b.failures = 0
}

// Failures returns the current consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
