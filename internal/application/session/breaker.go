package session

import (
	"sync"
	"time"
)

// Breaker is the global reconnect circuit breaker. Consecutive failures
// across all sessions beyond the threshold open it for one cooldown period;
// it closes again on its own once the cooldown elapses. A single breaker
// guards the whole reconnect engine, not one per account: a run of failures
// across accounts usually means the remote service or the bridge is down,
// and hammering it only prolongs the outage.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	failures  int
	openUntil time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 5
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// RecordFailure counts one failed attempt and reports whether this failure
// tripped the breaker open.
func (b *Breaker) RecordFailure(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold && now.After(b.openUntil) {
		b.openUntil = now.Add(b.cooldown)
		return true
	}
	return false
}

// RecordSuccess resets the consecutive-failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// BlockedUntil reports whether processing is currently paused, and until when.
func (b *Breaker) BlockedUntil(now time.Time) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Before(b.openUntil) {
		return b.openUntil, true
	}
	return time.Time{}, false
}

// TryResume closes the breaker if its cooldown has elapsed. It returns true
// exactly once per open period, so the caller can record the transition.
func (b *Breaker) TryResume(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() || now.Before(b.openUntil) {
		return false
	}
	b.openUntil = time.Time{}
	b.failures = 0
	return true
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
