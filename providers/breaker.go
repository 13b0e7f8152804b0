package providers

import (
	"sync"
	"time"
)

// CircuitBreaker stops calls to a failing backend for a cooldown period.
// Two states only: closed and open. The breaker opens when consecutive
// failures reach the threshold; once the cooldown elapses the next
// Allow resets it to closed and permits a trial call. A successful
// trial clears the streak; a failed trial counts as the first failure
// of a fresh streak rather than re-opening outright, so threshold-many
// failures are again required. There is no half-open state. Thread-safe.
type CircuitBreaker struct {
	mu                  sync.Mutex
	threshold           int
	cooldown            time.Duration
	open                bool
	consecutiveFailures int
	cooldownEndsAt      time.Time
}

// NewCircuitBreaker creates a breaker opening after threshold
// consecutive failures, staying open for cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a call may proceed. While open it returns false
// until the cooldown elapses, at which point the breaker closes and one
// trial call is allowed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if time.Now().Before(b.cooldownEndsAt) {
		return false
	}

	// Cooldown elapsed: reset to closed and let a trial through.
	b.open = false
	b.consecutiveFailures = 0
	return true
}

// RecordSuccess closes the breaker and clears the failure streak.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.consecutiveFailures = 0
}

// RecordFailure extends the failure streak, opening the breaker and
// starting the cooldown when the threshold is reached.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold {
		b.open = true
		b.cooldownEndsAt = time.Now().Add(b.cooldown)
	}
}

// IsOpen reports the current open state without the cooldown-expiry
// side effect of Allow.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && time.Now().Before(b.cooldownEndsAt)
}

// ConsecutiveFailures returns the current failure streak.
func (b *CircuitBreaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset returns the breaker to its initial closed state.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.consecutiveFailures = 0
	b.cooldownEndsAt = time.Time{}
}
