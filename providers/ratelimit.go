package providers

import (
	"context"
	"sync"
	"time"
)

// maxAcquireSlice bounds each individual sleep while waiting for window
// capacity; saturated callers wait in slices, they never error or drop.
const maxAcquireSlice = time.Second

// RateLimiter bounds call count within a moving time interval using a
// sliding window of request timestamps. Acquiring prunes timestamps
// older than the interval, then appends the new one. Thread-safe.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	stamps []time.Time
}

// NewRateLimiter creates a limiter allowing max acquisitions per window.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		window: window,
		max:    max,
		stamps: make([]time.Time, 0, max),
	}
}

// Acquire blocks until the window has capacity, then records the call.
// The only error returned is the context's, when the caller gives up.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	for {
		ok, retryIn := l.tryAcquire(time.Now())
		if ok {
			return nil
		}
		if retryIn > maxAcquireSlice {
			retryIn = maxAcquireSlice
		}
		timer := time.NewTimer(retryIn)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// tryAcquire prunes the window and appends a timestamp when capacity
// allows. On saturation it reports how long until the oldest timestamp
// leaves the window.
func (l *RateLimiter) tryAcquire(now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)

	if len(l.stamps) < l.max {
		l.stamps = append(l.stamps, now)
		return true, 0
	}

	retryIn := l.stamps[0].Add(l.window).Sub(now)
	if retryIn <= 0 {
		retryIn = time.Millisecond
	}
	return false, retryIn
}

// Saturated reports whether the window is currently at capacity.
func (l *RateLimiter) Saturated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return len(l.stamps) >= l.max
}

// InWindow returns the number of timestamps currently inside the window.
func (l *RateLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return len(l.stamps)
}

// Reset clears the window.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stamps = l.stamps[:0]
}

// prune drops timestamps older than the window. Must be called with the
// lock held.
func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
