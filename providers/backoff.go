package providers

import (
	"math/rand"
	"time"
)

// BackoffPolicy computes the wait between retries: an exponentially
// growing delay capped at Max, plus a small random jitter. A
// vendor-supplied retry-after hint takes precedence over the
// exponential term.
type BackoffPolicy struct {
	Base      time.Duration
	Max       time.Duration
	JitterMax time.Duration
}

// DefaultBackoffPolicy returns the documented defaults: base 1s, cap
// 60s, jitter up to 1s.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:      time.Second,
		Max:       60 * time.Second,
		JitterMax: time.Second,
	}
}

// Delay returns the wait for the given consecutive-failure count,
// including jitter. retryAfter, when positive, overrides the
// exponential term (jitter still applies).
func (p BackoffPolicy) Delay(consecutiveFailures int, retryAfter time.Duration) time.Duration {
	d := retryAfter
	if d <= 0 {
		d = p.exponential(consecutiveFailures)
	}
	if p.JitterMax > 0 {
		d += time.Duration(rand.Int63n(int64(p.JitterMax)))
	}
	return d
}

// exponential computes min(Max, Base * 2^(n-1)) without jitter.
func (p BackoffPolicy) exponential(consecutiveFailures int) time.Duration {
	if consecutiveFailures < 1 {
		consecutiveFailures = 1
	}
	d := p.Base
	for i := 1; i < consecutiveFailures; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}
