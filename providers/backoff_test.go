package providers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffExponentialProgression(t *testing.T) {
	p := DefaultBackoffPolicy()

	assert.Equal(t, 1*time.Second, p.exponential(1))
	assert.Equal(t, 2*time.Second, p.exponential(2))
	assert.Equal(t, 4*time.Second, p.exponential(3))
	assert.Equal(t, 32*time.Second, p.exponential(6))
}

func TestBackoffCappedAtMax(t *testing.T) {
	p := DefaultBackoffPolicy()

	assert.Equal(t, 60*time.Second, p.exponential(7), "2^6 exceeds the cap")
	assert.Equal(t, 60*time.Second, p.exponential(20))
	assert.Equal(t, 60*time.Second, p.exponential(1000), "huge streaks must not overflow")
}

func TestBackoffMonotoneUntilCap(t *testing.T) {
	p := DefaultBackoffPolicy()

	prev := time.Duration(0)
	for n := 1; n <= 10; n++ {
		d := p.exponential(n)
		assert.GreaterOrEqual(t, d, prev, "delay at n=%d must not shrink", n)
		prev = d
	}
}

func TestBackoffDelayAddsBoundedJitter(t *testing.T) {
	p := DefaultBackoffPolicy()

	for i := 0; i < 50; i++ {
		d := p.Delay(2, 0)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 3*time.Second, "jitter stays below one second")
	}
}

func TestBackoffVendorHintTakesPrecedence(t *testing.T) {
	p := DefaultBackoffPolicy()

	d := p.Delay(10, 3*time.Second)
	assert.GreaterOrEqual(t, d, 3*time.Second)
	assert.Less(t, d, 4*time.Second, "Retry-After overrides the computed delay")
}
