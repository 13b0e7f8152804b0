package providers

import (
	"sync"
	"time"
)

// PerformanceMetrics tracks per-adapter counters: requests, successes,
// failures, rolling average latency, accrued cost, and a reliability
// score. Counters never decrease except on explicit Reset. Thread-safe.
type PerformanceMetrics struct {
	mu         sync.Mutex
	requests   uint64
	successes  uint64
	failures   uint64
	cacheHits  uint64
	avgLatency time.Duration
	totalCost  float64
	lastUsed   time.Time

	// recent response quality scores, bounded, consumed by the periodic
	// quality recalibration
	qualityWindow []float64
}

const qualityWindowSize = 50

// NewPerformanceMetrics creates an empty metrics set.
func NewPerformanceMetrics() *PerformanceMetrics {
	return &PerformanceMetrics{}
}

// RecordSuccess accounts one successful call.
func (m *PerformanceMetrics) RecordSuccess(latency time.Duration, cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	m.successes++
	m.totalCost += cost
	m.lastUsed = time.Now()
	// incremental rolling average over successful calls
	m.avgLatency += (latency - m.avgLatency) / time.Duration(m.successes)
}

// RecordFailure accounts one failed call.
func (m *PerformanceMetrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	m.failures++
	m.lastUsed = time.Now()
}

// RecordCacheHit accounts a call served from cache without a network
// exchange.
func (m *PerformanceMetrics) RecordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
	m.lastUsed = time.Now()
}

// RecordQuality appends a response quality score to the bounded window.
func (m *PerformanceMetrics) RecordQuality(score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qualityWindow = append(m.qualityWindow, score)
	if len(m.qualityWindow) > qualityWindowSize {
		m.qualityWindow = m.qualityWindow[len(m.qualityWindow)-qualityWindowSize:]
	}
}

// AverageQuality returns the mean of the recent quality window, or -1
// when no scores have been recorded.
func (m *PerformanceMetrics) AverageQuality() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.qualityWindow) == 0 {
		return -1
	}
	var sum float64
	for _, s := range m.qualityWindow {
		sum += s
	}
	return sum / float64(len(m.qualityWindow))
}

// Snapshot returns a point-in-time copy of the counters.
func (m *PerformanceMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	reliability := 1.0
	if m.requests > 0 {
		reliability = float64(m.successes) / float64(m.requests)
	}
	return MetricsSnapshot{
		Requests:    m.requests,
		Successes:   m.successes,
		Failures:    m.failures,
		CacheHits:   m.cacheHits,
		AvgLatency:  m.avgLatency,
		TotalCost:   m.totalCost,
		Reliability: reliability,
		LastUsed:    m.lastUsed,
	}
}

// Reset zeroes all counters.
func (m *PerformanceMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = 0
	m.successes = 0
	m.failures = 0
	m.cacheHits = 0
	m.avgLatency = 0
	m.totalCost = 0
	m.lastUsed = time.Time{}
	m.qualityWindow = nil
}

// MetricsSnapshot is the read-only view of PerformanceMetrics.
type MetricsSnapshot struct {
	Requests    uint64        `json:"requests"`
	Successes   uint64        `json:"successes"`
	Failures    uint64        `json:"failures"`
	CacheHits   uint64        `json:"cache_hits"`
	AvgLatency  time.Duration `json:"avg_latency"`
	TotalCost   float64       `json:"total_cost"`
	Reliability float64       `json:"reliability"`
	LastUsed    time.Time     `json:"last_used"`
}
