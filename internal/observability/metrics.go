package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects gateway metrics.
type Metrics interface {
	RecordRequest(labels RequestLabels)
	RecordLatency(seconds float64, labels RequestLabels)
	RecordCost(cost float64, labels RequestLabels)
	UpdateHealth(provider string, healthy bool)
	RecordError(provider, errorKind string)
}

// RequestLabels contains metric dimensions.
type RequestLabels struct {
	Provider string
	TaskType string
	Status   string
}

// PrometheusMetrics implements Metrics on a dedicated registry.
//
// Metrics:
//   - switchboard_requests_total: requests by provider, task type, status
//   - switchboard_request_latency_seconds: end-to-end call latency
//   - switchboard_cost_dollars_total: accrued provider cost
//   - switchboard_provider_health: provider health (1=healthy, 0=unhealthy)
//   - switchboard_provider_errors_total: provider errors by taxonomy kind
type PrometheusMetrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	cost     *prometheus.CounterVec
	health   *prometheus.GaugeVec
	errors   *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers the gateway metric set.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &PrometheusMetrics{
		registry: registry,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "switchboard",
				Name:      "requests_total",
				Help:      "Total chat requests by provider, task type, and status",
			},
			[]string{"provider", "task_type", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "switchboard",
				Name:      "request_latency_seconds",
				Help:      "End-to-end provider call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "task_type"},
		),
		cost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "switchboard",
				Name:      "cost_dollars_total",
				Help:      "Accrued provider cost in dollars",
			},
			[]string{"provider"},
		),
		health: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "switchboard",
				Name:      "provider_health",
				Help:      "Provider health status (1=healthy, 0=unhealthy)",
			},
			[]string{"provider"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "switchboard",
				Name:      "provider_errors_total",
				Help:      "Total provider errors by taxonomy kind",
			},
			[]string{"provider", "kind"},
		),
	}

	registry.MustRegister(m.requests, m.latency, m.cost, m.health, m.errors)
	return m
}

func (m *PrometheusMetrics) RecordRequest(labels RequestLabels) {
	m.requests.WithLabelValues(labels.Provider, labels.TaskType, labels.Status).Inc()
}

func (m *PrometheusMetrics) RecordLatency(seconds float64, labels RequestLabels) {
	m.latency.WithLabelValues(labels.Provider, labels.TaskType).Observe(seconds)
}

func (m *PrometheusMetrics) RecordCost(cost float64, labels RequestLabels) {
	if cost > 0 {
		m.cost.WithLabelValues(labels.Provider).Add(cost)
	}
}

func (m *PrometheusMetrics) UpdateHealth(provider string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.health.WithLabelValues(provider).Set(value)
}

func (m *PrometheusMetrics) RecordError(provider, errorKind string) {
	m.errors.WithLabelValues(provider, errorKind).Inc()
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NopMetrics is a no-op Metrics implementation for tests and callers
// that do not export metrics.
type NopMetrics struct{}

func (NopMetrics) RecordRequest(RequestLabels)            {}
func (NopMetrics) RecordLatency(float64, RequestLabels)   {}
func (NopMetrics) RecordCost(float64, RequestLabels)      {}
func (NopMetrics) UpdateHealth(string, bool)              {}
func (NopMetrics) RecordError(string, string)             {}
