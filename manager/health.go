package manager

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/observability"
)

// qualityRecalibrator is implemented by adapters that can drift their
// response-quality threshold toward observed averages.
type qualityRecalibrator interface {
	RecalibrateQuality()
}

// cacheSweeper is implemented by adapters that expose proactive cache
// expiry.
type cacheSweeper interface {
	SweepCache() int
}

// HealthMonitor runs the periodic upkeep loops for all registered
// providers: availability probes every 30 seconds, metric aggregation
// every minute, and quality recalibration every five minutes. Each loop
// runs independently so a slow probe never delays aggregation.
type HealthMonitor struct {
	cron         *cron.Cron
	manager      *Manager
	logger       *zap.Logger
	probeTimeout time.Duration
}

func newHealthMonitor(m *Manager, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		cron:         cron.New(),
		manager:      m,
		logger:       logger.Named("health"),
		probeTimeout: 10 * time.Second,
	}
}

// Start schedules the three loops and begins running them.
func (h *HealthMonitor) Start() error {
	if _, err := h.cron.AddFunc("@every 30s", h.probeAll); err != nil {
		return err
	}
	if _, err := h.cron.AddFunc("@every 1m", h.aggregate); err != nil {
		return err
	}
	if _, err := h.cron.AddFunc("@every 5m", h.recalibrate); err != nil {
		return err
	}
	h.cron.Start()
	h.logger.Info("health monitor started")
	return nil
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (h *HealthMonitor) Stop() {
	ctx := h.cron.Stop()
	<-ctx.Done()
	h.logger.Info("health monitor stopped")
}

// probeAll checks availability of every registered adapter and records
// the result in its health record and the health gauge.
func (h *HealthMonitor) probeAll() {
	for _, reg := range h.manager.snapshotRegistrations() {
		ctx, cancel := context.WithTimeout(context.Background(), h.probeTimeout)
		healthy := reg.adapter.Available(ctx)
		cancel()

		reg.setProbeResult(healthy)
		h.manager.metrics.UpdateHealth(reg.name, healthy)
		if !healthy {
			h.logger.Warn("availability probe failed",
				zap.String("provider", reg.name),
				zap.Int("consecutive_failures", reg.healthSnapshot().ConsecutiveFailures))
		}
	}
}

// aggregate publishes rolling adapter metrics, accrues cost counters,
// and sweeps expired cache entries.
func (h *HealthMonitor) aggregate() {
	for _, reg := range h.manager.snapshotRegistrations() {
		info := reg.adapter.Info()
		s := info.Metrics

		// cost counter is monotone; publish only the delta since the
		// last aggregation pass
		if delta := reg.takeCostDelta(s.TotalCost); delta > 0 {
			h.manager.metrics.RecordCost(delta, observability.RequestLabels{Provider: reg.name})
		}

		if sweeper, ok := reg.adapter.(cacheSweeper); ok {
			if swept := sweeper.SweepCache(); swept > 0 {
				h.logger.Debug("swept expired cache entries",
					zap.String("provider", reg.name), zap.Int("count", swept))
			}
		}

		h.logger.Info("provider metrics",
			zap.String("provider", reg.name),
			zap.Uint64("requests", s.Requests),
			zap.Float64("reliability", s.Reliability),
			zap.Duration("avg_latency", s.AvgLatency),
			zap.Uint64("cache_hits", s.CacheHits),
			zap.Float64("total_cost", s.TotalCost),
			zap.String("status", string(reg.healthSnapshot().Status)))
	}
}

// recalibrate lets adapters drift their quality thresholds toward the
// scores actually observed.
func (h *HealthMonitor) recalibrate() {
	for _, reg := range h.manager.snapshotRegistrations() {
		if rc, ok := reg.adapter.(qualityRecalibrator); ok {
			rc.RecalibrateQuality()
			h.logger.Debug("quality threshold recalibrated", zap.String("provider", reg.name))
		}
	}
}
