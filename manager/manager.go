// Package manager owns the provider registry and orchestration: it
// registers adapters, selects one per call, load-balances across them,
// monitors their health, and applies a single cross-provider fallback
// when an adapter fails beyond its own recovery.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/observability"
	"github.com/switchboard-ai/switchboard/providers"
)

var (
	// ErrNoProviderAvailable is returned only when the registry is empty
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrValidationFailed is returned when a credential fails its probes
	ErrValidationFailed = errors.New("provider credential validation failed")
)

// Credentials carries the secrets and endpoint overrides needed to
// construct one adapter.
type Credentials struct {
	APIKey  string
	BaseURL string
	OrgID   string
}

// Factory constructs a concrete adapter for registration. Injected so
// tests can substitute stub adapters without touching manager logic.
type Factory func(name string, creds Credentials, cfg providers.Config, logger *zap.Logger) (providers.Adapter, error)

// Config holds manager-level settings.
type Config struct {
	// Provider is passed to the factory for every constructed adapter
	Provider providers.Config

	// Weights for the composite selection score
	Weights Weights

	// TaskOverrides hard-prefers a provider for a task type when healthy
	TaskOverrides map[string]string

	// Strategy names an alternative selection strategy ("round_robin",
	// "weighted_performance", "least_loaded", "predictive"); empty uses
	// the composite scoring pipeline
	Strategy string
}

// HealthStatus is the coarse state tracked per provider.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthRecord is the per-provider view updated by periodic probes and
// by the same failure accounting the circuit breaker uses.
type HealthRecord struct {
	Status              HealthStatus `json:"status"`
	LastCheck           time.Time    `json:"last_check"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
}

// registration bundles one adapter with all of its manager-side state.
// Created together at registration, destroyed together at
// deregistration.
type registration struct {
	name     string
	adapter  providers.Adapter
	seq      int
	inflight atomic.Int64

	mu           sync.Mutex
	health       HealthRecord
	probeScore   int
	costReported float64
}

// takeCostDelta returns the unreported portion of the adapter's monotone
// cost counter and marks it reported.
func (r *registration) takeCostDelta(total float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	delta := total - r.costReported
	if delta < 0 {
		delta = 0
	}
	r.costReported = total
	return delta
}

func (r *registration) healthSnapshot() HealthRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.health
}

func (r *registration) recordOutcome(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health.LastCheck = time.Now()
	if success {
		r.health.ConsecutiveFailures = 0
		r.health.Status = StatusHealthy
		return
	}
	r.health.ConsecutiveFailures++
	switch {
	case r.health.ConsecutiveFailures >= 5:
		r.health.Status = StatusUnhealthy
	case r.health.ConsecutiveFailures >= 2:
		r.health.Status = StatusDegraded
	}
}

func (r *registration) setProbeResult(healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health.LastCheck = time.Now()
	if healthy {
		r.health.ConsecutiveFailures = 0
		r.health.Status = StatusHealthy
	} else {
		r.health.ConsecutiveFailures++
		r.health.Status = StatusUnhealthy
	}
}

// Manager is the single orchestration point for all registered
// providers. Constructed explicitly and injected into the calling
// layer; there is no package-level instance.
type Manager struct {
	mu          sync.RWMutex
	regs        map[string]*registration
	order       []string
	nextSeq     int
	defaultName string

	factory Factory
	engine  *SelectionEngine
	monitor *HealthMonitor
	logger  *zap.Logger
	metrics observability.Metrics
	cfg     Config
}

// New creates a Manager with the given adapter factory and settings.
func New(factory Factory, cfg Config, metrics observability.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	m := &Manager{
		regs:    make(map[string]*registration),
		factory: factory,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
	}
	m.engine = NewSelectionEngine(cfg.Weights, cfg.TaskOverrides)
	m.monitor = newHealthMonitor(m, logger)
	return m
}

// Start launches the background health-monitor loops.
func (m *Manager) Start() error {
	return m.monitor.Start()
}

// Close stops background loops and cleans up every adapter.
func (m *Manager) Close() {
	m.monitor.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range m.regs {
		reg.adapter.Cleanup()
	}
	m.regs = make(map[string]*registration)
	m.order = nil
	m.defaultName = ""
}

// AddProvider constructs and validates an adapter, registering it with
// fresh resilience state only when its credential passes. The new
// provider becomes the default when none exists or when it outscores
// the current default on the validation probes.
func (m *Manager) AddProvider(ctx context.Context, name string, creds Credentials) (providers.Info, error) {
	adapter, err := m.factory(name, creds, m.cfg.Provider, m.logger)
	if err != nil {
		return providers.Info{}, fmt.Errorf("failed to construct provider %s: %w", name, err)
	}

	valid, err := adapter.ValidateAPIKey(ctx)
	if err != nil || !valid {
		adapter.Cleanup()
		if err == nil {
			err = ErrValidationFailed
		}
		return providers.Info{}, fmt.Errorf("provider %s: %w", name, err)
	}

	info := adapter.Info()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-registration replaces the descriptor and all associated state.
	if existing, ok := m.regs[name]; ok {
		existing.adapter.Cleanup()
		m.removeLocked(name)
	}

	m.nextSeq++
	reg := &registration{
		name:       name,
		adapter:    adapter,
		seq:        m.nextSeq,
		probeScore: info.ProbeScore,
		health: HealthRecord{
			Status:    StatusHealthy,
			LastCheck: time.Now(),
		},
	}
	m.regs[name] = reg
	m.order = append(m.order, name)

	if m.defaultName == "" {
		m.defaultName = name
	} else if current, ok := m.regs[m.defaultName]; ok && info.ProbeScore > current.probeScore {
		m.logger.Info("default provider reassigned on stronger validation",
			zap.String("previous", m.defaultName), zap.String("new", name))
		m.defaultName = name
	}

	m.metrics.UpdateHealth(name, true)
	m.logger.Info("provider registered",
		zap.String("provider", name),
		zap.Int("probe_score", info.ProbeScore),
		zap.Bool("default", m.defaultName == name))
	return info, nil
}

// RemoveProvider drains bookkeeping, cleans up the adapter, deletes all
// associated state, and reassigns the default if needed.
func (m *Manager) RemoveProvider(name string) error {
	m.mu.Lock()
	reg, ok := m.regs[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	if inflight := reg.inflight.Load(); inflight > 0 {
		m.logger.Warn("removing provider with in-flight calls",
			zap.String("provider", name), zap.Int64("inflight", inflight))
	}
	m.removeLocked(name)

	if m.defaultName == name {
		m.defaultName = m.firstHealthyLocked()
		m.logger.Info("default provider reassigned after removal",
			zap.String("removed", name), zap.String("new", m.defaultName))
	}
	m.mu.Unlock()

	reg.adapter.Cleanup()
	return nil
}

// Chat selects a provider and delegates the call, applying at most one
// manager-level fallback to a different healthy adapter when the first
// fails beyond its own recovery.
func (m *Manager) Chat(ctx context.Context, systemPrompt, userMessage, taskType string, options map[string]any) (string, error) {
	rc := buildRequestContext(taskType, options)

	reg, err := m.selectFor(taskType)
	if err != nil {
		return "", err
	}

	text, err := m.dispatch(ctx, reg, func(ctx context.Context) (string, error) {
		return reg.adapter.Chat(ctx, systemPrompt, userMessage, rc)
	}, taskType)
	if err == nil {
		return text, nil
	}

	alt := m.fallbackFor(taskType, reg.name, err)
	if alt == nil {
		return "", err
	}
	m.logger.Warn("falling back to alternate provider",
		zap.String("failed", reg.name), zap.String("fallback", alt.name),
		zap.String("kind", string(providers.KindOf(err))))
	return m.dispatch(ctx, alt, func(ctx context.Context) (string, error) {
		return alt.adapter.Chat(ctx, systemPrompt, userMessage, rc)
	}, taskType)
}

// ChatStream is the streaming variant of Chat. Manager-level fallback
// applies only while no fragment has reached the caller.
func (m *Manager) ChatStream(ctx context.Context, systemPrompt, userMessage, taskType string, onChunk providers.StreamFunc, options map[string]any) (string, error) {
	rc := buildRequestContext(taskType, options)

	reg, err := m.selectFor(taskType)
	if err != nil {
		return "", err
	}

	delivered := false
	guarded := func(chunk string) {
		delivered = true
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	text, err := m.dispatch(ctx, reg, func(ctx context.Context) (string, error) {
		return reg.adapter.ChatStream(ctx, systemPrompt, userMessage, guarded, rc)
	}, taskType)
	if err == nil {
		return text, nil
	}
	if delivered {
		return "", err
	}

	alt := m.fallbackFor(taskType, reg.name, err)
	if alt == nil {
		return "", err
	}
	m.logger.Warn("falling back to alternate provider for stream",
		zap.String("failed", reg.name), zap.String("fallback", alt.name))
	return m.dispatch(ctx, alt, func(ctx context.Context) (string, error) {
		return alt.adapter.ChatStream(ctx, systemPrompt, userMessage, guarded, rc)
	}, taskType)
}

// SelectProvider exposes the selection pipeline: healthy candidates,
// composite scoring, task override, registration-order tie break.
func (m *Manager) SelectProvider(taskType string) (providers.Adapter, error) {
	reg, err := m.selectFor(taskType)
	if err != nil {
		return nil, err
	}
	return reg.adapter, nil
}

// DefaultProvider returns the currently designated default name.
func (m *Manager) DefaultProvider() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultName
}

// ProviderInfo returns the descriptor+metrics snapshot and health
// record for one provider.
func (m *Manager) ProviderInfo(name string) (providers.Info, HealthRecord, error) {
	m.mu.RLock()
	reg, ok := m.regs[name]
	m.mu.RUnlock()
	if !ok {
		return providers.Info{}, HealthRecord{}, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return reg.adapter.Info(), reg.healthSnapshot(), nil
}

// ListProviders returns registered names in registration order.
func (m *Manager) ListProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// dispatch runs one adapter call with in-flight accounting and metrics.
func (m *Manager) dispatch(ctx context.Context, reg *registration, call func(ctx context.Context) (string, error), taskType string) (string, error) {
	reg.inflight.Add(1)
	defer reg.inflight.Add(-1)

	start := time.Now()
	text, err := call(ctx)
	elapsed := time.Since(start)

	labels := observability.RequestLabels{Provider: reg.name, TaskType: taskType, Status: "success"}
	if err != nil {
		labels.Status = "error"
		reg.recordOutcome(false)
		m.metrics.RecordError(reg.name, string(providers.KindOf(err)))
	} else {
		reg.recordOutcome(true)
	}
	m.metrics.RecordRequest(labels)
	m.metrics.RecordLatency(elapsed.Seconds(), labels)
	return text, err
}

// selectFor runs the selection pipeline and returns the chosen
// registration.
func (m *Manager) selectFor(taskType string) (*registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.order) == 0 {
		return nil, ErrNoProviderAvailable
	}

	cands := m.candidatesLocked(taskType, "")
	choice, err := m.engine.Select(taskType, m.cfg.Strategy, cands)
	if err != nil || choice == nil {
		// Emergency fallback: any registered adapter, preferring the
		// configured default.
		if reg, ok := m.regs[m.defaultName]; ok {
			return reg, nil
		}
		return m.regs[m.order[0]], nil
	}
	return m.regs[choice.Name], nil
}

// fallbackFor picks a different healthy adapter for the manager-level
// retry, or nil when none qualifies or the error cannot benefit.
func (m *Manager) fallbackFor(taskType, exclude string, err error) *registration {
	kind := providers.KindOf(err)
	if kind == providers.KindValidation || kind == providers.KindAuth {
		// caller or credential errors will fail identically elsewhere
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cands := m.candidatesLocked(taskType, exclude)
	if len(cands) == 0 {
		return nil
	}
	choice, serr := m.engine.Select(taskType, m.cfg.Strategy, cands)
	if serr != nil || choice == nil {
		return nil
	}
	return m.regs[choice.Name]
}

// candidatesLocked builds scored candidates from healthy registrations,
// falling back to all when none is healthy. Must be called with at
// least the read lock held.
func (m *Manager) candidatesLocked(taskType, exclude string) []*Candidate {
	build := func(onlyHealthy bool) []*Candidate {
		out := make([]*Candidate, 0, len(m.order))
		for _, name := range m.order {
			if name == exclude {
				continue
			}
			reg := m.regs[name]
			health := reg.healthSnapshot()
			if onlyHealthy && health.Status == StatusUnhealthy {
				continue
			}
			info := reg.adapter.Info()
			out = append(out, &Candidate{
				Name:        name,
				Seq:         reg.seq,
				Inflight:    reg.inflight.Load(),
				Health:      healthScore(health),
				Performance: performanceScore(info.Metrics),
				Suitability: suitabilityScore(info.Descriptor, taskType),
			})
		}
		return out
	}

	cands := build(true)
	if len(cands) == 0 {
		cands = build(false)
	}
	return cands
}

// removeLocked deletes a registration from the maps; the caller holds
// the write lock and is responsible for adapter cleanup.
func (m *Manager) removeLocked(name string) {
	delete(m.regs, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// firstHealthyLocked returns the earliest-registered healthy provider,
// or the earliest registered when none is healthy, or "".
func (m *Manager) firstHealthyLocked() string {
	for _, name := range m.order {
		if m.regs[name].healthSnapshot().Status == StatusHealthy {
			return name
		}
	}
	if len(m.order) > 0 {
		return m.order[0]
	}
	return ""
}

// snapshotRegistrations returns the current registrations for the
// health monitor without holding the lock during probes.
func (m *Manager) snapshotRegistrations() []*registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*registration, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.regs[name])
	}
	return out
}

// buildRequestContext lifts well-known option keys into typed hints.
func buildRequestContext(taskType string, options map[string]any) *providers.RequestContext {
	rc := &providers.RequestContext{
		TaskType: taskType,
		Options:  options,
	}
	if options == nil {
		return rc
	}
	if v, ok := options["urgency"].(string); ok {
		rc.Urgency = v
	}
	if v, ok := options["budget"].(string); ok {
		rc.Budget = v
	}
	if v, ok := options["needs_vision"].(bool); ok {
		rc.NeedsVision = v
	}
	return rc
}
