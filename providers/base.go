package providers

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BaseAdapter implements the Adapter contract around a vendor Backend.
// It owns the shared resilience pipeline; gates run in a fixed order:
// validate, optimize, rate-limit, circuit-breaker, cache, network,
// response validation, cache store, metrics.
//
// All mutable state (window, cache, breaker counters, metrics) is
// private to the adapter and synchronized internally, so any number of
// concurrent calls may target the same adapter.
type BaseAdapter struct {
	backend Backend
	cfg     Config
	logger  *zap.Logger

	cache   *ResponseCache
	limiter *RateLimiter
	breaker *CircuitBreaker
	metrics *PerformanceMetrics
	backoff BackoffPolicy

	mu               sync.Mutex
	qualityThreshold float64
	probeScore       int

	calibrateOnce sync.Once
}

// NewBaseAdapter composes a vendor backend with fresh resilience state.
func NewBaseAdapter(backend Backend, cfg Config, logger *zap.Logger) *BaseAdapter {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseAdapter{
		backend:          backend,
		cfg:              cfg,
		logger:           logger.With(zap.String("provider", backend.Provider())),
		cache:            NewResponseCache(cfg.CacheMaxEntries, cfg.CacheTTL),
		limiter:          NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax),
		breaker:          NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		metrics:          NewPerformanceMetrics(),
		backoff:          DefaultBackoffPolicy(),
		qualityThreshold: cfg.QualityThreshold,
	}
}

// Name returns the provider name.
func (a *BaseAdapter) Name() string {
	return a.backend.Provider()
}

// Chat runs the full gated pipeline for one request/response exchange.
func (a *BaseAdapter) Chat(ctx context.Context, systemPrompt, userMessage string, rc *RequestContext) (string, error) {
	inv, key, err := a.admit(ctx, systemPrompt, userMessage, rc)
	if err != nil {
		return "", err
	}

	if cached, ok := a.cache.Get(key); ok {
		a.metrics.RecordCacheHit()
		return cached, nil
	}

	invoke := func(ctx context.Context, inv *Invocation) (*Completion, error) {
		return a.backend.Complete(ctx, inv)
	}
	comp, err := a.execute(ctx, inv, invoke, nil)
	if err != nil {
		return "", err
	}

	a.finish(key, comp)
	return comp.Text, nil
}

// ChatStream runs the same gates as Chat but streams the vendor
// exchange, delivering fragments to onChunk in arrival order. Partial
// chunks are never cached; only the final text is.
func (a *BaseAdapter) ChatStream(ctx context.Context, systemPrompt, userMessage string, onChunk StreamFunc, rc *RequestContext) (string, error) {
	inv, key, err := a.admit(ctx, systemPrompt, userMessage, rc)
	if err != nil {
		return "", err
	}

	if cached, ok := a.cache.Get(key); ok {
		a.metrics.RecordCacheHit()
		if onChunk != nil {
			onChunk(cached)
		}
		return cached, nil
	}

	// Recovery is only safe before any fragment reaches the caller;
	// restarting a half-delivered stream would duplicate text.
	delivered := false
	guarded := func(chunk string) {
		delivered = true
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	invoke := func(ctx context.Context, inv *Invocation) (*Completion, error) {
		return a.backend.CompleteStream(ctx, inv, guarded)
	}
	comp, err := a.execute(ctx, inv, invoke, func() bool { return !delivered })
	if err != nil {
		return "", err
	}

	a.finish(key, comp)
	return comp.Text, nil
}

// admit runs the pre-network gates: input validation, the optimize
// step, the rate-limiter wait, and the circuit-breaker check.
func (a *BaseAdapter) admit(ctx context.Context, systemPrompt, userMessage string, rc *RequestContext) (*Invocation, string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, "", NewError(a.Name(), KindValidation, "system prompt must not be empty", nil)
	}
	if strings.TrimSpace(userMessage) == "" {
		return nil, "", NewError(a.Name(), KindValidation, "user message must not be empty", nil)
	}

	inv, err := a.backend.Prepare(systemPrompt, userMessage, rc)
	if err != nil {
		return nil, "", a.enhance(Classify(a.Name(), err))
	}

	if err := a.limiter.Acquire(ctx); err != nil {
		return nil, "", NewError(a.Name(), KindTimeout, "caller gave up while waiting for rate limit capacity", err)
	}

	if !a.breaker.Allow() {
		return nil, "", NewError(a.Name(), KindCircuitOpen, "circuit breaker open, provider temporarily disabled", nil)
	}

	return inv, CacheKey(a.Name(), systemPrompt, userMessage, rc), nil
}

type invokeFunc func(ctx context.Context, inv *Invocation) (*Completion, error)

// execute performs the network call with per-call timeout, classifies
// failures, and applies the taxonomy's single recovery action. It never
// recurses into a second recovery for the same call. canRecover, when
// non-nil, vetoes recovery (used by streaming once fragments have been
// delivered).
func (a *BaseAdapter) execute(ctx context.Context, inv *Invocation, invoke invokeFunc, canRecover func() bool) (*Completion, error) {
	comp, perr := a.attempt(ctx, inv, invoke)
	if perr == nil {
		return comp, nil
	}

	if !perr.Kind.Recoverable() || (canRecover != nil && !canRecover()) {
		return nil, a.enhance(perr)
	}

	retryInv := inv
	switch perr.Kind {
	case KindRateLimit:
		delay := a.backoff.Delay(a.breaker.ConsecutiveFailures(), perr.RetryAfter)
		a.logger.Warn("rate limited, backing off before retry",
			zap.Duration("delay", delay),
			zap.String("request_id", perr.RequestID))
		if err := sleep(ctx, delay); err != nil {
			return nil, a.enhance(perr)
		}
	case KindQuota, KindContextLength, KindModelNotFound:
		adjusted, ok := a.backend.Recover(inv, perr.Kind)
		if !ok {
			return nil, a.enhance(perr)
		}
		a.logger.Warn("recovering with adjusted invocation",
			zap.String("kind", string(perr.Kind)),
			zap.String("model", adjusted.Model),
			zap.String("request_id", perr.RequestID))
		retryInv = adjusted
	case KindNetwork, KindTimeout, KindService:
		// retry once unchanged
	}

	comp, retryErr := a.attempt(ctx, retryInv, invoke)
	if retryErr != nil {
		retryErr.Cause = perr
		return nil, a.enhance(retryErr)
	}
	return comp, nil
}

// attempt performs exactly one gated network exchange and records its
// outcome on the breaker and metrics.
func (a *BaseAdapter) attempt(ctx context.Context, inv *Invocation, invoke invokeFunc) (*Completion, *ProviderError) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	comp, err := invoke(callCtx, inv)
	if err != nil {
		a.breaker.RecordFailure()
		a.metrics.RecordFailure()
		return nil, Classify(a.Name(), err)
	}

	a.breaker.RecordSuccess()
	a.metrics.RecordSuccess(time.Since(start), comp.Cost)
	return comp, nil
}

// finish validates response quality, stores the final text, and records
// the quality sample. Low quality is logged but the response is still
// returned.
func (a *BaseAdapter) finish(key string, comp *Completion) {
	score := scoreQuality(comp.Text)
	a.metrics.RecordQuality(score)

	a.mu.Lock()
	threshold := a.qualityThreshold
	a.mu.Unlock()

	if score < threshold {
		a.logger.Warn("response quality below threshold",
			zap.Float64("score", score),
			zap.Float64("threshold", threshold),
			zap.String("model", comp.Model))
	}

	if comp.Text != "" {
		a.cache.Put(key, comp.Text)
	}
}

// enhance attaches the human-readable suggestion and logs the surfaced
// error; nothing is swallowed into a fabricated success.
func (a *BaseAdapter) enhance(perr *ProviderError) error {
	if perr.Message == "" {
		perr.Message = perr.Kind.Suggestion()
	}
	a.logger.Error("provider call failed",
		zap.String("kind", string(perr.Kind)),
		zap.String("request_id", perr.RequestID),
		zap.String("suggestion", perr.Suggestion()),
		zap.Error(perr.Cause))
	return perr
}

// ValidateAPIKey runs the backend's independent probes; the credential
// is valid iff at least two succeed. A success triggers the one-time
// capability calibration.
func (a *BaseAdapter) ValidateAPIKey(ctx context.Context) (bool, error) {
	probes := a.backend.Probes(ctx)
	passed := 0
	var lastErr error
	for _, p := range probes {
		if err := p.Run(ctx); err != nil {
			lastErr = err
			a.logger.Debug("credential probe failed", zap.String("probe", p.Name), zap.Error(err))
			continue
		}
		passed++
	}

	a.mu.Lock()
	a.probeScore = passed
	a.mu.Unlock()

	if passed < 2 {
		return false, NewError(a.Name(), KindAuth, "credential validation failed", lastErr)
	}

	a.calibrateOnce.Do(func() {
		a.backend.Calibrate(ctx)
	})
	return true, nil
}

// Available is the cheap liveness probe consulted by the health monitor.
func (a *BaseAdapter) Available(ctx context.Context) bool {
	return a.backend.Ping(ctx)
}

// Info returns the descriptor plus a metrics snapshot.
func (a *BaseAdapter) Info() Info {
	a.mu.Lock()
	score := a.probeScore
	threshold := a.qualityThreshold
	a.mu.Unlock()

	return Info{
		Descriptor:       a.backend.Descriptor(),
		Metrics:          a.metrics.Snapshot(),
		ProbeScore:       score,
		QualityThreshold: threshold,
	}
}

// Cleanup clears the adapter's cache, metrics, breaker, and window.
func (a *BaseAdapter) Cleanup() {
	a.cache.Clear()
	a.metrics.Reset()
	a.breaker.Reset()
	a.limiter.Reset()
}

// RecalibrateQuality lowers or raises the quality threshold toward the
// recently observed average, keeping it inside the configured bound.
// Called by the periodic health monitor, never by request paths.
func (a *BaseAdapter) RecalibrateQuality() {
	avg := a.metrics.AverageQuality()
	if avg < 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Drift halfway toward the observed average, floored at half the
	// configured threshold so a bad stretch cannot disable validation.
	target := (a.qualityThreshold + avg*0.8) / 2
	floor := a.cfg.QualityThreshold / 2
	if target < floor {
		target = floor
	}
	if target > a.cfg.QualityThreshold {
		target = a.cfg.QualityThreshold
	}
	a.qualityThreshold = target
}

// SweepCache removes expired cache entries; exposed for background
// maintenance.
func (a *BaseAdapter) SweepCache() int {
	return a.cache.SweepExpired()
}

// scoreQuality is a cheap 0-100 heuristic over the response text:
// emptiness and truncation markers pull the score down, reasonable
// length pushes it up.
func scoreQuality(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	score := 50.0
	if len(trimmed) >= 20 {
		score += 25
	}
	if len(trimmed) >= 200 {
		score += 15
	}
	if strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "!") ||
		strings.HasSuffix(trimmed, "?") || strings.HasSuffix(trimmed, "```") {
		score += 10
	}
	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "as an ai") && len(trimmed) < 80 {
		score -= 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
