package providers

import (
	"context"
	"time"
)

// Adapter is the unified contract every vendor backend must satisfy.
// Concrete adapters are built by composing a vendor Backend with the
// shared resilience pipeline (see BaseAdapter).
type Adapter interface {
	// Name returns the provider name (e.g., "openai", "anthropic")
	Name() string

	// Chat performs a single chat exchange and returns the assistant text
	Chat(ctx context.Context, systemPrompt, userMessage string, rc *RequestContext) (string, error)

	// ChatStream performs a streamed chat exchange. onChunk is invoked once
	// per incremental text fragment, in arrival order, before the final
	// concatenated text is returned.
	ChatStream(ctx context.Context, systemPrompt, userMessage string, onChunk StreamFunc, rc *RequestContext) (string, error)

	// ValidateAPIKey probes the vendor with lightweight calls and reports
	// whether the configured credential is usable
	ValidateAPIKey(ctx context.Context) (bool, error)

	// Available is a cheap liveness probe used by the health monitor
	Available(ctx context.Context) bool

	// Info returns the provider descriptor plus a metrics snapshot.
	// Pure read, no side effects.
	Info() Info

	// Cleanup clears per-adapter state (cache, metrics, breaker). The
	// adapter holds no persistent external resources; connections are
	// per-call.
	Cleanup()
}

// StreamFunc receives one incremental text fragment of a streamed response.
type StreamFunc func(chunk string)

// RequestContext carries per-call hints from the application. Immutable
// for the duration of one call; never shared across calls.
type RequestContext struct {
	// TaskType is the application-level task label (e.g., "chat",
	// "coding", "analysis")
	TaskType string

	// Urgency hint: "low", "normal", or "high"
	Urgency string

	// Budget hint: "economy", "standard", or "premium"
	Budget string

	// NeedsVision indicates the request references image content
	NeedsVision bool

	// Options holds arbitrary caller-supplied options
	Options map[string]any
}

// Clone returns a copy safe to mutate during recovery.
func (rc *RequestContext) Clone() *RequestContext {
	if rc == nil {
		return &RequestContext{}
	}
	cp := *rc
	if rc.Options != nil {
		cp.Options = make(map[string]any, len(rc.Options))
		for k, v := range rc.Options {
			cp.Options[k] = v
		}
	}
	return &cp
}

// Message represents a single message in a conversation.
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`
}

// Invocation is the vendor-neutral request envelope produced by the
// optimize step. The backend translates it to the vendor wire format.
type Invocation struct {
	Model            string
	Messages         []Message
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Stop             []string
	Functions        any
	FunctionCall     any
}

// UserText returns the concatenated user-role content of the invocation.
func (inv *Invocation) UserText() string {
	var out string
	for _, m := range inv.Messages {
		if m.Role == "user" {
			out += m.Content
		}
	}
	return out
}

// Completion is the vendor-neutral result of one network exchange.
type Completion struct {
	Text         string
	Model        string
	PromptTokens int
	OutputTokens int
	Cost         float64
	FinishReason string
}

// ModelInfo describes one model offered by a provider, including the
// per-token cost table consulted by recovery and selection.
type ModelInfo struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	ContextWindow       int     `json:"context_window"`
	MaxTokens           int     `json:"max_tokens"`
	PromptCostPer1K     float64 `json:"prompt_cost_per_1k"`
	CompletionCostPer1K float64 `json:"completion_cost_per_1k"`
	SupportsStreaming   bool    `json:"supports_streaming"`
	SupportsFunctions   bool    `json:"supports_functions"`
	SupportsVision      bool    `json:"supports_vision"`
}

// Descriptor is the immutable identity and capability set of one
// registered backend. Created at registration, replaced on
// re-registration, removed on deregistration.
type Descriptor struct {
	Name           string      `json:"name"`
	ContextWindow  int         `json:"context_window"`
	Streaming      bool        `json:"streaming"`
	FunctionCalls  bool        `json:"function_calls"`
	Vision         bool        `json:"vision"`
	Models         []ModelInfo `json:"models"`
}

// Info is the read-only view returned by Adapter.Info.
type Info struct {
	Descriptor Descriptor      `json:"descriptor"`
	Metrics    MetricsSnapshot `json:"metrics"`

	// ProbeScore is the number of validation probes that passed on the
	// most recent ValidateAPIKey run (0..3)
	ProbeScore int `json:"probe_score"`

	// QualityThreshold currently applied to response validation
	QualityThreshold float64 `json:"quality_threshold"`
}

// Backend is the vendor-specific half of an adapter. It owns the wire
// format, model heuristics, and error translation; the BaseAdapter owns
// caching, rate limiting, circuit breaking, retries, and metrics.
type Backend interface {
	// Provider returns the vendor name
	Provider() string

	// Descriptor returns the immutable identity/capability set
	Descriptor() Descriptor

	// Prepare builds the invocation for a call, choosing model and
	// sampling parameters from the request context. May adjust the
	// prompts but must preserve intent.
	Prepare(systemPrompt, userMessage string, rc *RequestContext) (*Invocation, error)

	// Complete performs one request/response exchange
	Complete(ctx context.Context, inv *Invocation) (*Completion, error)

	// CompleteStream performs one streamed exchange, delivering text
	// fragments to onChunk in arrival order
	CompleteStream(ctx context.Context, inv *Invocation, onChunk StreamFunc) (*Completion, error)

	// Probes returns the independent credential probes run by
	// ValidateAPIKey (simple ping, capability echo, limits probe)
	Probes(ctx context.Context) []Probe

	// Calibrate performs the one-time capability calibration triggered by
	// a successful credential validation
	Calibrate(ctx context.Context)

	// Ping is a cheap liveness check used by the health monitor
	Ping(ctx context.Context) bool

	// Recover adjusts an invocation for a single retry after a failure of
	// the given kind (cheaper model on quota, fallback model when the
	// requested one is missing, compressed context when too large).
	// Returns false when no adjustment is possible.
	Recover(inv *Invocation, kind Kind) (*Invocation, bool)
}

// Probe is one independent credential validation call.
type Probe struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config holds the resilience knobs shared by all adapters. Zero values
// are replaced with defaults by Normalize.
type Config struct {
	Timeout          time.Duration
	RateLimitWindow  time.Duration
	RateLimitMax     int
	CacheTTL         time.Duration
	CacheMaxEntries  int
	BreakerThreshold int
	BreakerCooldown  time.Duration
	QualityThreshold float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		RateLimitWindow:  60 * time.Second,
		RateLimitMax:     100,
		CacheTTL:         5 * time.Minute,
		CacheMaxEntries:  1000,
		BreakerThreshold: 5,
		BreakerCooldown:  60 * time.Second,
		QualityThreshold: 40,
	}
}

// Normalize fills zero fields with defaults.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = def.RateLimitWindow
	}
	if c.RateLimitMax <= 0 {
		c.RateLimitMax = def.RateLimitMax
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = def.CacheMaxEntries
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = def.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = def.BreakerCooldown
	}
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = def.QualityThreshold
	}
	return c
}
