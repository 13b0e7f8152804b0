// Package openai implements the provider contract for an
// OpenAI-compatible HTTP backend: request envelope construction, model
// selection heuristics, SSE stream parsing, and translation of vendor
// errors into the shared taxonomy.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

// Config holds OpenAI connection settings.
type Config struct {
	APIKey  string
	BaseURL string
	OrgID   string

	// Headers are added verbatim to every request
	Headers map[string]string
}

// Client is the vendor-specific backend behind the shared adapter
// pipeline. Network connections are per-call; the client keeps no
// persistent external resources.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	available map[string]bool // populated by Calibrate; nil until then
}

// New builds a fully wired OpenAI adapter: the vendor client composed
// with fresh cache, rate-limiter, breaker, and metrics state.
func New(cfg Config, rcfg providers.Config, logger *zap.Logger) *providers.BaseAdapter {
	return providers.NewBaseAdapter(newClient(cfg, rcfg, logger), rcfg, logger)
}

func newClient(cfg Config, rcfg providers.Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rcfg = rcfg.Normalize()
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			// per-call deadlines come from the request context; the
			// client-level timeout is a hard upper bound for streams
			Timeout: 2 * rcfg.Timeout,
		},
		logger: logger.With(zap.String("provider", providerName)),
	}
}

// Provider returns the vendor name.
func (c *Client) Provider() string { return providerName }

// Descriptor returns the identity and capability set.
func (c *Client) Descriptor() providers.Descriptor {
	models := make([]providers.ModelInfo, 0, len(modelTable))
	maxWindow := 0
	for _, m := range modelTable {
		models = append(models, m)
		if m.ContextWindow > maxWindow {
			maxWindow = m.ContextWindow
		}
	}
	return providers.Descriptor{
		Name:          providerName,
		ContextWindow: maxWindow,
		Streaming:     true,
		FunctionCalls: true,
		Vision:        true,
		Models:        models,
	}
}

// Prepare builds the invocation: model choice from the request hints
// plus sampling parameters tuned per task type.
func (c *Client) Prepare(systemPrompt, userMessage string, rc *providers.RequestContext) (*providers.Invocation, error) {
	model := pickModel(rc, systemPrompt+"\n"+userMessage)
	info := modelTable[model]

	temperature := 0.7
	if rc != nil {
		switch rc.TaskType {
		case "coding", "extraction":
			temperature = 0.2
		case "creative":
			temperature = 0.9
		}
	}

	return &providers.Invocation{
		Model: model,
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens:   info.MaxTokens,
		Temperature: temperature,
		TopP:        1.0,
	}, nil
}

// Complete performs one request/response exchange.
func (c *Client) Complete(ctx context.Context, inv *providers.Invocation) (*providers.Completion, error) {
	body, status, header, err := c.post(ctx, "/chat/completions", c.buildRequest(inv, false))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.translateError(status, header, body)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providers.NewError(providerName, providers.KindService, "malformed vendor response", err)
	}
	if len(resp.Choices) == 0 {
		return nil, providers.NewError(providerName, providers.KindService, "vendor response carried no choices", nil)
	}

	return &providers.Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Cost:         estimateCost(inv.Model, resp.Usage),
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}

// CompleteStream performs one streamed exchange, forwarding text deltas
// to onChunk in arrival order.
func (c *Client) CompleteStream(ctx context.Context, inv *providers.Invocation, onChunk providers.StreamFunc) (*providers.Completion, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/completions", c.buildRequest(inv, true))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, providers.Classify(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, c.translateError(resp.StatusCode, resp.Header, body)
	}

	result, err := parseStream(resp.Body, onChunk, streamCallbacks{
		onToolCall: func(delta any) {
			c.logger.Debug("ignoring tool-call delta in stream")
		},
		onFinish: func(reason string) {
			c.logger.Debug("stream finished", zap.String("reason", reason))
		},
	})
	if err != nil {
		return nil, providers.NewError(providerName, providers.KindNetwork, "stream interrupted", err)
	}

	// Streamed responses carry no usage block; approximate tokens from
	// text length for cost accrual.
	usage := chatUsage{
		PromptTokens:     approxTokens(inv.UserText()),
		CompletionTokens: approxTokens(result.text),
	}
	return &providers.Completion{
		Text:         result.text,
		Model:        inv.Model,
		PromptTokens: usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		Cost:         estimateCost(inv.Model, usage),
		FinishReason: result.finishReason,
	}, nil
}

// Probes returns the three independent credential checks: a simple
// ping, a capability echo, and a limits probe.
func (c *Client) Probes(ctx context.Context) []providers.Probe {
	return []providers.Probe{
		{Name: "ping", Run: func(ctx context.Context) error {
			return c.checkModels(ctx)
		}},
		{Name: "capability_echo", Run: func(ctx context.Context) error {
			one := 1
			req := &chatRequest{
				Model:     "gpt-4o-mini",
				Messages:  []chatMessage{{Role: "user", Content: "ping"}},
				MaxTokens: &one,
			}
			body, status, header, err := c.post(ctx, "/chat/completions", req)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return c.translateError(status, header, body)
			}
			return nil
		}},
		{Name: "limits", Run: func(ctx context.Context) error {
			req, err := c.newRequest(ctx, http.MethodGet, "/models", nil)
			if err != nil {
				return err
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
				return c.translateError(resp.StatusCode, resp.Header, body)
			}
			if v := resp.Header.Get("X-RateLimit-Limit-Requests"); v != "" {
				c.logger.Debug("vendor rate limit reported", zap.String("limit", v))
			}
			return nil
		}},
	}
}

// Calibrate fetches the vendor's model list once and records which
// table models the credential can actually reach.
func (c *Client) Calibrate(ctx context.Context) {
	req, err := c.newRequest(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return
	}

	available := make(map[string]bool)
	for _, m := range list.Data {
		if _, ok := modelTable[m.ID]; ok {
			available[m.ID] = true
		}
	}

	c.mu.Lock()
	c.available = available
	c.mu.Unlock()
	c.logger.Info("capability calibration complete", zap.Int("models", len(available)))
}

// Ping is the cheap liveness probe.
func (c *Client) Ping(ctx context.Context) bool {
	return c.checkModels(ctx) == nil
}

// Recover adjusts an invocation for a single retry: cheaper model on
// quota exhaustion, fallback ordering when the model is missing,
// compressed context when too large.
func (c *Client) Recover(inv *providers.Invocation, kind providers.Kind) (*providers.Invocation, bool) {
	adjusted := *inv
	switch kind {
	case providers.KindQuota:
		next, ok := cheaperModel(inv.Model)
		if !ok {
			return nil, false
		}
		adjusted.Model = next
	case providers.KindModelNotFound:
		next, ok := nextFallback(inv.Model)
		if !ok {
			return nil, false
		}
		if reachable := c.modelReachable(next); !reachable {
			return nil, false
		}
		adjusted.Model = next
	case providers.KindContextLength:
		msgs, ok := compressMessages(inv.Messages)
		if !ok {
			return nil, false
		}
		adjusted.Messages = msgs
	default:
		return nil, false
	}
	return &adjusted, true
}

// modelReachable consults the calibration set; before calibration every
// table model is assumed reachable.
func (c *Client) modelReachable(model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.available == nil {
		return true
	}
	return c.available[model]
}

// compressMessages truncates the user content, keeping the head and
// tail so instructions at either end survive. Returns false when the
// content is already too short to shrink meaningfully.
func compressMessages(msgs []providers.Message) ([]providers.Message, bool) {
	out := make([]providers.Message, len(msgs))
	copy(out, msgs)
	shrunk := false
	for i, m := range out {
		if m.Role != "user" || len(m.Content) < 400 {
			continue
		}
		keep := len(m.Content) / 4
		out[i].Content = m.Content[:keep] + "\n...[truncated]...\n" + m.Content[len(m.Content)-keep:]
		shrunk = true
	}
	return out, shrunk
}

// buildRequest translates the vendor-neutral invocation to the wire
// envelope.
func (c *Client) buildRequest(inv *providers.Invocation, stream bool) *chatRequest {
	req := &chatRequest{
		Model:    inv.Model,
		Messages: make([]chatMessage, len(inv.Messages)),
		Stream:   stream,
	}
	for i, m := range inv.Messages {
		req.Messages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	if inv.MaxTokens > 0 {
		req.MaxTokens = &inv.MaxTokens
	}
	if inv.Temperature > 0 {
		req.Temperature = &inv.Temperature
	}
	if inv.TopP > 0 {
		req.TopP = &inv.TopP
	}
	if inv.FrequencyPenalty != 0 {
		req.FrequencyPenalty = &inv.FrequencyPenalty
	}
	if inv.PresencePenalty != 0 {
		req.PresencePenalty = &inv.PresencePenalty
	}
	if len(inv.Stop) > 0 {
		req.Stop = inv.Stop
	}
	if inv.Functions != nil {
		req.Functions = inv.Functions
		req.FunctionCall = inv.FunctionCall
	}
	return req
}

// post sends a JSON request and returns the raw body, status, and
// headers.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, int, http.Header, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, 0, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, providers.Classify(providerName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, resp.StatusCode, resp.Header, providers.NewError(providerName, providers.KindNetwork, "failed to read vendor response", err)
	}
	return body, resp.StatusCode, resp.Header, nil
}

// newRequest builds an HTTP request with auth and standard headers.
func (c *Client) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, providers.NewError(providerName, providers.KindValidation, "failed to marshal request", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, providers.NewError(providerName, providers.KindValidation, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.OrgID != "" {
		req.Header.Set("OpenAI-Organization", c.cfg.OrgID)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// checkModels hits the model list endpoint and reports any failure.
func (c *Client) checkModels(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return c.translateError(resp.StatusCode, resp.Header, body)
	}
	return nil
}

// translateError maps vendor HTTP status/message into the shared
// taxonomy. Non-2xx responses carry {error:{message}}.
func (c *Client) translateError(status int, header http.Header, body []byte) *providers.ProviderError {
	var parsed errorResponse
	_ = json.Unmarshal(body, &parsed)
	msg := parsed.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = fmt.Sprintf("vendor returned status %d", status)
	}

	kind := classifyStatus(status, parsed.Error, msg)
	perr := providers.NewError(providerName, kind, msg, nil)
	perr.StatusCode = status
	perr.RetryAfter = parseRetryAfter(header)
	return perr
}

// classifyStatus derives the taxonomy kind from status code plus the
// vendor's error type/code/message vocabulary.
func classifyStatus(status int, apiErr apiError, msg string) providers.Kind {
	lower := strings.ToLower(apiErr.Type + " " + apiErr.Code + " " + msg)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return providers.KindAuth
	case status == http.StatusTooManyRequests:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "billing") {
			return providers.KindQuota
		}
		return providers.KindRateLimit
	case status == http.StatusNotFound || strings.Contains(lower, "model_not_found") ||
		strings.Contains(lower, "does not exist"):
		return providers.KindModelNotFound
	case status == http.StatusBadRequest &&
		(strings.Contains(lower, "context_length") || strings.Contains(lower, "maximum context") ||
			strings.Contains(lower, "too many tokens")):
		return providers.KindContextLength
	case status == http.StatusBadRequest:
		return providers.KindValidation
	case status == http.StatusRequestTimeout:
		return providers.KindTimeout
	case status >= 500:
		return providers.KindService
	default:
		return providers.KindUnknown
	}
}

// parseRetryAfter reads the vendor backoff hint, seconds or HTTP date.
func parseRetryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// approxTokens estimates a token count from text length (4 chars per
// token average).
func approxTokens(text string) int {
	return len(text) / 4
}
