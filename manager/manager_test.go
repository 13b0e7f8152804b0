package manager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/switchboard-ai/switchboard/providers"
)

// stubAdapter is a scriptable providers.Adapter for registry tests.
type stubAdapter struct {
	name       string
	validateOK bool
	probeScore int
	metrics    providers.MetricsSnapshot
	reply      string
	chatErr    error
	streamErr  error
	emitChunk  bool // emit a chunk before failing a stream

	mu        sync.Mutex
	chatCalls int
	cleanedUp bool
}

func newStubAdapter(name string) *stubAdapter {
	return &stubAdapter{
		name:       name,
		validateOK: true,
		probeScore: 3,
		reply:      name + " reply",
		metrics:    providers.MetricsSnapshot{},
	}
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Chat(ctx context.Context, systemPrompt, userMessage string, rc *providers.RequestContext) (string, error) {
	s.mu.Lock()
	s.chatCalls++
	s.mu.Unlock()
	if s.chatErr != nil {
		return "", s.chatErr
	}
	return s.reply, nil
}

func (s *stubAdapter) ChatStream(ctx context.Context, systemPrompt, userMessage string, onChunk providers.StreamFunc, rc *providers.RequestContext) (string, error) {
	s.mu.Lock()
	s.chatCalls++
	s.mu.Unlock()
	if s.streamErr != nil {
		if s.emitChunk && onChunk != nil {
			onChunk("partial ")
		}
		return "", s.streamErr
	}
	if onChunk != nil {
		onChunk(s.reply)
	}
	return s.reply, nil
}

func (s *stubAdapter) ValidateAPIKey(ctx context.Context) (bool, error) {
	if !s.validateOK {
		return false, providers.NewError(s.name, providers.KindAuth, "credential validation failed", nil)
	}
	return true, nil
}

func (s *stubAdapter) Available(ctx context.Context) bool { return true }

func (s *stubAdapter) Info() providers.Info {
	return providers.Info{
		Descriptor: providers.Descriptor{Name: s.name, Streaming: true, ContextWindow: 128000},
		Metrics:    s.metrics,
		ProbeScore: s.probeScore,
	}
}

func (s *stubAdapter) Cleanup() {
	s.mu.Lock()
	s.cleanedUp = true
	s.mu.Unlock()
}

func (s *stubAdapter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatCalls
}

// stubFactory hands out pre-built adapters by name.
func stubFactory(stubs map[string]*stubAdapter) Factory {
	return func(name string, creds Credentials, cfg providers.Config, logger *zap.Logger) (providers.Adapter, error) {
		stub, ok := stubs[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", name)
		}
		return stub, nil
	}
}

func newTestManager(t *testing.T, stubs map[string]*stubAdapter) *Manager {
	t.Helper()
	return New(stubFactory(stubs), Config{}, nil, zaptest.NewLogger(t))
}

func addProvider(t *testing.T, m *Manager, name string) {
	t.Helper()
	_, err := m.AddProvider(context.Background(), name, Credentials{APIKey: "key"})
	require.NoError(t, err)
}

func TestAddProviderValidatesCredential(t *testing.T) {
	good := newStubAdapter("good")
	bad := newStubAdapter("bad")
	bad.validateOK = false
	m := newTestManager(t, map[string]*stubAdapter{"good": good, "bad": bad})

	addProvider(t, m, "good")

	_, err := m.AddProvider(context.Background(), "bad", Credentials{APIKey: "nope"})
	require.Error(t, err)
	assert.Equal(t, providers.KindAuth, providers.KindOf(err))
	assert.Equal(t, []string{"good"}, m.ListProviders(), "failed validation never registers")
	assert.True(t, bad.cleanedUp, "rejected adapter is cleaned up")
}

func TestDefaultDesignationFollowsProbeScore(t *testing.T) {
	weak := newStubAdapter("weak")
	weak.probeScore = 2
	strong := newStubAdapter("strong")
	strong.probeScore = 3
	m := newTestManager(t, map[string]*stubAdapter{"weak": weak, "strong": strong})

	addProvider(t, m, "weak")
	assert.Equal(t, "weak", m.DefaultProvider(), "first registration becomes the default")

	addProvider(t, m, "strong")
	assert.Equal(t, "strong", m.DefaultProvider(), "stronger validation takes the default")
}

func TestRemoveProviderReassignsDefault(t *testing.T) {
	a := newStubAdapter("a")
	b := newStubAdapter("b")
	m := newTestManager(t, map[string]*stubAdapter{"a": a, "b": b})

	addProvider(t, m, "a")
	addProvider(t, m, "b")
	require.Equal(t, "a", m.DefaultProvider())

	require.NoError(t, m.RemoveProvider("a"))
	assert.True(t, a.cleanedUp)
	assert.Equal(t, []string{"b"}, m.ListProviders())
	assert.Equal(t, "b", m.DefaultProvider())

	err := m.RemoveProvider("a")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestChatNoProvidersRegistered(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.Chat(context.Background(), "sys", "hi", "chat", nil)
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestChatSelectsBetterPerformer(t *testing.T) {
	fast := newStubAdapter("fast")
	fast.metrics = providers.MetricsSnapshot{
		Requests: 10, Successes: 10, Reliability: 1.0, AvgLatency: 500 * time.Millisecond,
	}
	slow := newStubAdapter("slow")
	slow.metrics = providers.MetricsSnapshot{
		Requests: 10, Successes: 5, Reliability: 0.5, AvgLatency: 8 * time.Second,
	}
	m := newTestManager(t, map[string]*stubAdapter{"fast": fast, "slow": slow})

	// registration order puts the weaker provider first; scoring must
	// still pick the stronger one
	addProvider(t, m, "slow")
	addProvider(t, m, "fast")

	got, err := m.Chat(context.Background(), "sys", "hi", "chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "fast reply", got)
	assert.Equal(t, 1, fast.calls())
	assert.Zero(t, slow.calls())
}

func TestChatTieBreaksByRegistrationOrder(t *testing.T) {
	first := newStubAdapter("first")
	second := newStubAdapter("second")
	m := newTestManager(t, map[string]*stubAdapter{"first": first, "second": second})

	addProvider(t, m, "first")
	addProvider(t, m, "second")

	got, err := m.Chat(context.Background(), "sys", "hi", "chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "first reply", got, "identical scores resolve to the earlier registration")
}

func TestChatFallsBackToAlternateProviderOnce(t *testing.T) {
	failing := newStubAdapter("failing")
	failing.chatErr = providers.NewError("failing", providers.KindService, "backend down", nil)
	backup := newStubAdapter("backup")
	m := newTestManager(t, map[string]*stubAdapter{"failing": failing, "backup": backup})

	addProvider(t, m, "failing")
	addProvider(t, m, "backup")

	got, err := m.Chat(context.Background(), "sys", "hi", "chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "backup reply", got)
	assert.Equal(t, 1, failing.calls())
	assert.Equal(t, 1, backup.calls())
}

func TestChatNoFallbackForValidationErrors(t *testing.T) {
	failing := newStubAdapter("failing")
	failing.chatErr = providers.NewError("failing", providers.KindValidation, "empty prompt", nil)
	backup := newStubAdapter("backup")
	m := newTestManager(t, map[string]*stubAdapter{"failing": failing, "backup": backup})

	addProvider(t, m, "failing")
	addProvider(t, m, "backup")

	_, err := m.Chat(context.Background(), "sys", "hi", "chat", nil)
	require.Error(t, err)
	assert.Zero(t, backup.calls(), "caller errors fail identically everywhere, no fallback")
}

func TestChatSurfacesErrorWhenAllProvidersFail(t *testing.T) {
	a := newStubAdapter("a")
	a.chatErr = providers.NewError("a", providers.KindService, "down", nil)
	b := newStubAdapter("b")
	b.chatErr = providers.NewError("b", providers.KindService, "also down", nil)
	m := newTestManager(t, map[string]*stubAdapter{"a": a, "b": b})

	addProvider(t, m, "a")
	addProvider(t, m, "b")

	_, err := m.Chat(context.Background(), "sys", "hi", "chat", nil)
	require.Error(t, err)
	assert.Equal(t, 1, a.calls())
	assert.Equal(t, 1, b.calls(), "exactly one manager-level fallback")
}

func TestChatStreamFallsBackBeforeDelivery(t *testing.T) {
	failing := newStubAdapter("failing")
	failing.streamErr = providers.NewError("failing", providers.KindService, "down", nil)
	backup := newStubAdapter("backup")
	m := newTestManager(t, map[string]*stubAdapter{"failing": failing, "backup": backup})

	addProvider(t, m, "failing")
	addProvider(t, m, "backup")

	var chunks []string
	got, err := m.ChatStream(context.Background(), "sys", "hi", "chat", func(c string) {
		chunks = append(chunks, c)
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "backup reply", got)
	assert.Equal(t, []string{"backup reply"}, chunks)
}

func TestChatStreamNoFallbackAfterDelivery(t *testing.T) {
	failing := newStubAdapter("failing")
	failing.streamErr = providers.NewError("failing", providers.KindNetwork, "dropped", nil)
	failing.emitChunk = true
	backup := newStubAdapter("backup")
	m := newTestManager(t, map[string]*stubAdapter{"failing": failing, "backup": backup})

	addProvider(t, m, "failing")
	addProvider(t, m, "backup")

	_, err := m.ChatStream(context.Background(), "sys", "hi", "chat", func(string) {}, nil)
	require.Error(t, err)
	assert.Zero(t, backup.calls(), "a half-delivered stream must not restart elsewhere")
}

func TestReRegistrationReplacesState(t *testing.T) {
	original := newStubAdapter("openai")
	m := newTestManager(t, map[string]*stubAdapter{"openai": original})

	addProvider(t, m, "openai")
	addProvider(t, m, "openai")

	assert.True(t, original.cleanedUp, "replaced registration is cleaned up")
	assert.Equal(t, []string{"openai"}, m.ListProviders())
}

func TestUnhealthyProviderSkippedUntilNoneLeft(t *testing.T) {
	sick := newStubAdapter("sick")
	healthy := newStubAdapter("healthy")
	m := newTestManager(t, map[string]*stubAdapter{"sick": sick, "healthy": healthy})

	addProvider(t, m, "sick")
	addProvider(t, m, "healthy")

	// drive the sick provider unhealthy through failure accounting
	m.mu.RLock()
	reg := m.regs["sick"]
	m.mu.RUnlock()
	for i := 0; i < 5; i++ {
		reg.recordOutcome(false)
	}
	require.Equal(t, StatusUnhealthy, reg.healthSnapshot().Status)

	got, err := m.Chat(context.Background(), "sys", "hi", "chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "healthy reply", got)
	assert.Zero(t, sick.calls())

	// with every provider unhealthy, selection falls back to all
	m.mu.RLock()
	hreg := m.regs["healthy"]
	m.mu.RUnlock()
	for i := 0; i < 5; i++ {
		hreg.recordOutcome(false)
	}

	_, err = m.Chat(context.Background(), "sys", "hi", "chat", nil)
	require.NoError(t, err, "degraded pool still serves rather than refusing")
}

func TestProviderInfoAndClose(t *testing.T) {
	stub := newStubAdapter("openai")
	m := newTestManager(t, map[string]*stubAdapter{"openai": stub})
	addProvider(t, m, "openai")

	info, health, err := m.ProviderInfo("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", info.Descriptor.Name)
	assert.Equal(t, StatusHealthy, health.Status)

	_, _, err = m.ProviderInfo("missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)

	m.Close()
	assert.True(t, stub.cleanedUp)
	assert.Empty(t, m.ListProviders())
}
