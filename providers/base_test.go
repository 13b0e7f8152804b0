package providers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeBackend is a scripted Backend: each call pops the next step from
// the script, so tests control the exact failure sequence.
type fakeBackend struct {
	mu         sync.Mutex
	script     []fakeStep
	calls      []string // models used, in call order
	recovered  []Kind
	probes     []Probe
	pingResult bool
	recoverTo  string // model substituted by Recover, "" disables recovery
}

type fakeStep struct {
	text string
	err  error
}

func newFakeBackend(steps ...fakeStep) *fakeBackend {
	return &fakeBackend{script: steps, pingResult: true, recoverTo: "fallback-model"}
}

func (f *fakeBackend) Provider() string { return "fake" }

func (f *fakeBackend) Descriptor() Descriptor {
	return Descriptor{Name: "fake", Streaming: true, ContextWindow: 128000}
}

func (f *fakeBackend) Prepare(systemPrompt, userMessage string, rc *RequestContext) (*Invocation, error) {
	return &Invocation{
		Model: "primary-model",
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
	}, nil
}

func (f *fakeBackend) next(model string) (*Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, model)
	if len(f.script) == 0 {
		return &Completion{Text: "default reply.", Model: model}, nil
	}
	step := f.script[0]
	f.script = f.script[1:]
	if step.err != nil {
		return nil, step.err
	}
	return &Completion{Text: step.text, Model: model, Cost: 0.001}, nil
}

func (f *fakeBackend) Complete(ctx context.Context, inv *Invocation) (*Completion, error) {
	return f.next(inv.Model)
}

func (f *fakeBackend) CompleteStream(ctx context.Context, inv *Invocation, onChunk StreamFunc) (*Completion, error) {
	comp, err := f.next(inv.Model)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		onChunk(comp.Text)
	}
	return comp, nil
}

func (f *fakeBackend) Probes(ctx context.Context) []Probe { return f.probes }

func (f *fakeBackend) Calibrate(ctx context.Context) {}

func (f *fakeBackend) Ping(ctx context.Context) bool { return f.pingResult }

func (f *fakeBackend) Recover(inv *Invocation, kind Kind) (*Invocation, bool) {
	f.mu.Lock()
	f.recovered = append(f.recovered, kind)
	f.mu.Unlock()
	if f.recoverTo == "" {
		return nil, false
	}
	adjusted := *inv
	adjusted.Model = f.recoverTo
	return &adjusted, true
}

func (f *fakeBackend) callModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	return cfg
}

func newTestAdapter(t *testing.T, backend Backend) *BaseAdapter {
	t.Helper()
	return NewBaseAdapter(backend, testConfig(), zaptest.NewLogger(t))
}

func TestChatHappyPath(t *testing.T) {
	backend := newFakeBackend(fakeStep{text: "hello there, this is a complete response."})
	adapter := newTestAdapter(t, backend)

	got, err := adapter.Chat(context.Background(), "be helpful", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there, this is a complete response.", got)
	assert.Equal(t, []string{"primary-model"}, backend.callModels())
}

func TestChatRejectsEmptyPrompts(t *testing.T) {
	backend := newFakeBackend()
	adapter := newTestAdapter(t, backend)

	_, err := adapter.Chat(context.Background(), "   ", "hi", nil)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = adapter.Chat(context.Background(), "sys", "\t\n", nil)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	assert.Empty(t, backend.callModels(), "invalid input never reaches the network")
}

func TestChatServesIdenticalRequestFromCache(t *testing.T) {
	backend := newFakeBackend(fakeStep{text: "cached reply."})
	adapter := newTestAdapter(t, backend)
	ctx := context.Background()

	first, err := adapter.Chat(ctx, "sys", "same question", nil)
	require.NoError(t, err)
	second, err := adapter.Chat(ctx, "sys", "same question", nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, backend.callModels(), 1, "second call must not hit the network")
	assert.Equal(t, uint64(1), adapter.Info().Metrics.CacheHits)
}

func TestChatRetriesNetworkErrorOnce(t *testing.T) {
	backend := newFakeBackend(
		fakeStep{err: NewError("fake", KindNetwork, "connection reset", nil)},
		fakeStep{text: "recovered on retry."},
	)
	adapter := newTestAdapter(t, backend)

	got, err := adapter.Chat(context.Background(), "sys", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered on retry.", got)
	assert.Equal(t, []string{"primary-model", "primary-model"}, backend.callModels(),
		"network errors retry once with the same invocation")
}

func TestChatNeverRecoversTwice(t *testing.T) {
	backend := newFakeBackend(
		fakeStep{err: NewError("fake", KindNetwork, "reset", nil)},
		fakeStep{err: NewError("fake", KindService, "still down", nil)},
		fakeStep{text: "should never be reached"},
	)
	adapter := newTestAdapter(t, backend)

	_, err := adapter.Chat(context.Background(), "sys", "hi", nil)
	require.Error(t, err)
	assert.Len(t, backend.callModels(), 2, "exactly one retry, never a second recovery")

	perr, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, KindService, perr.Kind)
	assert.NotNil(t, perr.Cause, "the retry error carries the original failure")
}

func TestChatQuotaRecoversWithCheaperModel(t *testing.T) {
	backend := newFakeBackend(
		fakeStep{err: NewError("fake", KindQuota, "quota exceeded", nil)},
		fakeStep{text: "cheaper model reply."},
	)
	adapter := newTestAdapter(t, backend)

	got, err := adapter.Chat(context.Background(), "sys", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "cheaper model reply.", got)
	assert.Equal(t, []string{"primary-model", "fallback-model"}, backend.callModels())
	assert.Equal(t, []Kind{KindQuota}, backend.recovered)
}

func TestChatSurfacesErrorWhenNoRecoveryPossible(t *testing.T) {
	backend := newFakeBackend(
		fakeStep{err: NewError("fake", KindContextLength, "too large", nil)},
	)
	backend.recoverTo = ""
	adapter := newTestAdapter(t, backend)

	_, err := adapter.Chat(context.Background(), "sys", "hi", nil)
	require.Error(t, err)
	assert.Equal(t, KindContextLength, KindOf(err))
	assert.Len(t, backend.callModels(), 1, "no adjusted invocation means no retry")
}

func TestChatAuthErrorIsNotRecovered(t *testing.T) {
	backend := newFakeBackend(
		fakeStep{err: NewError("fake", KindAuth, "invalid key", nil)},
	)
	adapter := newTestAdapter(t, backend)

	_, err := adapter.Chat(context.Background(), "sys", "hi", nil)
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
	assert.Len(t, backend.callModels(), 1)
	assert.Empty(t, backend.recovered)
}

func TestChatCircuitOpensAndFailsFast(t *testing.T) {
	steps := make([]fakeStep, 0, 12)
	for i := 0; i < 12; i++ {
		steps = append(steps, fakeStep{err: NewError("fake", KindAuth, "down", nil)})
	}
	backend := newFakeBackend(steps...)

	cfg := testConfig()
	cfg.BreakerThreshold = 3
	adapter := NewBaseAdapter(backend, cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := adapter.Chat(ctx, "sys", "q", &RequestContext{Options: map[string]any{"n": i}})
		require.Error(t, err)
	}

	before := len(backend.callModels())
	_, err := adapter.Chat(ctx, "sys", "another", nil)
	require.Error(t, err)
	assert.Equal(t, KindCircuitOpen, KindOf(err))
	assert.Equal(t, before, len(backend.callModels()), "open breaker never reaches the network")
}

func TestChatStreamDeliversChunksAndFinalText(t *testing.T) {
	backend := newFakeBackend(fakeStep{text: "streamed response text."})
	adapter := newTestAdapter(t, backend)

	var chunks []string
	got, err := adapter.ChatStream(context.Background(), "sys", "hi", func(chunk string) {
		chunks = append(chunks, chunk)
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "streamed response text.", got)
	assert.Equal(t, []string{"streamed response text."}, chunks)
}

func TestChatStreamCacheHitDeliveredAsSingleChunk(t *testing.T) {
	backend := newFakeBackend(fakeStep{text: "one reply."})
	adapter := newTestAdapter(t, backend)
	ctx := context.Background()

	_, err := adapter.Chat(ctx, "sys", "q", nil)
	require.NoError(t, err)

	var chunks []string
	got, err := adapter.ChatStream(ctx, "sys", "q", func(chunk string) {
		chunks = append(chunks, chunk)
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "one reply.", got)
	assert.Equal(t, []string{"one reply."}, chunks)
	assert.Len(t, backend.callModels(), 1)
}

// deliveringBackend emits a chunk and then fails, exercising the
// no-recovery-after-delivery rule.
type deliveringBackend struct {
	fakeBackend
}

func (d *deliveringBackend) CompleteStream(ctx context.Context, inv *Invocation, onChunk StreamFunc) (*Completion, error) {
	d.mu.Lock()
	d.calls = append(d.calls, inv.Model)
	d.mu.Unlock()
	if onChunk != nil {
		onChunk("partial ")
	}
	return nil, NewError("fake", KindNetwork, "connection dropped mid-stream", nil)
}

func TestChatStreamNoRetryAfterDelivery(t *testing.T) {
	backend := &deliveringBackend{fakeBackend: fakeBackend{pingResult: true}}
	adapter := newTestAdapter(t, backend)

	_, err := adapter.ChatStream(context.Background(), "sys", "hi", func(string) {}, nil)
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Len(t, backend.callModels(), 1,
		"a stream that already delivered fragments must not restart")
}

func TestValidateAPIKeyRequiresTwoOfThree(t *testing.T) {
	pass := func(ctx context.Context) error { return nil }
	fail := func(ctx context.Context) error { return errors.New("probe failed") }

	tests := []struct {
		name      string
		runs      []func(ctx context.Context) error
		wantValid bool
		wantScore int
	}{
		{"all pass", []func(ctx context.Context) error{pass, pass, pass}, true, 3},
		{"two of three", []func(ctx context.Context) error{pass, fail, pass}, true, 2},
		{"one of three", []func(ctx context.Context) error{pass, fail, fail}, false, 1},
		{"none", []func(ctx context.Context) error{fail, fail, fail}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			for i, run := range tt.runs {
				backend.probes = append(backend.probes, Probe{Name: string(rune('a' + i)), Run: run})
			}
			adapter := newTestAdapter(t, backend)

			valid, err := adapter.ValidateAPIKey(context.Background())
			assert.Equal(t, tt.wantValid, valid)
			if tt.wantValid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, KindAuth, KindOf(err))
			}
			assert.Equal(t, tt.wantScore, adapter.Info().ProbeScore)
		})
	}
}

func TestRecalibrateQualityStaysBounded(t *testing.T) {
	backend := newFakeBackend(fakeStep{text: "x"}) // minimal text scores low
	adapter := newTestAdapter(t, backend)

	_, err := adapter.Chat(context.Background(), "sys", "q", nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		adapter.RecalibrateQuality()
	}

	cfg := testConfig()
	threshold := adapter.Info().QualityThreshold
	assert.GreaterOrEqual(t, threshold, cfg.QualityThreshold/2,
		"threshold never drops below half the configured value")
	assert.LessOrEqual(t, threshold, cfg.QualityThreshold)
}

func TestCleanupResetsState(t *testing.T) {
	backend := newFakeBackend(fakeStep{text: "before cleanup."}, fakeStep{text: "after cleanup."})
	adapter := newTestAdapter(t, backend)
	ctx := context.Background()

	_, err := adapter.Chat(ctx, "sys", "q", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), adapter.Info().Metrics.Requests)

	adapter.Cleanup()
	assert.Equal(t, uint64(0), adapter.Info().Metrics.Requests)

	// cache cleared: the same request hits the network again
	_, err = adapter.Chat(ctx, "sys", "q", nil)
	require.NoError(t, err)
	assert.Len(t, backend.callModels(), 2)
}
