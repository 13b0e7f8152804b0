package openai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-ai/switchboard/providers"
)

func TestPickModel(t *testing.T) {
	tests := []struct {
		name   string
		rc     *providers.RequestContext
		prompt string
		want   string
	}{
		{"vision always routes to gpt-4o", &providers.RequestContext{NeedsVision: true}, "describe this image", "gpt-4o"},
		{"economy budget picks mini", &providers.RequestContext{Budget: "economy"}, "analyze this architecture", "gpt-4o-mini"},
		{"high urgency simple ask picks mini", &providers.RequestContext{Urgency: "high"}, "what time is it", "gpt-4o-mini"},
		{"complex premium picks turbo", &providers.RequestContext{Budget: "premium"}, "refactor this algorithm step by step", "gpt-4-turbo"},
		{"complex standard picks gpt-4o", &providers.RequestContext{}, "debug this reasoning", "gpt-4o"},
		{"long prompt counts as complex", &providers.RequestContext{}, strings.Repeat("x", 2001), "gpt-4o"},
		{"plain chat defaults to mini", nil, "hello", "gpt-4o-mini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickModel(tt.rc, tt.prompt))
		})
	}
}

func TestCheaperModelWalksDownTheTable(t *testing.T) {
	next, ok := cheaperModel("gpt-4-turbo")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", next)

	next, ok = cheaperModel("gpt-4o")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", next)

	_, ok = cheaperModel("gpt-3.5-turbo")
	assert.False(t, ok, "nothing cheaper than the bottom of the table")

	_, ok = cheaperModel("unknown-model")
	assert.False(t, ok)
}

func TestNextFallbackSkipsFailingModel(t *testing.T) {
	next, ok := nextFallback("gpt-4o")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", next)

	next, ok = nextFallback("some-custom-model")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", next, "fallback starts at the top of the ordering")
}

func TestEstimateCost(t *testing.T) {
	cost := estimateCost("gpt-4o", chatUsage{PromptTokens: 1000, CompletionTokens: 1000})
	assert.InDelta(t, 0.02, cost, 1e-9)

	assert.Zero(t, estimateCost("unknown", chatUsage{PromptTokens: 1000}))
}

func TestCompressMessagesKeepsHeadAndTail(t *testing.T) {
	long := strings.Repeat("a", 500) + strings.Repeat("z", 500)
	msgs := []providers.Message{
		{Role: "system", Content: "instructions"},
		{Role: "user", Content: long},
	}

	out, ok := compressMessages(msgs)
	require.True(t, ok)
	assert.Equal(t, "instructions", out[0].Content, "system content untouched")
	assert.Less(t, len(out[1].Content), len(long))
	assert.True(t, strings.HasPrefix(out[1].Content, "aaa"))
	assert.True(t, strings.HasSuffix(out[1].Content, "zzz"))
	assert.Contains(t, out[1].Content, "[truncated]")

	assert.Equal(t, long, msgs[1].Content, "input slice is not mutated")
}

func TestCompressMessagesRefusesShortContent(t *testing.T) {
	msgs := []providers.Message{{Role: "user", Content: "short question"}}
	_, ok := compressMessages(msgs)
	assert.False(t, ok, "nothing meaningful to shrink")
}
