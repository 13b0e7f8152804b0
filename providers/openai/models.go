package openai

import (
	"strings"

	"github.com/switchboard-ai/switchboard/providers"
)

// Built-in model table. Pricing is per 1K tokens; the ordering of
// cheaperOrder and fallbackOrder drives quota and model_not_found
// recovery.
var modelTable = map[string]providers.ModelInfo{
	"gpt-4o": {
		ID:                  "gpt-4o",
		Name:                "GPT-4o",
		ContextWindow:       128000,
		MaxTokens:           4096,
		PromptCostPer1K:     0.005,
		CompletionCostPer1K: 0.015,
		SupportsStreaming:   true,
		SupportsFunctions:   true,
		SupportsVision:      true,
	},
	"gpt-4-turbo": {
		ID:                  "gpt-4-turbo",
		Name:                "GPT-4 Turbo",
		ContextWindow:       128000,
		MaxTokens:           4096,
		PromptCostPer1K:     0.01,
		CompletionCostPer1K: 0.03,
		SupportsStreaming:   true,
		SupportsFunctions:   true,
		SupportsVision:      true,
	},
	"gpt-4o-mini": {
		ID:                  "gpt-4o-mini",
		Name:                "GPT-4o Mini",
		ContextWindow:       128000,
		MaxTokens:           16384,
		PromptCostPer1K:     0.00015,
		CompletionCostPer1K: 0.0006,
		SupportsStreaming:   true,
		SupportsFunctions:   true,
	},
	"gpt-3.5-turbo": {
		ID:                  "gpt-3.5-turbo",
		Name:                "GPT-3.5 Turbo",
		ContextWindow:       16385,
		MaxTokens:           4096,
		PromptCostPer1K:     0.0005,
		CompletionCostPer1K: 0.0015,
		SupportsStreaming:   true,
		SupportsFunctions:   true,
	},
}

// cheaperOrder lists models from most to least expensive; quota
// recovery steps one place to the right of the failing model.
var cheaperOrder = []string{"gpt-4-turbo", "gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"}

// fallbackOrder is the documented ordering tried when a requested model
// is unavailable.
var fallbackOrder = []string{"gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"}

// complexityKeywords mark prompts that benefit from a stronger model.
var complexityKeywords = []string{
	"analyze", "analysis", "reasoning", "reason about", "prove",
	"algorithm", "implement", "refactor", "debug", "architecture",
	"step by step", "trade-off", "optimize",
}

const complexityLengthThreshold = 2000

// detectComplexity is a cheap keyword/length heuristic over the
// combined prompt text.
func detectComplexity(text string) bool {
	if len(text) > complexityLengthThreshold {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// pickModel chooses a model from urgency/budget hints, detected task
// complexity, and whether vision is needed.
func pickModel(rc *providers.RequestContext, promptText string) string {
	if rc != nil && rc.NeedsVision {
		return "gpt-4o"
	}

	complex := detectComplexity(promptText)
	urgency, budget := "normal", "standard"
	if rc != nil {
		if rc.Urgency != "" {
			urgency = rc.Urgency
		}
		if rc.Budget != "" {
			budget = rc.Budget
		}
	}

	switch {
	case budget == "economy":
		return "gpt-4o-mini"
	case urgency == "high" && !complex:
		// latency beats capability for quick simple asks
		return "gpt-4o-mini"
	case complex && budget == "premium":
		return "gpt-4-turbo"
	case complex:
		return "gpt-4o"
	default:
		return "gpt-4o-mini"
	}
}

// cheaperModel returns the next cheaper model after the given one, or
// ok=false when already at the bottom of the table.
func cheaperModel(model string) (string, bool) {
	for i, m := range cheaperOrder {
		if m == model && i+1 < len(cheaperOrder) {
			return cheaperOrder[i+1], true
		}
	}
	return "", false
}

// nextFallback returns the first model in the fallback ordering that
// differs from the failing one.
func nextFallback(model string) (string, bool) {
	for _, m := range fallbackOrder {
		if m != model {
			return m, true
		}
	}
	return "", false
}

// estimateCost prices a completion from the usage block.
func estimateCost(model string, usage chatUsage) float64 {
	info, ok := modelTable[model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1000*info.PromptCostPer1K +
		float64(usage.CompletionTokens)/1000*info.CompletionCostPer1K
}
