package manager

import (
	"github.com/switchboard-ai/switchboard/providers"
)

// Weights tunes the composite selection score. Zero value means "use
// defaults" (0.3 health, 0.4 performance, 0.3 task suitability).
type Weights struct {
	Health      float64 `yaml:"health" json:"health"`
	Performance float64 `yaml:"performance" json:"performance"`
	Suitability float64 `yaml:"suitability" json:"suitability"`
}

// DefaultWeights returns the standard composite weighting.
func DefaultWeights() Weights {
	return Weights{Health: 0.3, Performance: 0.4, Suitability: 0.3}
}

func (w Weights) normalized() Weights {
	if w.Health == 0 && w.Performance == 0 && w.Suitability == 0 {
		return DefaultWeights()
	}
	return w
}

// Candidate is one scored provider under consideration. All component
// scores are on a 0-100 scale.
type Candidate struct {
	Name        string
	Seq         int
	Inflight    int64
	Health      float64
	Performance float64
	Suitability float64
}

// Score computes the weighted composite.
func (c *Candidate) Score(w Weights) float64 {
	return w.Health*c.Health + w.Performance*c.Performance + w.Suitability*c.Suitability
}

// SelectionEngine turns a candidate set into one chosen provider. Task
// overrides win when the preferred provider is present; otherwise a
// named strategy or the composite score decides. Ties break toward the
// earliest-registered candidate so selection stays deterministic.
type SelectionEngine struct {
	weights    Weights
	overrides  map[string]string
	strategies map[string]Strategy
}

// NewSelectionEngine creates an engine with the standard strategies
// registered.
func NewSelectionEngine(weights Weights, overrides map[string]string) *SelectionEngine {
	e := &SelectionEngine{
		weights:   weights.normalized(),
		overrides: overrides,
	}
	e.strategies = map[string]Strategy{
		StrategyRoundRobin:          NewRoundRobinStrategy(),
		StrategyWeightedPerformance: NewWeightedPerformanceStrategy(),
		StrategyLeastLoaded:         NewLeastLoadedStrategy(),
		StrategyPredictive:          NewPredictiveStrategy(nil),
	}
	return e
}

// RegisterStrategy installs or replaces a named strategy. Used to plug
// in a custom predictive estimator.
func (e *SelectionEngine) RegisterStrategy(s Strategy) {
	e.strategies[s.Name()] = s
}

// Select picks one candidate. strategy may be empty to use the
// composite scoring pipeline.
func (e *SelectionEngine) Select(taskType, strategy string, cands []*Candidate) (*Candidate, error) {
	if len(cands) == 0 {
		return nil, ErrNoProviderAvailable
	}

	if preferred, ok := e.overrides[taskType]; ok {
		for _, c := range cands {
			if c.Name == preferred {
				return c, nil
			}
		}
	}

	if s, ok := e.strategies[strategy]; ok && strategy != "" {
		return s.Pick(cands)
	}

	return e.composite(cands), nil
}

// composite returns the highest weighted score; earlier registration
// wins ties because later candidates must strictly exceed the best.
func (e *SelectionEngine) composite(cands []*Candidate) *Candidate {
	best := cands[0]
	bestScore := best.Score(e.weights)
	for _, c := range cands[1:] {
		if s := c.Score(e.weights); s > bestScore || (s == bestScore && c.Seq < best.Seq) {
			best, bestScore = c, s
		}
	}
	return best
}

// healthScore maps a health record onto the 0-100 component scale.
func healthScore(h HealthRecord) float64 {
	var base float64
	switch h.Status {
	case StatusHealthy:
		base = 100
	case StatusDegraded:
		base = 60
	default:
		base = 0
	}
	base -= float64(h.ConsecutiveFailures) * 5
	if base < 0 {
		base = 0
	}
	return base
}

// performanceScore blends reliability and latency from the adapter's
// rolling metrics. Unused providers get a neutral prior so fresh
// registrations are not starved.
func performanceScore(s providers.MetricsSnapshot) float64 {
	if s.Requests == 0 {
		return 70
	}
	score := s.Reliability * 80
	switch lat := s.AvgLatency.Seconds(); {
	case lat <= 1:
		score += 20
	case lat <= 5:
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

// suitabilityScore rates how well a provider's capabilities match the
// task type.
func suitabilityScore(d providers.Descriptor, taskType string) float64 {
	switch taskType {
	case "vision":
		if d.Vision {
			return 100
		}
		return 0
	case "coding", "analysis":
		if d.ContextWindow >= 100000 {
			return 90
		}
		return 60
	case "chat", "":
		return 80
	default:
		return 70
	}
}
