package manager

import (
	"sync/atomic"
)

// Strategy names accepted in Config.Strategy.
const (
	StrategyRoundRobin          = "round_robin"
	StrategyWeightedPerformance = "weighted_performance"
	StrategyLeastLoaded         = "least_loaded"
	StrategyPredictive          = "predictive"
)

// Strategy is a pluggable load-balancing policy applied to the healthy
// candidate set after task overrides.
type Strategy interface {
	Name() string
	Pick(cands []*Candidate) (*Candidate, error)
}

// RoundRobinStrategy rotates through candidates in registration order.
type RoundRobinStrategy struct {
	counter atomic.Uint64
}

func NewRoundRobinStrategy() *RoundRobinStrategy { return &RoundRobinStrategy{} }

func (s *RoundRobinStrategy) Name() string { return StrategyRoundRobin }

func (s *RoundRobinStrategy) Pick(cands []*Candidate) (*Candidate, error) {
	if len(cands) == 0 {
		return nil, ErrNoProviderAvailable
	}
	n := s.counter.Add(1) - 1
	return cands[n%uint64(len(cands))], nil
}

// WeightedPerformanceStrategy favors reliability and latency over
// capability fit: health and performance carry the weight, load breaks
// near-ties.
type WeightedPerformanceStrategy struct{}

func NewWeightedPerformanceStrategy() *WeightedPerformanceStrategy {
	return &WeightedPerformanceStrategy{}
}

func (s *WeightedPerformanceStrategy) Name() string { return StrategyWeightedPerformance }

func (s *WeightedPerformanceStrategy) Pick(cands []*Candidate) (*Candidate, error) {
	if len(cands) == 0 {
		return nil, ErrNoProviderAvailable
	}
	best := cands[0]
	bestScore := s.score(best)
	for _, c := range cands[1:] {
		if v := s.score(c); v > bestScore || (v == bestScore && c.Seq < best.Seq) {
			best, bestScore = c, v
		}
	}
	return best, nil
}

func (s *WeightedPerformanceStrategy) score(c *Candidate) float64 {
	load := float64(c.Inflight)
	if load > 100 {
		load = 100
	}
	return 0.4*c.Health + 0.4*c.Performance + 0.2*(100-load)
}

// LeastLoadedStrategy picks the candidate with the fewest in-flight
// calls, breaking ties by registration order.
type LeastLoadedStrategy struct{}

func NewLeastLoadedStrategy() *LeastLoadedStrategy { return &LeastLoadedStrategy{} }

func (s *LeastLoadedStrategy) Name() string { return StrategyLeastLoaded }

func (s *LeastLoadedStrategy) Pick(cands []*Candidate) (*Candidate, error) {
	if len(cands) == 0 {
		return nil, ErrNoProviderAvailable
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Inflight < best.Inflight || (c.Inflight == best.Inflight && c.Seq < best.Seq) {
			best = c
		}
	}
	return best, nil
}

// CapacityEstimator predicts how much headroom a provider has for the
// next call, on a 0-1 scale. The predictive strategy multiplies it into
// the historical performance score, so a smarter estimator (time series,
// vendor quota APIs) can be plugged in without changing selection.
type CapacityEstimator interface {
	EstimateCapacity(c *Candidate) float64
}

// ConstantEstimator assumes fixed headroom discounted by current load.
// The default when no estimator is supplied.
type ConstantEstimator struct{}

func (ConstantEstimator) EstimateCapacity(c *Candidate) float64 {
	headroom := 1.0 - float64(c.Inflight)/50
	if headroom < 0.1 {
		headroom = 0.1
	}
	return headroom
}

// PredictiveStrategy weighs historical performance by estimated
// remaining capacity.
type PredictiveStrategy struct {
	estimator CapacityEstimator
}

// NewPredictiveStrategy builds the strategy; a nil estimator gets the
// constant default.
func NewPredictiveStrategy(estimator CapacityEstimator) *PredictiveStrategy {
	if estimator == nil {
		estimator = ConstantEstimator{}
	}
	return &PredictiveStrategy{estimator: estimator}
}

func (s *PredictiveStrategy) Name() string { return StrategyPredictive }

func (s *PredictiveStrategy) Pick(cands []*Candidate) (*Candidate, error) {
	if len(cands) == 0 {
		return nil, ErrNoProviderAvailable
	}
	best := cands[0]
	bestScore := s.score(best)
	for _, c := range cands[1:] {
		if v := s.score(c); v > bestScore || (v == bestScore && c.Seq < best.Seq) {
			best, bestScore = c, v
		}
	}
	return best, nil
}

func (s *PredictiveStrategy) score(c *Candidate) float64 {
	return c.Performance * s.estimator.EstimateCapacity(c)
}
