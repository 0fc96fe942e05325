package proxy

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Strategy selection names.
const (
	StrategyRoundRobin = "round-robin"
	StrategyLeastUsed  = "least-used"
	StrategyBestHealth = "best-health"
	StrategyRandom     = "random"
)

// Strategy picks one proxy from a non-empty healthy candidate set. rrIndex is
// the manager's shared round-robin cursor, ignored by stateless strategies.
type Strategy interface {
	Select(candidates []*Instance, rrIndex *int) *Instance
}

// NewStrategy builds a selection strategy by name.
func NewStrategy(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case StrategyRoundRobin, "":
		return roundRobinStrategy{}, nil
	case StrategyLeastUsed:
		return leastUsedStrategy{}, nil
	case StrategyBestHealth:
		return bestHealthStrategy{}, nil
	case StrategyRandom:
		return &randomStrategy{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}, nil
	default:
		return nil, fmt.Errorf("unknown proxy strategy: %q", name)
	}
}

type roundRobinStrategy struct{}

func (roundRobinStrategy) Select(candidates []*Instance, rrIndex *int) *Instance {
	p := candidates[*rrIndex%len(candidates)]
	*rrIndex = (*rrIndex + 1) % len(candidates)
	return p
}

// leastUsedStrategy picks the proxy with the fewest recorded requests. Ties
// go to the earlier candidate, which keeps selection deterministic.
type leastUsedStrategy struct{}

func (leastUsedStrategy) Select(candidates []*Instance, _ *int) *Instance {
	best := candidates[0]
	for _, p := range candidates[1:] {
		if p.Metrics.Requests < best.Metrics.Requests {
			best = p
		}
	}
	return best
}

// bestHealthStrategy scores each proxy as
// 0.7*successRate + 0.3*(1 - min(1, avgLatency/10s)) and picks the highest.
type bestHealthStrategy struct{}

func (bestHealthStrategy) Select(candidates []*Instance, _ *int) *Instance {
	best := candidates[0]
	bestScore := healthScore(best)
	for _, p := range candidates[1:] {
		if s := healthScore(p); s > bestScore {
			best, bestScore = p, s
		}
	}
	return best
}

func healthScore(p *Instance) float64 {
	latencyPenalty := p.Metrics.AvgResponseMs / 10000
	if latencyPenalty > 1 {
		latencyPenalty = 1
	}
	return 0.7*p.Metrics.SuccessRate() + 0.3*(1-latencyPenalty)
}

type randomStrategy struct {
	rng *rand.Rand
}

func (s *randomStrategy) Select(candidates []*Instance, _ *int) *Instance {
	return candidates[s.rng.Intn(len(candidates))]
}
