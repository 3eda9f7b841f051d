// Package strategy picks the execution strategy recorded on a new execution.
package strategy

import (
	"context"
	"math/rand/v2"
	"sync"
)

const (
	Default  = "default"
	Fast     = "fast"
	Thorough = "thorough"
	// ManualNodeTrigger is recorded on standalone executions.
	ManualNodeTrigger = "manual_node_trigger"
)

// Context carries the inputs of a strategy decision.
type Context struct {
	ForceStrategy string
}

type Selector interface {
	Pick(ctx context.Context, sc Context) string
}

// RandomSelector returns the forced strategy when one is given, otherwise a random one of its strategies.
type RandomSelector struct {
	mu         sync.Mutex
	rng        *rand.Rand
	strategies []string
}

// NewRandomSelector creates a selector seeded with seed. An empty list falls back to Default.
func NewRandomSelector(seed uint64, strategies ...string) *RandomSelector {
	if len(strategies) == 0 {
		strategies = []string{Default}
	}

	return &RandomSelector{
		rng:        rand.New(rand.NewPCG(seed, seed)),
		strategies: strategies,
	}
}

// NewDefaultSelector picks among default, fast and thorough.
func NewDefaultSelector(seed uint64) *RandomSelector {
	return NewRandomSelector(seed, Default, Fast, Thorough)
}

func (s *RandomSelector) Pick(_ context.Context, sc Context) string {
	if sc.ForceStrategy != "" {
		return sc.ForceStrategy
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.strategies[s.rng.IntN(len(s.strategies))]
}

// Fixed always returns the same strategy unless one is forced.
type Fixed string

func (f Fixed) Pick(_ context.Context, sc Context) string {
	if sc.ForceStrategy != "" {
		return sc.ForceStrategy
	}

	return string(f)
}
