package pool

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/JakeFAU/scrape-gateway/internal/metrics"
)

// AvailabilityProber returns the idle subset of agents.
type AvailabilityProber interface {
	Probe(ctx context.Context, agents []Agent) ([]Agent, error)
}

// Selector picks one idle agent uniformly at random.
type Selector struct {
	prober AvailabilityProber

	mu  sync.Mutex
	rng *rand.Rand
}

// SelectorOption customizes a Selector.
type SelectorOption func(*Selector)

// WithRand fixes the random source, mainly so tests can seed it.
func WithRand(rng *rand.Rand) SelectorOption {
	return func(s *Selector) {
		s.rng = rng
	}
}

// NewSelector builds a Selector on top of a prober.
func NewSelector(prober AvailabilityProber, opts ...SelectorOption) *Selector {
	s := &Selector{prober: prober}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // not security sensitive
	}
	return s
}

// Select probes agents and returns one idle agent. The agent is not
// reserved; a concurrent caller may select it too.
func (s *Selector) Select(ctx context.Context, agents []Agent) (Agent, error) {
	idle, err := s.prober.Probe(ctx, agents)
	if err != nil {
		metrics.ObserveSelection(metrics.SelectionProbeFailed)
		return Agent{}, err
	}
	agent, err := s.Pick(idle)
	if err != nil {
		metrics.ObserveSelection(metrics.SelectionNoAgents)
		return Agent{}, err
	}
	metrics.ObserveSelection(metrics.SelectionOK)
	return agent, nil
}

// Pick chooses from an availability snapshot: index = random mod len(idle).
func (s *Selector) Pick(idle []Agent) (Agent, error) {
	if len(idle) == 0 {
		return Agent{}, ErrNoAvailableAgents
	}
	s.mu.Lock()
	n := s.rng.Uint64()
	s.mu.Unlock()
	return idle[n%uint64(len(idle))], nil
}
