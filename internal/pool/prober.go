package pool

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/scrape-gateway/internal/metrics"
)

const (
	busyPath = "is-busy"
	idleBody = "false"
)

// StatusGetter issues the GET used to read an agent's busy flag.
type StatusGetter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Prober classifies agents as idle or busy.
type Prober struct {
	client StatusGetter
	limit  int
}

// NewProber builds a Prober. A concurrency <= 0 probes every agent at once.
func NewProber(client StatusGetter, concurrency int) *Prober {
	return &Prober{client: client, limit: concurrency}
}

// Probe queries every agent and returns the idle ones in registry order.
// The first transport failure aborts the whole attempt.
func (p *Prober) Probe(ctx context.Context, agents []Agent) ([]Agent, error) {
	idle := make([]bool, len(agents))
	g, gctx := errgroup.WithContext(ctx)
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}
	for i, agent := range agents {
		g.Go(func() error {
			body, err := p.client.Get(gctx, agent.URL(busyPath))
			if err != nil {
				metrics.ObserveProbe(metrics.ProbeError)
				return &ProbeError{Endpoint: agent.Endpoint, Err: err}
			}
			if string(body) == idleBody {
				idle[i] = true
				metrics.ObserveProbe(metrics.ProbeIdle)
				return nil
			}
			metrics.ObserveProbe(metrics.ProbeBusy)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Agent, 0, len(agents))
	for i, ok := range idle {
		if ok {
			out = append(out, agents[i])
		}
	}
	return out, nil
}
