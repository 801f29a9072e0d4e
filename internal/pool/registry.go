package pool

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const replicasKey = "replicas="

// MaxReplicas bounds the replica count of a single pool entry.
const MaxReplicas = 1024

// Agent identifies one replica of a scrape worker.
type Agent struct {
	// ReplicaIndex is 1-based and only unique within its base URL group.
	ReplicaIndex int    `json:"replica_index"`
	BaseURL      string `json:"base_url"`
	Endpoint     string `json:"endpoint"`
}

// URL joins the agent endpoint with an agent-side path such as "is-busy".
func (a Agent) URL(path string) string {
	return a.Endpoint + "/" + strings.TrimPrefix(path, "/")
}

// Entry is one (base URL, replica count) pair of a pool specification.
type Entry struct {
	BaseURL  string
	Replicas int
}

// ParseSpec parses "base_url|replicas=N,base_url|replicas=N". A missing,
// unparseable or non-positive replica count becomes 1. A count above
// MaxReplicas is an error.
func ParseSpec(raw string) ([]Entry, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrConfigurationMissing
	}
	var entries []Entry
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		base, opts, _ := strings.Cut(part, "|")
		base = strings.TrimSpace(base)
		if base == "" {
			continue
		}
		replicas, err := parseReplicas(opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", base, err)
		}
		entries = append(entries, Entry{BaseURL: base, Replicas: replicas})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no agent urls in %q", ErrConfigurationMissing, raw)
	}
	return entries, nil
}

func parseReplicas(opts string) (int, error) {
	opts = strings.TrimSpace(opts)
	if !strings.HasPrefix(opts, replicasKey) {
		return 1, nil
	}
	raw := strings.TrimPrefix(opts, replicasKey)
	n, err := strconv.ParseUint(raw, 10, 64)
	switch {
	case errors.Is(err, strconv.ErrRange), err == nil && n > MaxReplicas:
		return 0, fmt.Errorf("%w: replicas=%s exceeds %d", ErrTooManyReplicas, raw, MaxReplicas)
	case err != nil || n < 1:
		return 1, nil
	}
	return int(n), nil
}

// Expand turns entries into agents, in input order, numbering replicas 1..N.
func Expand(entries []Entry) []Agent {
	var agents []Agent
	for _, e := range entries {
		replicas := e.Replicas
		if replicas < 1 {
			replicas = 1
		}
		for i := 1; i <= replicas; i++ {
			agents = append(agents, Agent{
				ReplicaIndex: i,
				BaseURL:      e.BaseURL,
				Endpoint:     e.BaseURL + "-" + strconv.Itoa(i),
			})
		}
	}
	return agents
}

// Registry is the immutable, ordered agent list shared by the request path
// and the restart scheduler.
type Registry struct {
	agents []Agent
}

// NewRegistry parses and expands a pool specification.
func NewRegistry(raw string) (*Registry, error) {
	entries, err := ParseSpec(raw)
	if err != nil {
		return nil, err
	}
	return &Registry{agents: Expand(entries)}, nil
}

// Agents returns a copy of the agents in registry order.
func (r *Registry) Agents() []Agent {
	return append([]Agent(nil), r.agents...)
}

// Len reports the number of agents.
func (r *Registry) Len() int {
	return len(r.agents)
}
