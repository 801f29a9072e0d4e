// Package restart runs the rolling restart of scrape agents.
//
// Agents leak memory over long scrape sessions, so the gateway periodically
// asks each one to shut down and relies on its supervisor to start it again.
// Agents are restarted strictly one at a time, in registry order, with a
// stagger delay in between, so at most one agent is down at any instant.
package restart

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-gateway/internal/metrics"
	"github.com/JakeFAU/scrape-gateway/internal/pool"
)

const (
	shutdownPath = "shutdown"

	// DefaultInterval is the outer period between cycles.
	DefaultInterval = time.Hour
	// DefaultStagger is the delay between two agent restarts. With the
	// default interval roughly 25 agents fit in one cycle.
	DefaultStagger = 2 * time.Minute
)

// ErrCycleInProgress is returned when a cycle is requested while one runs.
var ErrCycleInProgress = errors.New("restart cycle already in progress")

// Event types published for each restart step.
const (
	EventAgentRestarted     = "agent_restarted"
	EventAgentRestartFailed = "agent_restart_failed"
	EventCycleCompleted     = "cycle_completed"
)

// Deleter sends the shutdown signal to an agent.
type Deleter interface {
	Delete(ctx context.Context, url string) error
}

// Clock abstracts time for the scheduler's waits.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// IDGenerator produces cycle IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher pushes restart events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config controls scheduler timing.
type Config struct {
	Interval time.Duration
	Stagger  time.Duration
	Topic    string
}

// Event describes one restart step.
type Event struct {
	Type         string    `json:"type"`
	CycleID      string    `json:"cycle_id"`
	ReplicaIndex int       `json:"replica_index,omitempty"`
	Endpoint     string    `json:"endpoint,omitempty"`
	Restarted    int       `json:"restarted"`
	Error        string    `json:"error,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Scheduler restarts every agent once per interval.
type Scheduler struct {
	agents    []pool.Agent
	client    Deleter
	clock     Clock
	ids       IDGenerator
	publisher Publisher
	cfg       Config
	logger    *zap.Logger

	running atomic.Bool
}

// New constructs a Scheduler. publisher may be nil.
func New(
	agents []pool.Agent,
	client Deleter,
	clock Clock,
	ids IDGenerator,
	publisher Publisher,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Stagger < 0 {
		cfg.Stagger = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		agents:    agents,
		client:    client,
		clock:     clock,
		ids:       ids,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run starts a cycle once per interval until ctx ends. The first cycle
// starts immediately. Cycles never overlap: when one takes longer than the
// interval, the next starts as soon as it finishes.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("restart scheduler started",
		zap.Int("agents", len(s.agents)),
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("stagger", s.cfg.Stagger),
	)
	for {
		started := s.clock.Now()
		err := s.RunCycle(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			s.logger.Info("restart scheduler stopped")
			return
		case errors.Is(err, ErrCycleInProgress):
			s.logger.Info("skipping scheduled cycle; manual cycle still running")
		default:
			s.logger.Error("restart cycle abandoned", zap.Error(err))
		}

		if err := s.wait(ctx, s.untilNextCycle(started)); err != nil {
			s.logger.Info("restart scheduler stopped")
			return
		}
	}
}

// untilNextCycle returns the time left in the period that began at started.
func (s *Scheduler) untilNextCycle(started time.Time) time.Duration {
	elapsed := s.clock.Now().Sub(started)
	remaining := s.cfg.Interval - elapsed
	if remaining <= 0 {
		s.logger.Warn("restart cycle overran interval; starting next cycle now",
			zap.Duration("elapsed", elapsed),
			zap.Duration("interval", s.cfg.Interval),
		)
		return 0
	}
	return remaining
}

// CycleDuration is the minimum time one cycle over n agents takes.
func CycleDuration(n int, stagger time.Duration) time.Duration {
	if n <= 1 {
		return 0
	}
	return time.Duration(n-1) * stagger
}

// RunCycle restarts every agent once, in registry order. The first failed
// shutdown call abandons the remaining agents.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer s.running.Store(false)
	return s.runCycle(ctx)
}

// Trigger starts a cycle in the background. It fails fast with
// ErrCycleInProgress instead of overlapping two cycles.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	go func() {
		defer s.running.Store(false)
		if err := s.runCycle(ctx); err != nil {
			s.logger.Error("triggered restart cycle abandoned", zap.Error(err))
		}
	}()
	return nil
}

// Running reports whether a cycle is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) runCycle(ctx context.Context) error {
	cycleID := s.newCycleID()
	logger := s.logger.With(zap.String("cycle_id", cycleID))
	logger.Info("restart cycle started")

	for i, agent := range s.agents {
		if i > 0 {
			if err := s.wait(ctx, s.cfg.Stagger); err != nil {
				return fmt.Errorf("restart cycle interrupted: %w", err)
			}
		}
		if err := s.client.Delete(ctx, agent.URL(shutdownPath)); err != nil {
			restartErr := &pool.RestartError{Endpoint: agent.Endpoint, Err: err}
			metrics.ObserveRestart(agent.Endpoint, metrics.ResultFailure)
			metrics.ObserveRestartCycle(metrics.ResultFailure)
			s.publish(ctx, Event{
				Type:         EventAgentRestartFailed,
				CycleID:      cycleID,
				ReplicaIndex: agent.ReplicaIndex,
				Endpoint:     agent.Endpoint,
				Restarted:    i,
				Error:        err.Error(),
			})
			return restartErr
		}
		logger.Info("restarting agent",
			zap.String("endpoint", agent.Endpoint),
			zap.Int("replica_index", agent.ReplicaIndex),
		)
		metrics.ObserveRestart(agent.Endpoint, metrics.ResultSuccess)
		s.publish(ctx, Event{
			Type:         EventAgentRestarted,
			CycleID:      cycleID,
			ReplicaIndex: agent.ReplicaIndex,
			Endpoint:     agent.Endpoint,
			Restarted:    i + 1,
		})
	}

	metrics.ObserveRestartCycle(metrics.ResultSuccess)
	s.publish(ctx, Event{Type: EventCycleCompleted, CycleID: cycleID, Restarted: len(s.agents)})
	logger.Info("restart cycle completed", zap.Int("restarted", len(s.agents)))
	return nil
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	case <-s.clock.After(d):
		return nil
	}
}

func (s *Scheduler) newCycleID() string {
	if s.ids == nil {
		return ""
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("cycle id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func (s *Scheduler) publish(ctx context.Context, ev Event) {
	if s.publisher == nil {
		return
	}
	ev.OccurredAt = s.clock.Now()
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, ev); err != nil {
		s.logger.Warn("restart event publish failed",
			zap.String("type", ev.Type),
			zap.String("endpoint", ev.Endpoint),
			zap.Error(err),
		)
	}
}

// EventType lets publishers tag messages without decoding them.
func (e Event) EventType() string {
	return e.Type
}
