// Package server builds the gateway and agent processes from configuration
// and runs them until the context ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-gateway/internal/agent"
	"github.com/JakeFAU/scrape-gateway/internal/api"
	"github.com/JakeFAU/scrape-gateway/internal/clock/system"
	"github.com/JakeFAU/scrape-gateway/internal/config"
	collyfetcher "github.com/JakeFAU/scrape-gateway/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/scrape-gateway/internal/fetcher/headless"
	"github.com/JakeFAU/scrape-gateway/internal/id/uuid"
	"github.com/JakeFAU/scrape-gateway/internal/pool"
	gcppublisher "github.com/JakeFAU/scrape-gateway/internal/publisher/pubsub"
	"github.com/JakeFAU/scrape-gateway/internal/ratelimit"
	"github.com/JakeFAU/scrape-gateway/internal/restart"
	"github.com/JakeFAU/scrape-gateway/internal/scrape"
	"github.com/JakeFAU/scrape-gateway/internal/transport"
)

const shutdownTimeout = 10 * time.Second

// Gateway holds the gateway's long-lived dependencies.
type Gateway struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *pool.Registry
	scheduler *restart.Scheduler
	publisher *gcppublisher.Publisher
	handler   http.Handler
	baseCtx   context.Context
	cancel    context.CancelFunc
}

// BuildGateway wires the registry, selector, scheduler and HTTP API.
func BuildGateway(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Gateway, error) {
	if err := cfg.ValidateGateway(); err != nil {
		return nil, err
	}
	registry, err := pool.NewRegistry(cfg.Pool.AgentURLs)
	if err != nil {
		return nil, fmt.Errorf("agent registry: %w", err)
	}
	logger.Info("agent pool loaded", zap.Int("agents", registry.Len()))
	for _, a := range registry.Agents() {
		logger.Debug("agent registered", zap.String("endpoint", a.Endpoint), zap.Int("replica_index", a.ReplicaIndex))
	}

	client := transport.New(transport.Config{
		Timeout:   cfg.AgentCallTimeout(),
		UserAgent: cfg.HTTP.UserAgent,
	})
	selector := pool.NewSelector(pool.NewProber(client, cfg.Pool.ProbeConcurrency))

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g := &Gateway{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		baseCtx:  baseCtx,
		cancel:   cancel,
	}

	var restarter api.Restarter
	if cfg.Restart.Enabled {
		var pub restart.Publisher
		if cfg.Events.ProjectID != "" && cfg.Events.Topic != "" {
			g.publisher, err = gcppublisher.New(ctx, cfg.Events.ProjectID, cfg.Events.Topic)
			if err != nil {
				cancel()
				return nil, fmt.Errorf("restart event publisher: %w", err)
			}
			pub = g.publisher
			logger.Info("publishing restart events",
				zap.String("project", cfg.Events.ProjectID),
				zap.String("topic", cfg.Events.Topic),
			)
		}
		if span := restart.CycleDuration(len(registry.Agents()), cfg.Restart.Stagger); span > cfg.Restart.Interval {
			logger.Warn("restart stagger exceeds interval; cycles will run back to back",
				zap.Int("agents", len(registry.Agents())),
				zap.Duration("cycle", span),
				zap.Duration("interval", cfg.Restart.Interval),
			)
		}
		g.scheduler = restart.New(
			registry.Agents(),
			client,
			system.New(),
			uuid.New(),
			pub,
			restart.Config{
				Interval: cfg.Restart.Interval,
				Stagger:  cfg.Restart.Stagger,
				Topic:    cfg.Events.Topic,
			},
			logger.Named("restart"),
		)
		restarter = g.scheduler
	} else {
		logger.Warn("restart scheduler disabled")
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})
		logger.Info("inbound rate limiting enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}

	g.handler = api.NewServer(
		registry,
		selector,
		client,
		restarter,
		api.Options{
			APIKey:         cfg.Auth.APIKey,
			AuthHeader:     cfg.Auth.Header,
			RequestTimeout: cfg.RequestTimeout(),
			Limiter:        limiter,
			BaseContext:    baseCtx,
			TrustProxy:     cfg.Server.TrustProxy,
		},
		logger.Named("api"),
	).Handler()
	return g, nil
}

// Handler exposes the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Run serves HTTP and, when enabled, runs the restart scheduler until ctx
// ends or SIGINT/SIGTERM arrives.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if g.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.scheduler.Run(g.baseCtx)
		}()
	}

	srv := newHTTPServer(g.cfg.Server.Port, g.handler, g.cfg.RequestTimeout())
	err := serve(ctx, srv, g.logger)

	g.cancel()
	wg.Wait()
	if g.publisher != nil {
		if cerr := g.publisher.Close(); cerr != nil {
			g.logger.Warn("pubsub publisher close failed", zap.Error(cerr))
		}
	}
	g.logger.Info("gateway stopped")
	return err
}

// Agent holds the reference agent's dependencies.
type Agent struct {
	cfg      config.Config
	logger   *zap.Logger
	server   *agent.Server
	headless *headlessfetcher.Fetcher
	stopped  chan struct{}
}

// BuildAgent wires the fetchers and the agent HTTP interface.
func BuildAgent(cfg config.Config, logger *zap.Logger) (*Agent, error) {
	if err := cfg.ValidateAgent(); err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Agent.TimeoutSeconds) * time.Second
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Agent.UserAgent,
		RespectRobots: cfg.Agent.RespectRobots,
		Timeout:       timeout,
	})

	a := &Agent{cfg: cfg, logger: logger, stopped: make(chan struct{})}
	var rendered scrape.Fetcher = headlessfetcher.NewNoop()
	if cfg.Agent.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Agent.Headless.MaxParallel,
			UserAgent:         cfg.Agent.UserAgent,
			NavigationTimeout: time.Duration(cfg.Agent.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher: %w", err)
		}
		a.headless = hf
		rendered = hf
		logger.Info("headless rendering enabled", zap.Int("max_parallel", cfg.Agent.Headless.MaxParallel))
	}

	var once sync.Once
	a.server = agent.NewServer(plain, rendered, func() { once.Do(func() { close(a.stopped) }) }, agent.Options{
		MaxConcurrent: cfg.Agent.MaxConcurrent,
		Timeout:       timeout,
		ShutdownDelay: 100 * time.Millisecond,
	}, logger.Named("agent"))
	return a, nil
}

// Handler exposes the agent's HTTP handler.
func (a *Agent) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves the agent until ctx ends, a signal arrives, or a shutdown is
// requested over HTTP.
func (a *Agent) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stopped:
			a.logger.Info("stopping on shutdown request")
			cancel()
		case <-ctx.Done():
		}
	}()

	timeout := time.Duration(a.cfg.Agent.TimeoutSeconds)*time.Second + time.Minute
	err := serve(ctx, newHTTPServer(a.cfg.Agent.Port, a.server.Handler(), timeout), a.logger)
	if a.headless != nil {
		a.headless.Close()
	}
	a.logger.Info("agent stopped")
	return err
}

func newHTTPServer(port int, handler http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout + 5*time.Second,
	}
}

// serve runs srv until ctx ends, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
