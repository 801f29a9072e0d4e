package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-gateway/internal/metrics"
	"github.com/JakeFAU/scrape-gateway/internal/middleware"
	"github.com/JakeFAU/scrape-gateway/internal/pool"
	"github.com/JakeFAU/scrape-gateway/internal/ratelimit"
	"github.com/JakeFAU/scrape-gateway/internal/restart"
	"github.com/JakeFAU/scrape-gateway/internal/scrape"
)

// DefaultAuthHeader is the header callers put the shared secret in.
const DefaultAuthHeader = "API_KEY"

const maxBodyBytes = 1 << 20

// ErrUnauthorized is reported when the API key header is absent or wrong.
var ErrUnauthorized = errors.New("unauthorized")

// ScrapeRequest is the body accepted by the scrape routes.
type ScrapeRequest = scrape.Payload

// AgentLister exposes the configured pool.
type AgentLister interface {
	Agents() []pool.Agent
}

// AgentSelector picks an idle agent.
type AgentSelector interface {
	Select(ctx context.Context, agents []pool.Agent) (pool.Agent, error)
}

// Forwarder relays a request body to an agent URL.
type Forwarder interface {
	Post(ctx context.Context, url string, body []byte, header http.Header) ([]byte, error)
}

// Restarter starts a rolling restart on demand.
type Restarter interface {
	Trigger(ctx context.Context) error
	Running() bool
}

// Options configures the Server.
type Options struct {
	APIKey         string
	AuthHeader     string
	RequestTimeout time.Duration
	// Limiter throttles the scrape routes when non-nil.
	Limiter        *ratelimit.Limiter
	// BaseContext outlives requests; manually triggered cycles run on it.
	BaseContext    context.Context
	// TrustProxy takes the client address from X-Forwarded-For or
	// X-Real-IP. Without it the rate limiter keys on the socket address.
	TrustProxy     bool
}

// Server wires HTTP handlers to the agent pool.
type Server struct {
	router    chi.Router
	agents    AgentLister
	selector  AgentSelector
	forwarder Forwarder
	restarter Restarter
	opts      Options
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. restarter may be
// nil when the scheduler is disabled.
func NewServer(
	agents AgentLister,
	selector AgentSelector,
	forwarder Forwarder,
	restarter Restarter,
	opts Options,
	logger *zap.Logger,
) *Server {
	if opts.AuthHeader == "" {
		opts.AuthHeader = DefaultAuthHeader
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		agents:    agents,
		selector:  selector,
		forwarder: forwarder,
		restarter: restarter,
		opts:      opts,
		logger:    logger,
	}

	r := chi.NewRouter()
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiKeyMiddleware(opts.AuthHeader, opts.APIKey))
		r.Group(func(r chi.Router) {
			if opts.Limiter != nil {
				r.Use(opts.Limiter.Middleware)
			}
			r.Post("/scrape", s.scrapeHandler(scrape.ModePlain))
			r.Post("/scrape-js", s.scrapeHandler(scrape.ModeJS))
		})
		r.Get("/agents", s.listAgents)
		r.Post("/agents/restart", s.triggerRestart)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The pool is static; readiness only requires at least one configured agent.
	if len(s.agents.Agents()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no agents configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) scrapeHandler(mode scrape.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeText(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
			return
		}
		if _, err := scrape.DecodePayload(raw); err != nil {
			writeText(w, http.StatusBadRequest, err.Error())
			return
		}

		body, err := s.relay(r.Context(), mode, raw, scrape.ForwardHeaders(r.Header))
		if err != nil {
			s.logger.Warn("scrape failed",
				zap.String("mode", string(mode)),
				zap.String("request_id", middleware.GetRequestID(r.Context())),
				zap.Error(err),
			)
			writeText(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", relayContentType(body))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			s.logger.Debug("relay write failed", zap.Error(err))
		}
	}
}

// relay selects an idle agent and forwards the caller's bytes unchanged.
func (s *Server) relay(ctx context.Context, mode scrape.Mode, raw []byte, header http.Header) ([]byte, error) {
	agent, err := s.selector.Select(ctx, s.agents.Agents())
	if err != nil {
		return nil, fmt.Errorf("select agent: %w", err)
	}

	start := time.Now()
	body, err := s.forwarder.Post(ctx, agent.URL(string(mode)), raw, header)
	if err != nil {
		metrics.ObserveForward(agent.Endpoint, string(mode), metrics.ResultFailure, time.Since(start))
		return nil, &pool.ForwardError{Endpoint: agent.Endpoint, Err: err}
	}
	metrics.ObserveForward(agent.Endpoint, string(mode), metrics.ResultSuccess, time.Since(start))
	s.logger.Debug("scrape relayed",
		zap.String("mode", string(mode)),
		zap.String("endpoint", agent.Endpoint),
		zap.Int("bytes", len(body)),
	)
	return body, nil
}

type agentsResponse struct {
	Agents           []pool.Agent `json:"agents"`
	RestartScheduled bool         `json:"restart_scheduled"`
	RestartRunning   bool         `json:"restart_running"`
}

func (s *Server) listAgents(w http.ResponseWriter, _ *http.Request) {
	resp := agentsResponse{Agents: s.agents.Agents()}
	if s.restarter != nil {
		resp.RestartScheduled = true
		resp.RestartRunning = s.restarter.Running()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) triggerRestart(w http.ResponseWriter, r *http.Request) {
	if s.restarter == nil {
		writeText(w, http.StatusServiceUnavailable, "restart scheduler disabled")
		return
	}
	if err := s.restarter.Trigger(s.opts.BaseContext); err != nil {
		if errors.Is(err, restart.ErrCycleInProgress) {
			writeText(w, http.StatusConflict, err.Error())
			return
		}
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("restart cycle triggered", zap.String("request_id", middleware.GetRequestID(r.Context())))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restart cycle started"})
}

func apiKeyMiddleware(header, expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := checkAPIKey(r.Header.Get(header), expected); err != nil {
				writeText(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func checkAPIKey(got, expected string) error {
	if got == "" || expected == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

// relayContentType labels an agent body: agents answer with a JSON result,
// anything else is passed on as text.
func relayContentType(body []byte) string {
	if json.Valid(body) {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, msg); err != nil {
		zap.L().Error("write text failed", zap.Error(err))
	}
}
