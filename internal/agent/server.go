// Package agent implements a reference scrape agent: the worker the gateway
// fronts. It reports whether it is busy, scrapes pages with Colly or headless
// Chrome, and exits on request so its supervisor can restart it.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-gateway/internal/metrics"
	"github.com/JakeFAU/scrape-gateway/internal/middleware"
	"github.com/JakeFAU/scrape-gateway/internal/scrape"
)

const maxBodyBytes = 1 << 20

// Options configures the agent.
type Options struct {
	// MaxConcurrent is the number of in-flight scrapes at which the agent
	// reports itself busy.
	MaxConcurrent int
	// Timeout bounds a single plain scrape. JS scrapes add the requested wait.
	Timeout       time.Duration
	// ShutdownDelay lets the DELETE response flush before the agent stops.
	ShutdownDelay time.Duration
}

// Server serves the agent HTTP interface.
type Server struct {
	router   chi.Router
	plain    scrape.Fetcher
	rendered scrape.Fetcher
	opts     Options
	logger   *zap.Logger

	inFlight atomic.Int64
	stopOnce sync.Once
	stop     func()
}

// NewServer builds the agent. stop is called once when a shutdown is requested.
func NewServer(plain, rendered scrape.Fetcher, stop func(), opts Options, logger *zap.Logger) *Server {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if stop == nil {
		stop = func() {}
	}
	s := &Server{
		plain:    plain,
		rendered: rendered,
		opts:     opts,
		logger:   logger,
		stop:     stop,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/is-busy", s.isBusy)
	r.Post(scrape.ModePlain.Path(), s.scrapeHandler(scrape.ModePlain))
	r.Post(scrape.ModeJS.Path(), s.scrapeHandler(scrape.ModeJS))
	r.Delete("/shutdown", s.shutdown)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Busy reports whether the agent is at capacity.
func (s *Server) Busy() bool {
	return s.inFlight.Load() >= int64(s.opts.MaxConcurrent)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// isBusy answers with the bare literal true or false; the gateway treats
// only "false" as idle.
func (s *Server) isBusy(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, strconv.FormatBool(s.Busy()))
}

func (s *Server) scrapeHandler(mode scrape.Mode) http.HandlerFunc {
	fetcher := s.plain
	if mode == scrape.ModeJS {
		fetcher = s.rendered
	}
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
			return
		}
		payload, err := scrape.DecodePayload(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		metrics.SetAgentInFlight(s.inFlight.Add(1))
		defer func() {
			metrics.SetAgentInFlight(s.inFlight.Add(-1))
		}()

		req := scrape.Request{URL: payload.URL, Headers: scrape.ForwardHeaders(r.Header)}
		if mode == scrape.ModeJS {
			req.Wait = payload.Wait()
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.Timeout+req.Wait)
		defer cancel()

		resp, err := fetcher.Fetch(ctx, req)
		if err != nil {
			metrics.ObserveAgentScrape(string(mode), metrics.ResultFailure)
			s.logger.Warn("scrape failed",
				zap.String("mode", string(mode)),
				zap.String("url", payload.URL),
				zap.Error(err),
			)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		metrics.ObserveAgentScrape(string(mode), metrics.ResultSuccess)
		s.logger.Info("scrape completed",
			zap.String("mode", string(mode)),
			zap.String("url", payload.URL),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", resp.Duration),
		)
		writeJSON(w, http.StatusOK, scrape.NewResult(payload.URL, resp))
	}
}

// shutdown acknowledges and then stops the process; the caller does not wait
// for the agent to come back.
func (s *Server) shutdown(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("shutdown requested",
		zap.Int64("in_flight", s.inFlight.Load()),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
	s.stopOnce.Do(func() {
		time.AfterFunc(s.opts.ShutdownDelay, s.stop)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
