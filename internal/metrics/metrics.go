// Package metrics exposes Prometheus collectors for the scrape gateway.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Probe outcomes.
const (
	ProbeIdle  = "idle"
	ProbeBusy  = "busy"
	ProbeError = "error"
)

// Selection outcomes.
const (
	SelectionOK          = "selected"
	SelectionNoAgents    = "no_agents"
	SelectionProbeFailed = "probe_failed"
)

// Result labels shared by forward and restart counters.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	gatewayProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_agent_probes_total",
			Help: "Total number of agent busy probes, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	gatewaySelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_agent_selections_total",
			Help: "Total number of agent selection attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	gatewayForwardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_forwards_total",
			Help: "Total number of scrape requests forwarded, labeled by agent host, mode and result.",
		},
		[]string{"agent", "mode", "result"},
	)

	gatewayForwardDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_forward_duration_seconds",
			Help:    "Histogram of forwarded scrape latencies, labeled by mode.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	gatewayRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_agent_restarts_total",
			Help: "Total number of agent restart signals, labeled by agent host and result.",
		},
		[]string{"agent", "result"},
	)

	gatewayRestartCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_restart_cycles_total",
			Help: "Total number of restart cycles, labeled by result.",
		},
		[]string{"result"},
	)

	gatewayRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Total number of inbound requests rejected by the rate limiter.",
		},
	)

	agentScrapesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_scrapes_total",
			Help: "Total number of scrapes served by the agent, labeled by mode and result.",
		},
		[]string{"mode", "result"},
	)

	agentScrapesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_scrapes_in_flight",
			Help: "Number of scrapes the agent is currently serving.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method, route and code.",
		},
		[]string{"method", "route", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"method", "route"},
	)

	httpResponseSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Histogram of HTTP response body sizes, labeled by route.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"route"},
	)
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveProbe counts one busy probe.
func ObserveProbe(outcome string) {
	gatewayProbesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSelection counts one selection attempt.
func ObserveSelection(outcome string) {
	gatewaySelectionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveForward records a forwarded scrape request.
func ObserveForward(endpoint, mode, result string, duration time.Duration) {
	gatewayForwardsTotal.WithLabelValues(SanitizeSite(endpoint), mode, result).Inc()
	gatewayForwardDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveRestart records one restart signal sent to an agent.
func ObserveRestart(endpoint, result string) {
	gatewayRestartsTotal.WithLabelValues(SanitizeSite(endpoint), result).Inc()
}

// ObserveRestartCycle records the end of a restart cycle.
func ObserveRestartCycle(result string) {
	gatewayRestartCyclesTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimited counts one request rejected by the inbound limiter.
func ObserveRateLimited() {
	gatewayRateLimitedTotal.Inc()
}

// ObserveAgentScrape records one scrape served by the reference agent.
func ObserveAgentScrape(mode, result string) {
	agentScrapesTotal.WithLabelValues(mode, result).Inc()
}

// SetAgentInFlight reports the number of scrapes the agent is serving.
func SetAgentInFlight(n int64) {
	agentScrapesInFlight.Set(float64(n))
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code, size int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
	httpResponseSizeBytes.WithLabelValues(route).Observe(float64(size))
}
