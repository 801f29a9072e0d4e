package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/scrape-gateway/internal/pool"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 60
auth:
  api_key: secret
pool:
  agent_urls: "http://a|replicas=2,http://b"
  probe_concurrency: 4
http:
  timeout_seconds: 45
restart:
  enabled: true
  interval: 30m
  stagger: 90s
rate_limit:
  rps: 2.5
  burst: 10
events:
  project_id: proj
  topic: agent-restarts
logging:
  development: false
agent:
  port: 8081
  max_concurrent: 3
  headless:
    enabled: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Auth.APIKey != "secret" || cfg.Auth.Header != "API_KEY" {
		t.Fatalf("unexpected auth config: %+v", cfg.Auth)
	}
	if cfg.Pool.AgentURLs != "http://a|replicas=2,http://b" || cfg.Pool.ProbeConcurrency != 4 {
		t.Fatalf("expected pool overrides to apply: %+v", cfg.Pool)
	}
	if cfg.Restart.Interval != 30*time.Minute || cfg.Restart.Stagger != 90*time.Second {
		t.Fatalf("expected restart durations to parse: %+v", cfg.Restart)
	}
	if cfg.RateLimit.RPS != 2.5 || cfg.RateLimit.Burst != 10 {
		t.Fatalf("expected rate limit overrides: %+v", cfg.RateLimit)
	}
	if cfg.Events.ProjectID != "proj" || cfg.Events.Topic != "agent-restarts" {
		t.Fatalf("expected events config: %+v", cfg.Events)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected development logging disabled")
	}
	if cfg.Agent.Port != 8081 || cfg.Agent.MaxConcurrent != 3 || cfg.Agent.Headless.Enabled {
		t.Fatalf("expected agent overrides: %+v", cfg.Agent)
	}
	if got := cfg.RequestTimeout(); got != time.Minute {
		t.Fatalf("expected request timeout 1m, got %v", got)
	}
	if got := cfg.AgentCallTimeout(); got != 45*time.Second {
		t.Fatalf("expected agent call timeout 45s, got %v", got)
	}
	if err := cfg.ValidateGateway(); err != nil {
		t.Fatalf("ValidateGateway() error = %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Server.Port)
	}
	if cfg.HTTP.TimeoutSeconds != 90 {
		t.Fatalf("expected default http timeout 90, got %d", cfg.HTTP.TimeoutSeconds)
	}
	if !cfg.Restart.Enabled || cfg.Restart.Interval != time.Hour || cfg.Restart.Stagger != 2*time.Minute {
		t.Fatalf("unexpected restart defaults: %+v", cfg.Restart)
	}
	if cfg.RateLimit.RPS != 0 {
		t.Fatalf("expected rate limiting off by default, got %v", cfg.RateLimit.RPS)
	}
	if cfg.Server.TrustProxy {
		t.Fatalf("expected proxy headers untrusted by default")
	}
	if cfg.Agent.Port != 8080 || cfg.Agent.UserAgent != "scrape-agent/1.0" {
		t.Fatalf("unexpected agent defaults: %+v", cfg.Agent)
	}
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("AGENT_URLS", "http://scraper|replicas=3")
	t.Setenv("API_KEY", "from-env")
	t.Setenv("GATEWAY_RESTART_STAGGER", "10s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pool.AgentURLs != "http://scraper|replicas=3" {
		t.Fatalf("expected AGENT_URLS alias, got %q", cfg.Pool.AgentURLs)
	}
	if cfg.Auth.APIKey != "from-env" {
		t.Fatalf("expected API_KEY alias, got %q", cfg.Auth.APIKey)
	}
	if cfg.Restart.Stagger != 10*time.Second {
		t.Fatalf("expected prefixed env override, got %v", cfg.Restart.Stagger)
	}
}

func TestLoadEventsAndProxyFromEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_EVENTS_PROJECT_ID", "scrape-prod")
	t.Setenv("GATEWAY_EVENTS_TOPIC", "agent-restarts")
	t.Setenv("GATEWAY_SERVER_TRUST_PROXY", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Events.ProjectID != "scrape-prod" {
		t.Fatalf("expected events project from env, got %q", cfg.Events.ProjectID)
	}
	if cfg.Events.Topic != "agent-restarts" {
		t.Fatalf("expected events topic from env, got %q", cfg.Events.Topic)
	}
	if !cfg.Server.TrustProxy {
		t.Fatalf("expected trust_proxy from env")
	}
}

func TestLoadPrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("AGENT_URLS", "http://legacy")
	t.Setenv("GATEWAY_POOL_AGENT_URLS", "http://prefixed")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pool.AgentURLs != "http://prefixed" {
		t.Fatalf("expected prefixed variable to take precedence, got %q", cfg.Pool.AgentURLs)
	}
}

func TestValidateGatewayMissingConfiguration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "missing pool",
			cfg:  Config{Auth: AuthConfig{APIKey: "k", Header: "API_KEY"}},
			want: "pool.agent_urls",
		},
		{
			name: "blank pool",
			cfg:  Config{Pool: PoolConfig{AgentURLs: "   "}, Auth: AuthConfig{APIKey: "k", Header: "API_KEY"}},
			want: "pool.agent_urls",
		},
		{
			name: "missing api key",
			cfg:  Config{Pool: PoolConfig{AgentURLs: "http://a"}, Auth: AuthConfig{Header: "API_KEY"}},
			want: "auth.api_key",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.ValidateGateway()
			if !errors.Is(err, pool.ErrConfigurationMissing) {
				t.Fatalf("expected ErrConfigurationMissing, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateGatewayRejectsExcessiveReplicas(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Pool: PoolConfig{AgentURLs: "http://scraper|replicas=2000000000"},
		Auth: AuthConfig{APIKey: "k", Header: "API_KEY"},
	}
	err := cfg.ValidateGateway()
	if !errors.Is(err, pool.ErrTooManyReplicas) {
		t.Fatalf("expected ErrTooManyReplicas, got %v", err)
	}
	if !strings.Contains(err.Error(), "pool.agent_urls: http://scraper") {
		t.Fatalf("expected error naming the pool entry, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 3000, RequestTimeoutSeconds: 120},
		HTTP:    HTTPConfig{TimeoutSeconds: 90},
		Restart: RestartConfig{Enabled: true, Interval: time.Hour, Stagger: 2 * time.Minute},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid request timeout",
			cfg: func() Config {
				c := base
				c.Server.RequestTimeoutSeconds = 0
				return c
			}(),
			want: "server.request_timeout_seconds",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "interval shorter than stagger",
			cfg: func() Config {
				c := base
				c.Restart.Interval = time.Minute
				return c
			}(),
			want: "restart.interval must be >= restart.stagger",
		},
		{
			name: "zero interval",
			cfg: func() Config {
				c := base
				c.Restart.Interval = 0
				return c
			}(),
			want: "restart.interval",
		},
		{
			name: "rate limit without burst",
			cfg: func() Config {
				c := base
				c.RateLimit = RateLimitConfig{RPS: 1}
				return c
			}(),
			want: "rate_limit.burst",
		},
		{
			name: "headless missing max parallel",
			cfg: func() Config {
				c := base
				c.Agent.Headless.Enabled = true
				return c
			}(),
			want: "agent.headless.max_parallel",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRestartDisabledSkipsTimerValidation(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:  ServerConfig{Port: 3000, RequestTimeoutSeconds: 1},
		HTTP:    HTTPConfig{TimeoutSeconds: 1},
		Restart: RestartConfig{Enabled: false, Interval: time.Second, Stagger: time.Minute},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected disabled scheduler to skip interval checks, got %v", err)
	}
}

func TestValidateAgent(t *testing.T) {
	t.Parallel()

	cfg := Config{Agent: AgentConfig{Port: 8080, MaxConcurrent: 1, TimeoutSeconds: 30}}
	if err := cfg.ValidateAgent(); err != nil {
		t.Fatalf("ValidateAgent() error = %v", err)
	}
	cfg.Agent.MaxConcurrent = 0
	if err := cfg.ValidateAgent(); err == nil || !strings.Contains(err.Error(), "agent.max_concurrent") {
		t.Fatalf("expected max_concurrent error, got %v", err)
	}
}
