// Package config loads and validates gateway and agent configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scrape-gateway/internal/pool"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Pool      PoolConfig      `mapstructure:"pool"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Restart   RestartConfig   `mapstructure:"restart"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Events    EventsConfig    `mapstructure:"events"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Agent     AgentConfig     `mapstructure:"agent"`
}

// ServerConfig controls the gateway HTTP server.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	// TrustProxy takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites those headers.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

// AuthConfig holds the shared secret callers must present.
type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
	Header string `mapstructure:"header"`
}

// PoolConfig describes the agent pool.
type PoolConfig struct {
	AgentURLs        string `mapstructure:"agent_urls"`
	ProbeConcurrency int    `mapstructure:"probe_concurrency"`
}

// HTTPConfig configures the client used to call agents.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// RestartConfig controls the rolling restart scheduler.
type RestartConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Stagger  time.Duration `mapstructure:"stagger"`
}

// RateLimitConfig throttles inbound scrape requests per client. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// EventsConfig holds the Pub/Sub target for restart events.
type EventsConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// AgentConfig configures the reference scrape agent.
type AgentConfig struct {
	Port           int                 `mapstructure:"port"`
	UserAgent      string              `mapstructure:"user_agent"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	MaxConcurrent  int                 `mapstructure:"max_concurrent"`
	RespectRobots  bool                `mapstructure:"respect_robots"`
	Headless       AgentHeadlessConfig `mapstructure:"headless"`
}

// AgentHeadlessConfig configures JavaScript rendering on the agent.
type AgentHeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("auth.header", "API_KEY")
	v.SetDefault("pool.probe_concurrency", 8)
	v.SetDefault("http.timeout_seconds", 90)
	v.SetDefault("http.user_agent", "scrape-gateway/1.0")
	v.SetDefault("restart.enabled", true)
	v.SetDefault("restart.interval", "1h")
	v.SetDefault("restart.stagger", "2m")
	v.SetDefault("rate_limit.rps", 0)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("agent.port", 8080)
	v.SetDefault("agent.user_agent", "scrape-agent/1.0")
	v.SetDefault("agent.timeout_seconds", 30)
	v.SetDefault("agent.max_concurrent", 1)
	v.SetDefault("agent.respect_robots", false)
	v.SetDefault("agent.headless.enabled", true)
	v.SetDefault("agent.headless.max_parallel", 1)
	v.SetDefault("agent.headless.nav_timeout_seconds", 45)
}

// bindLegacyEnv keeps the unprefixed variable names deployments already use.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"pool.agent_urls": {"GATEWAY_POOL_AGENT_URLS", "AGENT_URLS"},
		"auth.api_key":    {"GATEWAY_AUTH_API_KEY", "API_KEY"},
		"server.port":     {"GATEWAY_SERVER_PORT", "PORT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces reasonable limits shared by the gateway and the agent.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Restart.Enabled {
		if c.Restart.Interval <= 0 {
			return fmt.Errorf("restart.interval must be > 0")
		}
		if c.Restart.Stagger < 0 {
			return fmt.Errorf("restart.stagger must be >= 0")
		}
		if c.Restart.Interval < c.Restart.Stagger {
			return fmt.Errorf("restart.interval must be >= restart.stagger")
		}
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	if c.Agent.Headless.Enabled && c.Agent.Headless.MaxParallel <= 0 {
		return fmt.Errorf("agent.headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// ValidateGateway checks the settings the gateway cannot start without.
func (c Config) ValidateGateway() error {
	if strings.TrimSpace(c.Pool.AgentURLs) == "" {
		return fmt.Errorf("%w: pool.agent_urls (AGENT_URLS) is not set", pool.ErrConfigurationMissing)
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("%w: auth.api_key (API_KEY) is not set", pool.ErrConfigurationMissing)
	}
	if c.Auth.Header == "" {
		return fmt.Errorf("auth.header must not be empty")
	}
	if _, err := pool.ParseSpec(c.Pool.AgentURLs); err != nil {
		return fmt.Errorf("pool.agent_urls: %w", err)
	}
	return nil
}

// ValidateAgent checks the reference agent settings.
func (c Config) ValidateAgent() error {
	if c.Agent.Port <= 0 {
		return fmt.Errorf("agent.port must be > 0")
	}
	if c.Agent.MaxConcurrent <= 0 {
		return fmt.Errorf("agent.max_concurrent must be > 0")
	}
	if c.Agent.TimeoutSeconds <= 0 {
		return fmt.Errorf("agent.timeout_seconds must be > 0")
	}
	return nil
}

// RequestTimeout bounds one inbound gateway request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// AgentCallTimeout bounds one call from the gateway to an agent.
func (c Config) AgentCallTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
