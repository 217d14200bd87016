// Package config loads deployment configuration from crucible.yaml
// plus environment overrides, merges it over built-in defaults, and
// validates the result before the process wires any service.
package config

import (
	"fmt"
	"time"

	"github.com/crucible-dev/crucible/pkg/llm"
)

// Config is the fully resolved configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Database  DatabaseConfig  `yaml:"database"`
	Loop      LoopConfig      `yaml:"loop"`
	Agents    AgentsConfig    `yaml:"agents"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port" validate:"min=1,max=65535"`
	MetricsPort    int      `yaml:"metrics_port" validate:"min=0,max=65535"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig controls request authentication.
type AuthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	SharedKey     string        `yaml:"shared_key"`
	JWTSigningKey string        `yaml:"jwt_signing_key"`
	JWTExpiry     time.Duration `yaml:"jwt_expiry"`
	APIKeys       []string      `yaml:"api_keys"`
}

// RateLimitConfig controls the fixed-window limiter.
type RateLimitConfig struct {
	WindowMS    int64 `yaml:"window_ms" validate:"min=1000"`
	MaxRequests int   `yaml:"max_requests" validate:"min=1"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries" validate:"min=1"`
}

// DatabaseConfig selects the session store backend. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LoopConfig holds orchestration defaults and guard thresholds.
type LoopConfig struct {
	QualityThreshold    int  `yaml:"quality_threshold" validate:"min=1,max=100"`
	MaxIterations       int  `yaml:"max_iterations" validate:"min=1,max=20"`
	TaskTimeoutMinutes  int  `yaml:"task_timeout_minutes" validate:"min=1"`
	StagnationWindow    int  `yaml:"stagnation_window" validate:"min=1"`
	StagnationThreshold int  `yaml:"stagnation_threshold" validate:"min=1"`
	OscillationEnabled  bool `yaml:"oscillation_enabled"`
}

// AgentsConfig holds the Coder and Critic provider settings.
type AgentsConfig struct {
	Coder  llm.ProviderConfig `yaml:"coder"`
	Critic llm.ProviderConfig `yaml:"critic"`
}

// RetentionConfig controls the terminal-session sweep.
type RetentionConfig struct {
	Days          int           `yaml:"days" validate:"min=1"`
	CheckInterval time.Duration `yaml:"check_interval"`
}
