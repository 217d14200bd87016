package config

import (
	"time"

	"github.com/crucible-dev/crucible/pkg/llm"
)

// DefaultConfig returns the built-in configuration. User YAML and
// environment overrides merge on top.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			MetricsPort: 9090,
		},
		Auth: AuthConfig{
			Enabled:   false,
			JWTExpiry: 60 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			WindowMS:    900_000,
			MaxRequests: 100,
		},
		Cache: CacheConfig{
			TTL:        5 * time.Minute,
			MaxEntries: 1000,
		},
		Loop: LoopConfig{
			QualityThreshold:    80,
			MaxIterations:       5,
			TaskTimeoutMinutes:  30,
			StagnationWindow:    2,
			StagnationThreshold: 2,
			OscillationEnabled:  true,
		},
		Agents: AgentsConfig{
			Coder: llm.ProviderConfig{
				Provider:  "openai",
				Model:     "gpt-4o",
				APIKeyEnv: "OPENAI_API_KEY",
			},
			Critic: llm.ProviderConfig{
				Provider:  "openai",
				Model:     "gpt-4o",
				APIKeyEnv: "OPENAI_API_KEY",
			},
		},
		Retention: RetentionConfig{
			Days:          30,
			CheckInterval: 6 * time.Hour,
		},
	}
}
