package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the expected YAML file under the config dir.
const ConfigFileName = "crucible.yaml"

// Initialize loads, merges, and validates configuration. Precedence:
// environment > crucible.yaml > built-in defaults. A missing YAML
// file is not an error; the defaults plus environment stand alone.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := DefaultConfig()

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Info("No crucible.yaml, using defaults and environment")
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		var fileCfg Config
		if err := yaml.Unmarshal(ExpandEnv(data), &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := mergo.Merge(cfg, &fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"auth_enabled", cfg.Auth.Enabled,
		"max_iterations", cfg.Loop.MaxIterations,
		"quality_threshold", cfg.Loop.QualityThreshold,
		"database", cfg.Database.URL != "")
	return cfg, nil
}

// applyEnvOverrides applies the stable environment variable names on
// top of whatever the YAML produced.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envBool("AUTH_ENABLED"); ok {
		cfg.Auth.Enabled = v
	}
	if v := os.Getenv("SHARED_KEY"); v != "" {
		cfg.Auth.SharedKey = v
	}
	if v := os.Getenv("JWT_SIGNING_KEY"); v != "" {
		cfg.Auth.JWTSigningKey = v
	}
	if v, ok := envInt("JWT_EXPIRY_MINUTES"); ok {
		cfg.Auth.JWTExpiry = time.Duration(v) * time.Minute
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCSV(v)
	}
	if v, ok := envInt("METRICS_PORT"); ok {
		cfg.Server.MetricsPort = v
	}
	if v, ok := envInt("RATE_LIMIT_WINDOW_MS"); ok {
		cfg.RateLimit.WindowMS = int64(v)
	}
	if v, ok := envInt("RATE_LIMIT_MAX_REQUESTS"); ok {
		cfg.RateLimit.MaxRequests = v
	}
	if v, ok := envInt("CACHE_TTL_SECONDS"); ok {
		cfg.Cache.TTL = time.Duration(v) * time.Second
	}
	if v, ok := envInt("CACHE_MAX_ENTRIES"); ok {
		cfg.Cache.MaxEntries = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v, ok := envInt("QUALITY_THRESHOLD"); ok {
		cfg.Loop.QualityThreshold = v
	}
	if v, ok := envInt("DEFAULT_MAX_ITERATIONS"); ok {
		cfg.Loop.MaxIterations = v
	}
	if v, ok := envInt("DEFAULT_TASK_TIMEOUT_MINUTES"); ok {
		cfg.Loop.TaskTimeoutMinutes = v
	}
	if v, ok := envInt("RETENTION_DAYS"); ok {
		cfg.Retention.Days = v
	}
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring malformed boolean environment variable", "name", name, "value", v)
		return false, false
	}
	return parsed, true
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring malformed integer environment variable", "name", name, "value", v)
		return 0, false
	}
	return parsed, true
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
