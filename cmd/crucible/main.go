// Crucible orchestrator server. Exposes the tool-call API over HTTP
// and MCP stdio, and runs the coder/critic refinement loop.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/crucible-dev/crucible/pkg/api"
	"github.com/crucible-dev/crucible/pkg/auth"
	"github.com/crucible-dev/crucible/pkg/cache"
	"github.com/crucible-dev/crucible/pkg/cleanup"
	"github.com/crucible-dev/crucible/pkg/config"
	"github.com/crucible-dev/crucible/pkg/events"
	"github.com/crucible-dev/crucible/pkg/front"
	"github.com/crucible-dev/crucible/pkg/llm"
	"github.com/crucible-dev/crucible/pkg/loopguard"
	"github.com/crucible-dev/crucible/pkg/metrics"
	"github.com/crucible-dev/crucible/pkg/orchestrator"
	"github.com/crucible-dev/crucible/pkg/policy"
	"github.com/crucible-dev/crucible/pkg/ratelimit"
	"github.com/crucible-dev/crucible/pkg/review"
	"github.com/crucible-dev/crucible/pkg/safety"
	"github.com/crucible-dev/crucible/pkg/store"
	"github.com/crucible-dev/crucible/pkg/version"
)

const shutdownGrace = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	mcpStdio := flag.Bool("mcp-stdio",
		getEnv("MCP_STDIO", "") == "true",
		"Also serve the tool table over MCP stdio")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting crucible",
		"version", version.GitCommit,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Metrics registry (the store wrapper reports retries to it)
	m := metrics.New()

	// 3. Session store
	st, err := buildStore(ctx, cfg, m)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing session store", "error", err)
		}
	}()

	// 4. Rate limiter, caches, authentication
	limiter := ratelimit.New(
		time.Duration(cfg.RateLimit.WindowMS)*time.Millisecond,
		cfg.RateLimit.MaxRequests,
		ratelimit.WithDenyObserver(func(namespace string) {
			m.RateLimited.WithLabelValues(namespace).Inc()
		}),
	)
	limiter.Start(ctx)
	defer limiter.Stop()

	responseCache := cache.New("responses", cfg.Cache.TTL, cfg.Cache.MaxEntries,
		cache.WithObservers(
			func() { m.CacheHits.WithLabelValues("responses").Inc() },
			func() { m.CacheMisses.WithLabelValues("responses").Inc() },
		))
	responseCache.Start(ctx, time.Minute)
	defer responseCache.Stop()

	healthCache := cache.New("health", 30*time.Second, 8)

	authenticator := auth.New(auth.Config{
		Enabled:       cfg.Auth.Enabled,
		SharedKey:     cfg.Auth.SharedKey,
		JWTSigningKey: cfg.Auth.JWTSigningKey,
		JWTExpiry:     cfg.Auth.JWTExpiry,
		APIKeys:       cfg.Auth.APIKeys,
	})

	// 5. Agents
	coder, err := llm.NewOpenAIClient(cfg.Agents.Coder)
	if err != nil {
		slog.Error("Failed to initialize coder agent", "error", err)
		os.Exit(1)
	}
	critic, err := llm.NewOpenAIClient(cfg.Agents.Critic)
	if err != nil {
		slog.Error("Failed to initialize critic agent", "error", err)
		os.Exit(1)
	}
	agents := llm.NewManager(coder, critic)
	slog.Info("Agents initialized",
		"coder_model", cfg.Agents.Coder.Model,
		"critic_model", cfg.Agents.Critic.Model)

	// 6. Events, review pipeline, orchestrator
	bus := events.NewBus()
	connManager := events.NewConnectionManager(bus)

	policies := policy.NewService(*configDir)
	pipeline := review.NewPipeline(agents, nil, nil, policies, m)

	orch := orchestrator.NewService(
		st, agents, pipeline,
		loopguard.Config{
			StagnationWindow:    cfg.Loop.StagnationWindow,
			StagnationThreshold: cfg.Loop.StagnationThreshold,
			OscillationEnabled:  cfg.Loop.OscillationEnabled,
		},
		safety.NewDetector(),
		bus, m,
		orchestrator.Defaults{
			MaxIterations:      cfg.Loop.MaxIterations,
			QualityThreshold:   cfg.Loop.QualityThreshold,
			TaskTimeoutMinutes: cfg.Loop.TaskTimeoutMinutes,
		},
	)

	// 7. Tool front-end
	dispatcher := front.NewDispatcher(authenticator, limiter, responseCache, m)
	front.RegisterAll(dispatcher, orch, policies, cfg.Cache.TTL)
	slog.Info("Tool table registered", "tools", len(dispatcher.Tools()))

	if *mcpStdio {
		mcpServer := front.NewMCPServer(dispatcher, version.GitCommit)
		go func() {
			if err := mcpServer.Run(ctx); err != nil {
				slog.Error("MCP stdio server exited", "error", err)
			}
		}()
		slog.Info("MCP stdio server started")
	}

	// 8. Retention sweep
	sweeper := cleanup.NewService(st, cfg.Retention.Days, cfg.Retention.CheckInterval)
	sweeper.Start(ctx)

	// 9. HTTP server (non-blocking)
	httpServer := api.NewServer(cfg.Server, dispatcher, authenticator, st, orch.Runner(), connManager, healthCache, m.Handler())
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr())
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Crucible started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop accepting, drain tool calls, then
	// wait for running sessions.
	dispatcher.SetShuttingDown()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	dispatcher.Drain(shutdownGrace)
	orch.Runner().Shutdown(shutdownGrace)
	sweeper.Stop()

	slog.Info("Crucible stopped")
}

// buildStore selects the session store backend. A configured database
// URL selects Postgres wrapped with transient-error retry; otherwise
// sessions live in memory.
func buildStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (store.Store, error) {
	if cfg.Database.URL == "" {
		slog.Info("Using in-memory session store")
		return store.NewMemoryStore(), nil
	}

	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	dbCfg.URL = cfg.Database.URL

	pg, err := store.NewPostgresStore(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	slog.Info("Connected to PostgreSQL session store")
	return store.WithRetry(pg).WithObserver(m.StorageRetries.Inc), nil
}
