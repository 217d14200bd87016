// Package api exposes the HTTP surface: tool calls, health and
// readiness probes, Prometheus metrics, and the WebSocket event
// stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/crucible-dev/crucible/pkg/auth"
	"github.com/crucible-dev/crucible/pkg/cache"
	"github.com/crucible-dev/crucible/pkg/config"
	"github.com/crucible-dev/crucible/pkg/events"
	"github.com/crucible-dev/crucible/pkg/front"
	"github.com/crucible-dev/crucible/pkg/orchestrator"
	"github.com/crucible-dev/crucible/pkg/store"
)

// healthCacheTTL bounds how often health probes hit the store.
const healthCacheTTL = 30 * time.Second

// Server is the HTTP server. All tool traffic funnels through the
// dispatcher; the remaining routes are operational.
type Server struct {
	cfg         config.ServerConfig
	dispatcher  *front.Dispatcher
	authn       *auth.Authenticator
	store       store.Store
	runner      *orchestrator.Runner
	connManager *events.ConnectionManager
	healthCache *cache.Cache

	httpServer    *http.Server
	metricsServer *http.Server
}

// NewServer wires the routes and returns a server ready to Start.
func NewServer(
	cfg config.ServerConfig,
	dispatcher *front.Dispatcher,
	authenticator *auth.Authenticator,
	st store.Store,
	runner *orchestrator.Runner,
	connManager *events.ConnectionManager,
	healthCache *cache.Cache,
	metricsHandler http.Handler,
) *Server {
	s := &Server{
		cfg:         cfg,
		dispatcher:  dispatcher,
		authn:       authenticator,
		store:       st,
		runner:      runner,
		connManager: connManager,
		healthCache: healthCache,
	}

	e := echo.New()
	e.Use(securityHeaders())

	// Only /metrics (on its own listener) is public; the probe and
	// event routes authenticate at the transport, the tool-call route
	// inside the dispatcher.
	protected := requireAuth(authenticator)
	e.GET("/health", s.healthHandler, protected)
	e.GET("/ready", s.readyHandler, protected)
	e.GET("/ws", s.wsHandler, protected)

	e.GET("/api/v1/tools", s.listToolsHandler)
	e.POST("/api/v1/tools/call", s.callToolHandler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.MetricsPort > 0 && metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		s.metricsServer = &http.Server{
			Addr:              addrFor(cfg.Host, cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return s
}

// Start serves HTTP until Shutdown or a listener error. The metrics
// listener, when configured, runs on its own port so scrapes bypass
// the application middleware.
func (s *Server) Start() error {
	if s.metricsServer != nil {
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				// Metrics loss is not fatal to the application.
				slog.Error("Metrics server error", "error", err)
			}
		}()
	}
	return s.httpServer.ListenAndServe()
}

func addrFor(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Shutdown drains in-flight HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(ctx)
	}
	return s.httpServer.Shutdown(ctx)
}
