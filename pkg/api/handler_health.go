package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/crucible-dev/crucible/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one component's health in the /health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status         string                 `json:"status"`
	Version        string                 `json:"version"`
	ActiveSessions int                    `json:"active_sessions"`
	Checks         map[string]HealthCheck `json:"checks"`
}

// healthHandler handles GET /health. The response is cached briefly so
// probe storms do not hammer the store.
func (s *Server) healthHandler(c *echo.Context) error {
	payload, err := s.healthCache.GetOrSet("health:response", func() (any, error) {
		return s.checkHealth(c.Request().Context()), nil
	}, healthCacheTTL)
	if err != nil {
		return mapError(err)
	}

	resp := payload.(*HealthResponse)
	httpStatus := http.StatusOK
	if resp.Status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}

func (s *Server) checkHealth(ctx context.Context) *HealthResponse {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.store.Ping(reqCtx); err != nil {
		status = healthStatusUnhealthy
		checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["store"] = HealthCheck{Status: healthStatusHealthy}
	}

	active := 0
	if s.runner != nil {
		active = s.runner.ActiveCount()
		checks["runner"] = HealthCheck{Status: healthStatusHealthy}
	}

	return &HealthResponse{
		Status:         status,
		Version:        version.GitCommit,
		ActiveSessions: active,
		Checks:         checks,
	}
}

// readyHandler handles GET /ready. Ready iff the session store is
// reachable, so the orchestrating platform holds traffic during store
// outages instead of serving failures.
func (s *Server) readyHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(reqCtx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"ready": true})
}
