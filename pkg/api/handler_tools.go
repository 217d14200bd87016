package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/front"
)

// ToolCallRequest is the body of POST /api/v1/tools/call.
type ToolCallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolInfo is one entry of GET /api/v1/tools.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// listToolsHandler handles GET /api/v1/tools.
func (s *Server) listToolsHandler(c *echo.Context) error {
	tools := s.dispatcher.Tools()
	out := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolInfo{Name: t.Name, Description: t.Description})
	}
	return c.JSON(http.StatusOK, out)
}

// callToolHandler handles POST /api/v1/tools/call. The body names a
// tool and its arguments; the dispatcher runs the shared pipeline and
// the envelope comes back verbatim, with the HTTP status derived from
// the error kind.
func (s *Server) callToolHandler(c *echo.Context) error {
	var req ToolCallRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tool name is required")
	}

	r := c.Request()
	meta := front.Meta{
		Authorization: r.Header.Get("Authorization"),
		APIKey:        r.Header.Get("X-API-Key"),
		ClientIP:      clientIP(r),
	}

	result := s.dispatcher.Call(r.Context(), req.Name, req.Arguments, meta)

	status := http.StatusOK
	if result.IsError {
		kind, retryAfter := errorEnvelope(result)
		status = crucerr.HTTPStatus(kind)
		switch kind {
		case crucerr.KindUnauthorized:
			c.Response().Header().Set("WWW-Authenticate", `Bearer realm="crucible"`)
		case crucerr.KindRateLimited:
			if retryAfter > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			}
		}
		slog.Info("Tool call failed",
			"tool", req.Name,
			"kind", string(kind),
			"author", extractAuthor(c))
	}

	return c.JSON(status, result)
}

// errorEnvelope pulls the error kind and retry hint back out of the
// diagnostic payload the dispatcher embedded in the envelope.
func errorEnvelope(result *front.CallResult) (crucerr.Kind, int) {
	if len(result.Content) == 0 {
		return crucerr.KindInternal, 0
	}
	var payload struct {
		Kind              string `json:"kind"`
		RetryAfterSeconds int    `json:"retry_after_seconds"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &payload); err != nil {
		return crucerr.KindInternal, 0
	}
	if payload.Kind == "" {
		return crucerr.KindInternal, 0
	}
	return crucerr.Kind(payload.Kind), payload.RetryAfterSeconds
}
