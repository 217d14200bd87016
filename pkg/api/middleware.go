package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/crucible-dev/crucible/pkg/auth"
)

// securityHeaderValues are applied to every response. The API serves
// JSON and a WebSocket upgrade only, so framing and sniffing are
// denied outright.
var securityHeaderValues = map[string]string{
	"X-Frame-Options":        "DENY",
	"X-Content-Type-Options": "nosniff",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
	"Permissions-Policy":     "camera=(), microphone=(), geolocation=()",
}

// requireAuth returns middleware rejecting unauthenticated requests
// when authentication is enabled. The tool-call route authenticates
// inside the dispatcher; this guard covers every other route, since
// the only public endpoint is /metrics on its own listener.
func requireAuth(a *auth.Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if a == nil || !a.Enabled() {
				return next(c)
			}
			r := c.Request()
			if _, err := a.Authenticate(r.Header.Get("Authorization"), r.Header.Get("X-API-Key")); err != nil {
				c.Response().Header().Set("WWW-Authenticate", `Bearer realm="crucible"`)
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

// securityHeaders returns middleware that sets standard security
// response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			for name, value := range securityHeaderValues {
				h.Set(name, value)
			}
			return next(c)
		}
	}
}
