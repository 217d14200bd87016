package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/crucible-dev/crucible/pkg/crucerr"
)

// mapError maps service-layer errors to HTTP error responses. Internal
// detail stays in the logs; the client sees the kind-level message.
func mapError(err error) *echo.HTTPError {
	kind := crucerr.KindOf(err)
	status := crucerr.HTTPStatus(kind)
	if status == http.StatusInternalServerError {
		slog.Error("Unexpected service error", "error", err)
		return echo.NewHTTPError(status, "internal server error")
	}
	return echo.NewHTTPError(status, err.Error())
}
