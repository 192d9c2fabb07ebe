package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edge-forwarder/internal/config"
	"edge-forwarder/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Everything outside config.OpsPrefix is forwarded, whatever the method.
// Paths under the prefix are never forwarded: unknown ones and other
// methods on the ops routes get an empty 404.
func RegisterRoutes(e *echo.Echo, forward *ForwardHandler, health *HealthHandler) {
	e.GET(config.OpsPrefix+"healthz", health.Healthz)
	e.GET(config.OpsPrefix+"status", health.Status)

	e.Any(config.OpsPrefix+"*", opsNotFound)
	e.RouteNotFound(config.OpsPrefix+"*", opsNotFound)

	e.Any("/*", forward.Handle)
	// Methods outside Echo's known set (PROPPATCH, MKCOL, ...) land here.
	e.RouteNotFound("/*", forward.Handle)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

func opsNotFound(c echo.Context) error {
	return c.NoContent(http.StatusNotFound)
}
