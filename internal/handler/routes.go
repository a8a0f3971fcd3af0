package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"predict-proxy/internal/config"
	"predict-proxy/internal/metrics"
)

// RegisterRoutes sends every path and method on the public server to the
// dispatcher. It terminates the Pre chain, so the router never runs and any
// method token reaches Handle; call it after the server's Pre middleware.
func RegisterRoutes(e *echo.Echo, d *Dispatcher) {
	e.Pre(func(echo.HandlerFunc) echo.HandlerFunc {
		return d.Handle
	})
}

// RegisterAdminRoutes wires health and metrics endpoints onto the admin server.
func RegisterAdminRoutes(e *echo.Echo, cfg *config.Config, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)
	e.GET(cfg.Admin.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		Registry: m.Registry,
	})))
}
