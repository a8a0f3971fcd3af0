package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"predict-proxy/internal/client"
	"predict-proxy/internal/config"
	"predict-proxy/internal/handler"
	"predict-proxy/internal/metrics"
	"predict-proxy/internal/middleware"
	"predict-proxy/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// publicServer serves the prediction proxy; adminServer serves health and metrics.
type (
	publicServer struct{ *echo.Echo }
	adminServer  struct{ *echo.Echo }
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("predict-proxy"),
		kong.Description("CORS-enabled reverse proxy for the CMAB prediction API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newPublicServer,
			newAdminServer,
			client.NewPredictionClient,
			service.NewPredictService,
			handler.NewDispatcher,
			handler.NewHealthHandler,
		),
		fx.Invoke(registerRoutes, warnConfigPermissions, startServers),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout stays disabled so long streamed predictions are not cut
	// off.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	return e
}

// newPublicServer installs its middleware with Pre: the dispatcher takes
// every request before Echo's router, which would answer unknown methods
// with 405 on its own.
func newPublicServer(logger *slog.Logger, m *metrics.Metrics) publicServer {
	e := newEcho()
	e.Pre(echomw.Recover())
	e.Pre(middleware.AllowAnyOrigin())
	e.Pre(echomw.RequestID())
	e.Pre(middleware.RequestLogger(logger))
	e.Pre(middleware.MetricsMiddleware(m))
	return publicServer{e}
}

func newAdminServer(logger *slog.Logger) adminServer {
	e := newEcho()
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger.With("listener", "admin")))
	return adminServer{e}
}

func registerRoutes(pub publicServer, admin adminServer, cfg *config.Config, d *handler.Dispatcher, health *handler.HealthHandler, m *metrics.Metrics) {
	handler.RegisterRoutes(pub.Echo, d)
	handler.RegisterAdminRoutes(admin.Echo, cfg, health, m)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServers(lc fx.Lifecycle, pub publicServer, admin adminServer, cfg *config.Config, logger *slog.Logger) {
	serve(lc, pub.Echo, cfg.Server.Addr(), "public", logger)
	if cfg.Admin.Enabled {
		serve(lc, admin.Echo, cfg.Admin.Addr(), "admin", logger)
	}
}

func serve(lc fx.Lifecycle, e *echo.Echo, addr, name string, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s listener on %s: %w", name, addr, err)
			}
			logger.Info("starting server", "listener", name, "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "listener", name, "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server", "listener", name)
			return e.Shutdown(ctx)
		},
	})
}
