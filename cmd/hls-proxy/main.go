package main

import (
	"context"
	"errors"
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
	"golang.org/x/time/rate"

	"hls-proxy-go/internal/client"
	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/handler"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/middleware"
	"hls-proxy-go/internal/service"
	"hls-proxy-go/internal/transport"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("hls-proxy"),
		kong.Description("Streaming reverse proxy for HLS playlists and media segments."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newSelector,
			client.NewNativeClient,
			client.NewRawClient,
			newProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			newEcho,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
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

func newSelector(cfg *config.Config, logger *slog.Logger) *transport.Selector {
	sel := transport.NewSelector(cfg.Transport.RawSocketPort, cfg.Transport.RawSocketHosts)
	logger.Info("transport policy",
		"raw_socket_port", sel.RawPort(),
		"raw_socket_hosts", sel.Hosts(),
	)
	return sel
}

func newProxyService(
	native *client.NativeClient,
	raw *client.RawClient,
	sel *transport.Selector,
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *service.ProxyService {
	return service.NewProxyService(native, raw, sel, cfg, logger, m)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(e, logger)

	e.Server.ReadTimeout = 30 * time.Second
	// Segments and live playlists may stream for a long time.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		pathLabel := metrics.PathLabels("/proxy/status", cfg.Proxy.Path, "/healthz", cfg.Metrics.Path)
		e.Use(middleware.MetricsMiddleware(m, pathLabel))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.ProxyHeaders(cfg.Proxy.Version))

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

// errorHandler leaves *echo.HTTPError to echo and answers anything else,
// including recovered panics, with 500 and {"error": "<message>"}.
func errorHandler(e *echo.Echo, logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}

		logger.Error("unhandled error",
			"err", err,
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
		)
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(http.StatusInternalServerError)
		} else {
			err = c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		if err != nil {
			logger.Error("writing error response", "err", err)
		}
	}
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "proxy_path", cfg.Proxy.Path)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
