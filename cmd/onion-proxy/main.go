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
	"go.uber.org/fx/fxevent"

	"onion-proxy-go/internal/client"
	"onion-proxy-go/internal/config"
	"onion-proxy-go/internal/handler"
	"onion-proxy-go/internal/listener"
	"onion-proxy-go/internal/metrics"
	"onion-proxy-go/internal/middleware"
	"onion-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// proxyServer serves hidden-service traffic; every path on it belongs to the upstream.
type proxyServer struct{ *echo.Echo }

// adminServer serves health, status and metrics.
type adminServer struct{ *echo.Echo }

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("onion-proxy"),
		kong.Description("Reverse proxy from plain HTTP to hidden services over a SOCKS tunnel."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newProxyServer,
			newAdminServer,
			fx.Annotate(client.NewTunnelClient, fx.As(fx.Self(), new(service.Dispatcher))),
			service.NewAddressValidator,
			service.NewEndpointResolver,
			service.NewHeaderRewriter,
			service.NewProxyService,
			handler.NewProxyHandler,
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

// newEcho returns an Echo instance whose http.Server logs through slog.
func newEcho(logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ErrorLog = slog.NewLogLogger(logger.Handler(), slog.LevelWarn)
	e.Use(echomw.Recover())
	return e
}

func newProxyServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) proxyServer {
	e := newEcho(logger.With("component", "proxy_server"))

	// Only the header read is bounded. Bodies stream for as long as the
	// hidden service and the client keep them moving.
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.ReadTimeout = 0
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second

	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(middleware.RequestLogger(logger.With("component", "access")))
	if cfg.Server.BodyMaxBytes > 0 {
		e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	}
	e.Use(middleware.StripHopByHop())

	return proxyServer{e}
}

func newAdminServer(logger *slog.Logger) adminServer {
	e := newEcho(logger.With("component", "admin_server"))
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second
	return adminServer{e}
}

func registerRoutes(
	ps proxyServer,
	as adminServer,
	cfg *config.Config,
	proxy *handler.ProxyHandler,
	health *handler.HealthHandler,
	m *metrics.Metrics,
) {
	handler.RegisterRoutes(ps.Echo, proxy)
	handler.RegisterAdminRoutes(as.Echo, cfg, health, m)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServers(
	lc fx.Lifecycle,
	ps proxyServer,
	as adminServer,
	tc *client.TunnelClient,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) {
	proxyAddr, _ := config.ParseProxyAddress(cfg.Tunnel.ProxyAddress)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting proxy server",
				"addr", addr,
				"tunnel", proxyAddr.Redacted(),
				"suffix", cfg.Tunnel.HiddenServiceSuffix,
				"rewrite_headers_for_fake_https", cfg.Tunnel.RewriteHeadersForFakeHTTPS,
			)
			serve(ps.Echo, listener.Wrap(ln, logger, listener.WithErrorCounter(m.ListenerErrors)), logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down proxy server")
			defer tc.CloseIdleConnections()
			return ps.Shutdown(ctx)
		},
	})

	if !cfg.Admin.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Admin.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind admin %s: %w", addr, err)
			}
			logger.Info("starting admin server", "addr", addr, "metrics", cfg.Metrics.Enabled)
			serve(as.Echo, listener.Wrap(ln, logger), logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down admin server")
			return as.Shutdown(ctx)
		},
	})
}

func serve(e *echo.Echo, ln net.Listener, logger *slog.Logger) {
	go func() {
		if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "addr", ln.Addr().String(), "err", err)
		}
	}()
}
