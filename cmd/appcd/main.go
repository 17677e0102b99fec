package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/appcd/internal/config"
	"github.com/basket/appcd/internal/dispatcher"
	"github.com/basket/appcd/internal/pluginloader"
	"github.com/basket/appcd/internal/services"
	"github.com/basket/appcd/internal/subscription"
	"github.com/basket/appcd/internal/telemetry"
	otelPkg "github.com/basket/appcd/internal/telemetry/otel"
	"github.com/basket/appcd/internal/transport/httpmw"
	"github.com/basket/appcd/internal/transport/ws"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                        Start the dispatcher daemon in the foreground
  %s daemon start|stop|status   Run the daemon in the background
  %s status                 Show daemon health status (/healthz)
  %s doctor [-json]         Run startup diagnostics

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  APPCD_HOME               Data directory (default: ~/.appcd)
  APPCD_BIND_ADDR           WebSocket/HTTP listen address
  APPCD_LOG_LEVEL           debug, info, warn, error
  APPCD_PLUGIN_DIR          Directory watched for plugin.yaml manifests
  APPCD_QUIET               Set to 1 to suppress stdout logging
  APPCD_TELEMETRY_ENABLED   Set to 1 to enable OpenTelemetry export
  APPCD_OTLP_ENDPOINT       OTLP/HTTP collector endpoint
`)
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		case "daemon":
			os.Exit(runDaemonCommand(args[1:]))
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, cfg.Quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	if host, _, err := net.SplitHostPort(cfg.BindAddr); err == nil {
		h := strings.TrimSpace(strings.ToLower(host))
		loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
		if !loopback && len(cfg.AllowOrigins) == 0 {
			logger.Warn("allow_origins is empty on non-loopback bind; cross-origin browser connections will be rejected", "bind_addr", cfg.BindAddr)
		}
	}

	otelProvider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	var metrics *otelPkg.Metrics
	if cfg.Telemetry.Enabled {
		metrics, err = otelPkg.NewMetrics(otelProvider.Meter)
		if err != nil {
			fatalStartup(logger, "E_OTEL_METRICS_INIT", err)
		}
	}

	root := dispatcher.New(logger, dispatcher.WithTracer(otelProvider.Tracer), dispatcher.WithMetrics(metrics))
	started := time.Now()
	if err := root.Register("/status", services.NewStatus(started, cfg.Fingerprint, logger)); err != nil {
		fatalStartup(logger, "E_ROUTE_REGISTER", err)
	}
	if err := root.Register("/echo/:v", dispatcher.HandlerFunc(services.Echo)); err != nil {
		fatalStartup(logger, "E_ROUTE_REGISTER", err)
	}
	clock := services.NewClock()
	defer clock.Stop()
	if err := root.Register("/clock", clock.Service("@every 1s")); err != nil {
		fatalStartup(logger, "E_ROUTE_REGISTER", err)
	}
	logger.Info("startup phase", "phase", "builtin_routes_registered")

	loader := pluginloader.New(cfg.PluginDir, root, map[string]pluginloader.Factory{
		"time": timePluginFactory,
	}, logger)
	if err := loader.LoadExisting(); err != nil {
		fatalStartup(logger, "E_PLUGIN_LOAD", err)
	}
	if err := loader.Watch(ctx); err != nil {
		fatalStartup(logger, "E_PLUGIN_WATCH_START", err)
	}
	logger.Info("startup phase", "phase", "plugins_loaded", "dir", cfg.PluginDir)

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for ev := range watcher.Events() {
			reloaded, err := config.Load()
			if err != nil {
				logger.Error("config reload failed", "path", ev.Path, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", ev.Path, "fingerprint", reloaded.Fingerprint())
		}
	}()

	subs := subscription.New()
	wsServer, err := ws.New(ws.Config{
		Dispatcher:    root,
		Subscriptions: subs,
		Logger:        logger,
		AllowOrigins:  cfg.AllowOrigins,
		Metrics:       metrics,
	})
	if err != nil {
		fatalStartup(logger, "E_WS_SERVER_INIT", err)
	}

	mw := httpmw.New(root, logger)
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer.Handler())
	mux.HandleFunc("/healthz", healthzHandler(root, subs, started))
	mux.Handle("/", mw.Wrap(notFound))

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: mux,
	}

	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			hint := portOccupantHint(cfg.BindAddr)
			fatalStartup(logger, "E_LISTENER_BIND", fmt.Errorf("%w\n\n  %s", err, hint))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	logger.Info("startup phase", "phase", "listener_bound", "addr", cfg.BindAddr)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("daemon listening", "addr", cfg.BindAddr, "ws", "/ws")
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("daemon server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

// healthzHandler serves the operational health endpoint used by
// `appcd status`. It sits outside the Dispatcher's own routing (the
// dispatch RPC surface has its own /status route) and exists purely
// for process supervisors and the CLI.
func healthzHandler(root *dispatcher.Dispatcher, subs *subscription.Registry, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"healthy":true,"uptime_seconds":%d,"routes":%d,"active_subscriptions":%d}`,
			int64(time.Since(started).Seconds()), root.RouteCount(), subs.Total())
	}
}

func timePluginFactory(m pluginloader.Manifest) (*dispatcher.Dispatcher, error) {
	nested := dispatcher.New(nil)
	if err := nested.Register("/time", dispatcher.HandlerFunc(services.Time)); err != nil {
		return nil, err
	}
	return nested, nil
}
