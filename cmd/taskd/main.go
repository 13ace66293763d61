// Command taskd serves the task store over JSON-RPC on stdio or WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vinayprograms/taskkit/app"
	"github.com/vinayprograms/taskkit/config"
	"github.com/vinayprograms/taskkit/dispatch"
	"github.com/vinayprograms/taskkit/heartbeat"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/ratelimit"
	"github.com/vinayprograms/taskkit/shutdown"
	"github.com/vinayprograms/taskkit/telemetry"
	"github.com/vinayprograms/taskkit/transport"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("taskd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to taskkit.toml")
	transportName := fs.String("transport", "", "override server.transport (stdio|websocket)")
	listen := fs.String("listen", "", "override server.listen")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, path, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "taskd: %v\n", err)
		return exitUsage
	}
	if *transportName != "" {
		cfg.Server.Transport = *transportName
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "taskd: %v\n", err)
		return exitUsage
	}

	// stdout carries JSON-RPC on stdio, so logs always go to stderr.
	logger := logging.New()
	logger.SetOutput(stderr)
	logger.SetLevel(logging.ParseLevel(cfg.Log.Level))
	logger.SetFormat(logging.Format(cfg.Log.Format))
	if path != "" {
		logger.Info("config loaded", map[string]any{"path": path})
	}

	if err := serve(cfg, stdin, stdout, logger); err != nil {
		logger.Error("taskd failed", map[string]any{"error": err.Error()})
		return exitError
	}
	return exitOK
}

func serve(cfg *config.Config, stdin io.Reader, stdout io.Writer, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), logger.WithComponent("shutdown"))

	var opts []dispatch.Option
	opts = append(opts, dispatch.WithLogger(logger.WithComponent("dispatch")))
	if cfg.Telemetry.Enabled {
		p, err := telemetry.InitProvider(ctx, cfg.Telemetry, instanceName(cfg.Server.Name))
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		coord.RegisterFunc("telemetry", shutdown.PhaseTelemetry, p.Shutdown)
		opts = append(opts, dispatch.WithTracer(p.Tracer()))
	}

	if rl := cfg.RateLimit; rl.Requests > 0 {
		limiter := ratelimit.NewMemoryLimiter(rl.Requests, rl.Window.Duration)
		coord.RegisterWithPhase("ratelimit", shutdown.CloserFunc(limiter.Close), shutdown.PhaseStore)
		opts = append(opts, dispatch.WithRateLimit(limiter))
	}

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		_ = coord.Shutdown(ctx)
		return err
	}
	a.Register(coord)

	anonymous := cfg.Auth.AllowAnonymous ||
		(cfg.Server.Transport == "stdio" && len(cfg.Auth.Tokens) == 0)
	d := dispatch.New(a.Store, dispatch.NewTokenAuthorizer(cfg.Auth.Tokens, anonymous), opts...)

	var serveErr error
	switch cfg.Server.Transport {
	case "websocket":
		serveErr = serveWebSocket(ctx, cfg, a, d, coord, logger)
	default:
		serveErr = serveStdio(ctx, cancel, cfg, a, d, coord, stdin, stdout, logger)
	}

	if err := coord.ShutdownWithTimeout(); err != nil && !errors.Is(err, shutdown.ErrAlreadyShutdown) {
		logger.Warn("shutdown incomplete", map[string]any{"error": err.Error()})
	}
	<-coord.Done()
	return serveErr
}

func serveStdio(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, a *app.App, d *dispatch.Dispatcher,
	coord *shutdown.Coordinator, stdin io.Reader, stdout io.Writer, logger *logging.Logger) error {
	t := transport.NewStdioTransport(stdin, stdout, transport.DefaultConfig())
	coord.RegisterFunc("stdio", shutdown.PhaseListeners, func(context.Context) error {
		cancel()
		return nil
	})
	coord.HandleSignals()

	if a.Bus != nil {
		go func() {
			if err := dispatch.ForwardEvents(ctx, a.Bus, a.Prefix, t, logger); err != nil {
				logger.Warn("event forwarding stopped", map[string]any{"error": err.Error()})
			}
		}()
	}

	startHeartbeat(ctx, cfg, a, coord, func() int { return 1 }, logger)
	logger.Info("serving", map[string]any{"transport": "stdio"})
	return transport.Serve(ctx, t, d)
}

func serveWebSocket(ctx context.Context, cfg *config.Config, a *app.App, d *dispatch.Dispatcher,
	coord *shutdown.Coordinator, logger *logging.Logger) error {
	var serverOpts []transport.ServerOption
	serverOpts = append(serverOpts, transport.WithServerLogger(logger))
	if a.Bus != nil {
		serverOpts = append(serverOpts, transport.WithSession(func(ctx context.Context, t transport.Transport) {
			if err := dispatch.ForwardEvents(ctx, a.Bus, a.Prefix, t, logger); err != nil {
				logger.Warn("event forwarding stopped", map[string]any{"error": err.Error()})
			}
		}))
	}
	ws := transport.NewWebSocketServer(d, transport.DefaultWebSocketConfig(), serverOpts...)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, ws)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}

	coord.RegisterFunc("http", shutdown.PhaseListeners, srv.Shutdown)
	coord.RegisterFunc("websocket", shutdown.PhaseSessions, ws.Shutdown)
	coord.HandleSignals()

	startHeartbeat(ctx, cfg, a, coord, ws.Sessions, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("serving", map[string]any{
		"transport": "websocket",
		"addr":      ln.Addr().String(),
		"path":      cfg.Server.Path,
	})

	select {
	case <-coord.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve: %w", err)
	}
}

// startHeartbeat announces this instance on the bus until shutdown, when it
// first reports draining and then stops.
func startHeartbeat(ctx context.Context, cfg *config.Config, a *app.App, coord *shutdown.Coordinator,
	sessions func() int, logger *logging.Logger) {
	if a.Bus == nil || cfg.Server.HeartbeatInterval.Duration <= 0 {
		return
	}
	sender, err := heartbeat.NewBusSender(heartbeat.SenderConfig{
		Bus:      a.Bus,
		Instance: instanceName(cfg.Server.Name),
		Interval: cfg.Server.HeartbeatInterval.Duration,
		Sessions: sessions,
	})
	if err != nil {
		logger.Warn("heartbeat disabled", map[string]any{"error": err.Error()})
		return
	}
	sender.SetMetadata("transport", cfg.Server.Transport)
	sender.SetMetadata("backend", cfg.Store.Backend)
	if err := sender.Start(ctx); err != nil {
		logger.Warn("heartbeat disabled", map[string]any{"error": err.Error()})
		return
	}
	coord.RegisterFunc("heartbeat-drain", shutdown.PhaseListeners, func(context.Context) error {
		return sender.Drain()
	})
	coord.RegisterWithPhase("heartbeat", shutdown.CloserFunc(sender.Stop), shutdown.PhaseSessions)
	logger.Info("heartbeat started", map[string]any{"instance": sender.Instance()})
}

func instanceName(name string) string {
	if name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "taskd"
	}
	host = strings.NewReplacer(".", "-", "*", "-", ">", "-", " ", "-").Replace(host)
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
