// netstackd is a demo/ops binary for the in-process IPv4 netstack:
// it boots a stack.Stack from configuration, serves Prometheus metrics
// and a health check over HTTP, and runs the poll loop that drives TCP
// retransmission and TIME-WAIT expiry until a signal asks it to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gonetstack/internal/clock"
	"github.com/dantte-lp/gonetstack/internal/config"
	"github.com/dantte-lp/gonetstack/internal/netaddr"
	"github.com/dantte-lp/gonetstack/internal/stack"
	appversion "github.com/dantte-lp/gonetstack/internal/version"
	"github.com/dantte-lp/gonetstack/internal/wire"
)

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// pollInterval drives the poll coordinator at a fixed cadence, standing
// in for the interrupt-driven wakeups a real NIC driver would deliver.
const pollInterval = 10 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	selfTest := flag.Bool("self-test", false, "run a loopback ICMP echo smoke test and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("netstackd starting",
		slog.String("version", appversion.Version),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	st, err := stack.New(cfg, clock.Real{}, reg, logger)
	if err != nil {
		logger.Error("failed to build stack", slog.String("error", err.Error()))
		return 1
	}

	if *selfTest {
		if err := runSelfTest(st); err != nil {
			logger.Error("self-test failed", slog.String("error", err.Error()))
			return 1
		}
		logger.Info("self-test passed")
		return 0
	}

	if err := runServers(cfg, st, reg, logger); err != nil {
		logger.Error("netstackd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("netstackd stopped")
	return 0
}

// runServers starts the metrics/health HTTP server and the poll loop
// using an errgroup with signal-aware context for graceful shutdown.
func runServers(cfg *config.Config, st *stack.Stack, reg *prometheus.Registry, logger *slog.Logger) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return runPollLoop(gCtx, st, logger)
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(metricsSrv, logger)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// runPollLoop requests and drains a poll pass at pollInterval until ctx
// is cancelled, driving tcp.Manager's retransmit/TIME-WAIT timers.
func runPollLoop(ctx context.Context, st *stack.Stack, logger *slog.Logger) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st.Poll.RequestPoll()
			if err := st.Poll.PollIfPending(); err != nil {
				logger.Warn("poll pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// gracefulShutdown shuts the metrics server down within shutdownTimeout.
func gracefulShutdown(metricsSrv *http.Server, logger *slog.Logger) error {
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics
// endpoint and a /healthz liveness check.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// runSelfTest drives an ICMP echo request through the loopback device
// and verifies a matching reply arrives, exercising Ethernet's
// loopback short-circuit, IPv4 routing, and the ICMP responder in one
// pass without needing a real NIC.
func runSelfTest(st *stack.Stack) error {
	h, err := st.AllocICMP()
	if err != nil {
		return fmt.Errorf("alloc icmp socket: %w", err)
	}
	defer st.FreeICMP(h) //nolint:errcheck

	payload := []byte("netstackd-self-test")
	req := make([]byte, wire.ICMPEchoHeaderLen+len(payload))
	echo := wire.NewICMPEchoMut(req)
	echo.SetMsgType(wire.ICMPTypeEchoRequest)
	echo.SetID(1)
	echo.SetSeq(1)
	copy(echo.PayloadMut(), payload)
	echo.FillChecksum()

	if err := st.IP.EgressRoute(wire.ProtoICMP, netaddr.Loopback, req); err != nil {
		return fmt.Errorf("egress echo request: %w", err)
	}

	_, data, err := st.ICMP.RecvFrom(h)
	if err != nil {
		return fmt.Errorf("recv echo reply: %w", err)
	}
	reply, err := wire.NewICMPEcho(data)
	if err != nil {
		return fmt.Errorf("parse echo reply: %w", err)
	}
	if reply.MsgType() != wire.ICMPTypeEchoReply {
		return fmt.Errorf("reply type = %d, want EchoReply", reply.MsgType())
	}
	return nil
}
