package main

import (
	"context"
	"encoding/json"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoSim-25-26J-441/experiment-design/internal/designd"
	"github.com/GoSim-25-26J-441/experiment-design/internal/metrics"
	"github.com/GoSim-25-26J-441/experiment-design/internal/session"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/config"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/logger"
)

func main() {
	var configPath string
	var grpcAddr string
	var httpAddr string
	var metricsAddr string
	var logLevel string
	var once bool

	flag.StringVar(&configPath, "config", "", "design YAML file (defaults are used when empty)")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (overrides config)")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides config)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "separate Prometheus listen address (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&once, "once", false, "run the configured design once, print the report as JSON and exit")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if grpcAddr != "" {
		cfg.Server.GRPCAddr = grpcAddr
	}
	if httpAddr != "" {
		cfg.Server.HTTPAddr = httpAddr
	}
	if metricsAddr != "" {
		cfg.Server.MetricsAddr = metricsAddr
	}

	logger.SetDefault(logger.NewText(cfg.LogLevel, os.Stderr))
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		if err := runOnce(ctx, cfg); err != nil {
			logger.Error("design run failed", "error", err)
			os.Exit(1)
		}
		return
	}
	serve(ctx, stop, cfg)
}

func loadConfig(path string) (*config.DesignConfig, error) {
	if path != "" {
		return config.LoadDesign(path)
	}
	cfg := config.DefaultDesignConfig()
	config.ApplyEnvOverrides(&cfg)
	return &cfg, nil
}

// runOnce executes the configured design in-process and writes the report to stdout.
func runOnce(ctx context.Context, cfg *config.DesignConfig) error {
	sess, err := session.FromConfig(cfg, session.Hooks{})
	if err != nil {
		return err
	}
	if err := sess.Run(ctx, cfg.Session.DesignIterations, cfg.Session.Baseline); err != nil {
		return err
	}
	report, err := sess.Report()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *config.DesignConfig) {
	store := designd.NewRunStore()
	executor := designd.NewRunExecutor(store, logger.With("component", "executor"))

	// TODO: Configure gRPC server security (e.g., TLS, authentication, rate limiting)
	// before using this service in a production environment.
	grpcServer := designd.NewGRPCServer(store)
	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen for gRPC", "addr", cfg.Server.GRPCAddr, "error", err)
		stop()
		os.Exit(1)
	}

	// /metrics is served on the API port unless a dedicated address is configured.
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		gatherer = nil
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = newHTTPServer(cfg.Server.MetricsAddr, mux)
	}

	httpSrv := newHTTPServer(cfg.Server.HTTPAddr, designd.NewHTTPServer(store, executor, gatherer).Handler())

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", "error", err)
			stop()
		}
	}()

	for _, srv := range []*http.Server{httpSrv, metricsSrv} {
		if srv == nil {
			continue
		}
		go func(srv *http.Server) {
			logger.Info("HTTP server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "addr", srv.Addr, "error", err)
				stop()
			}
		}(srv)
	}

	<-ctx.Done()
	logger.Info("shutdown requested")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	for _, srv := range []*http.Server{httpSrv, metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error", "addr", srv.Addr, "error", err)
		}
	}
	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("design runs still in flight at shutdown", "error", err)
	}
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
