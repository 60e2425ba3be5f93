// Swarmflow daemon entry point. Wires the allocation store, step
// executor, resilience publisher, and metrics endpoint, then runs until
// interrupted.
//
// Usage:
//
//	swarmflow serve                       Start the orchestrator
//	swarmflow serve --config config.yaml  With a config file
//	swarmflow version                     Show version information
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/swarmflow/swarmflow/allocator"
	"github.com/swarmflow/swarmflow/config"
	"github.com/swarmflow/swarmflow/eventbus"
	"github.com/swarmflow/swarmflow/executor"
	"github.com/swarmflow/swarmflow/internal/cache"
	"github.com/swarmflow/swarmflow/internal/metrics"
	"github.com/swarmflow/swarmflow/internal/telemetry"
	"github.com/swarmflow/swarmflow/resilience"
)

// Build-time values injected via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting swarmflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelProviders, err := telemetry.Init(cfg.Telemetry.Telemetry(), logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	sink := telemetry.NewSink(logger)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("swarmflow", registry, logger)

	store, err := cache.NewManager(cfg.Redis.Cache(), logger)
	if err != nil {
		logger.Fatal("failed to connect allocation store", zap.Error(err))
	}
	defer store.Close()

	bus := eventbus.NewChannelBus(logger)
	defer bus.Stop()

	publisher := resilience.NewPublisher(cfg.Resilience.Resilience(), bus, sink, collector, logger)
	breakers := resilience.NewBreakerRegistry(cfg.Breaker.Breaker(), publisher, logger)

	pool := allocator.NewMemorySwarmPool(logger)
	pools, err := cfg.Swarm.PoolCredits()
	if err != nil {
		logger.Fatal("invalid swarm pools", zap.Error(err))
	}
	for swarmID, credits := range pools {
		pool.SetPool(swarmID, credits)
		logger.Info("swarm pool seeded",
			zap.String("swarm_id", swarmID),
			zap.String("credits", credits.String()))
	}

	manager := allocator.NewManager(pool, store, bus, collector, logger)

	execCfg, err := cfg.Executor.Executor()
	if err != nil {
		logger.Fatal("invalid executor config", zap.Error(err))
	}
	// External collaborators attach here when their transports are
	// configured; nil collaborators fail the matching step types cleanly.
	exec := executor.NewExecutor(execCfg, nil, nil, nil, collector, logger)
	for _, component := range []string{executor.GuardToolRunner, executor.GuardCodeSandbox, executor.GuardHTTPClient} {
		exec.SetGuard(component, breakers.Get(component))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	NewServer(manager, exec, publisher, logger).Routes(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http endpoint listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		publisher.Stop(shutdownCtx)
		if otelProviders != nil {
			if err := otelProviders.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", zap.Error(err))
			}
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("swarmflow exited", zap.Error(err))
	}
	logger.Info("swarmflow stopped")
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func printVersion() {
	fmt.Printf("swarmflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`swarmflow - tiered execution orchestrator

Usage:
  swarmflow <command> [options]

Commands:
  serve     Start the orchestrator daemon
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  swarmflow serve
  swarmflow serve --config /etc/swarmflow/config.yaml`)
}
