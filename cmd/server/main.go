package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/tmhistory/service/config"
	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/history"
	"github.com/brojonat/tmhistory/service/metrics"
	natspkg "github.com/brojonat/tmhistory/service/nats"
	"github.com/brojonat/tmhistory/service/server"
	"github.com/brojonat/tmhistory/service/temporal"
	"github.com/brojonat/tmhistory/service/txsearch"
	"github.com/joho/godotenv"
)

func main() {
	// Pick up a local .env when present
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"backend", cfg.QueryBackend,
		"log_level", cfg.LogLevel,
	)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize the indexer source and query pipeline
	source, err := txsearch.NewSource(cfg.QueryBackend, cfg.Endpoint(), &http.Client{})
	if err != nil {
		logger.Error("failed to create indexer source", "error", err)
		os.Exit(1)
	}
	executor := txsearch.NewExecutor(source, cfg.ExecutorConfig(), metricsCollector, logger)
	aggregator := txsearch.NewAggregator(
		executor,
		cosmos.NewDecoder(cfg.AttributeEncoding),
		cfg.MaxConcurrentQueries,
		metricsCollector,
		logger,
	)
	logger.Info("initialized indexer source", "backend", source.Name(), "url", cfg.Endpoint())

	// Initialize NATS publisher (optional)
	var publisher history.Publisher
	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	fetcher := history.NewFetcher(aggregator, history.Config{
		Backend: source.Name(),
		Angles:  cfg.Angles(),
		Timeout: cfg.FetchTimeout,
	}, publisher, metricsCollector, logger)

	// Initialize Temporal client (optional). Without it the workflow
	// route is not registered.
	var workflows server.WorkflowStarter
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Warn("temporal unavailable, durable fetches disabled", "error", err)
	} else {
		defer temporalClient.Close()
		workflows = temporalClient.WithPublish(publisher != nil).WithDefaultAngles(cfg.Angles())
	}

	cache := server.NewReportCache(cfg.ReportCacheSize, cfg.ReportCacheTTL, metricsCollector)

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, fetcher, workflows, cache, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"backend", source.Name(),
		"angles", len(cfg.Angles()),
		"nats_enabled", publisher != nil,
		"workflows_enabled", workflows != nil,
		"report_cache_size", cfg.ReportCacheSize,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
