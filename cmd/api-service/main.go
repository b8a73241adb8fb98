package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cuongbtq/narra-sync/internal/api/handler"
	"github.com/cuongbtq/narra-sync/internal/api/router"
	"github.com/cuongbtq/narra-sync/internal/backend/midjourney"
	"github.com/cuongbtq/narra-sync/internal/config"
	"github.com/cuongbtq/narra-sync/internal/orchestrator"
	"github.com/cuongbtq/narra-sync/internal/pipeline"
	"github.com/cuongbtq/narra-sync/shared/logger"
	"github.com/cuongbtq/narra-sync/shared/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("failed to apply environment: %w", err)
	}
	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "narra-sync-api", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracer()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, metrics, registry)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("server failed to start: %w", err)
	}

	appLogger.Info("Shutting down server...")

	// in-flight batches get the shutdown timeout to finish
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initRouter wires the pipelines into the Gin router
func initRouter(cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics, registry *prometheus.Registry) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	orch := orchestrator.New(
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
	)
	backends := pipeline.NewBackends(cfg, logger, metrics)
	checkProxy(backends, logger)

	handlerDeps := &handler.Dependencies{
		Logger:    logger,
		Voice:     pipeline.NewVoice(orch, backends, cfg.Output.AudioDir, logger),
		Images:    pipeline.NewImages(orch, backends, pipeline.Policy(cfg.Orchestrator), cfg.Output, logger),
		Speakers:  backends.VoiceVox(),
		OutputDir: cfg.Output.Dir,
		Gatherer:  registry,
	}

	return router.SetupRouter(handlerDeps)
}

// checkProxy warns when the midjourney proxy does not answer; image batches
// against it will fail until it does
func checkProxy(backends *pipeline.Backends, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := backends.Preflight(ctx, midjourney.Name); err != nil {
		logger.Warn("Midjourney proxy unavailable",
			slog.Any("error", err),
		)
	}
}
