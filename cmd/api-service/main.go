package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxsplit/voxsplit-be/internal/agent"
	"github.com/voxsplit/voxsplit-be/internal/api/handler"
	"github.com/voxsplit/voxsplit-be/internal/api/router"
	"github.com/voxsplit/voxsplit-be/internal/config"
	"github.com/voxsplit/voxsplit-be/internal/jobstore"
	"github.com/voxsplit/voxsplit-be/internal/metrics"
	"github.com/voxsplit/voxsplit-be/internal/quota"
	"github.com/voxsplit/voxsplit-be/internal/recorder"
	"github.com/voxsplit/voxsplit-be/internal/sweeper"
	"github.com/voxsplit/voxsplit-be/shared/logger"
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
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
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

	// Prepare the job storage root
	if err := os.MkdirAll(cfg.Jobs.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create jobs dir: %w", err)
	}

	// Hold an instance lock inside the jobs root so two processes never
	// sweep the same tree
	instanceLock := flock.New(filepath.Join(cfg.Jobs.Dir, ".voxsplit.lock"))
	locked, err := instanceLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("jobs dir %s is already served by another instance", cfg.Jobs.Dir)
	}
	defer instanceLock.Unlock()

	// Prepare the request record file: create the parent and probe an
	// append open. Failure is logged, not fatal - auditing is best-effort.
	prepareRecordFile(cfg.Records.File, appLogger.Logger)

	// Wire the core components
	reg := prometheus.NewRegistry()
	appMetrics := metrics.New(reg)
	ledger := quota.NewLedger(cfg.Quota.DailyLimit)
	store := jobstore.New(cfg.Jobs.Dir, appLogger.Logger)
	runner := agent.NewSubprocess(cfg.Agent.PythonBin, cfg.Agent.Script, appLogger.Logger)
	records := recorder.New(cfg.Records.File, appLogger.Logger)

	// Start the expiry sweeper (no-op when TTL is 0)
	sw := sweeper.New(
		cfg.Jobs.Dir,
		time.Duration(cfg.Jobs.TTLSeconds)*time.Second,
		time.Duration(cfg.Jobs.CleanupIntervalSeconds)*time.Second,
		appLogger.Logger,
	)
	sw.OnExpired(appMetrics.JobsExpired.Inc)
	sw.Start()
	defer sw.Stop()

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, ledger, store, runner, records, appMetrics, reg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Int("daily_limit", cfg.Quota.DailyLimit),
		slog.Int("jobs_ttl_seconds", cfg.Jobs.TTLSeconds),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

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

// initLogger initializes and configures the application logger. When a log
// directory is configured, records also go to backend.log inside it.
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	output := cfg.Output
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log dir: %w", err)
		}
		output = filepath.Join(cfg.Dir, "backend.log")
	}

	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// prepareRecordFile creates the record file's parent directory and verifies
// the file can be opened for append
func prepareRecordFile(path string, log *slog.Logger) {
	if parent := filepath.Dir(path); parent != "." && parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			log.Error("Failed to create request record dir",
				slog.String("path", parent),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Error("Failed to initialize request record file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	file.Close()
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(
	cfg *config.Config,
	log *slog.Logger,
	ledger *quota.Ledger,
	store *jobstore.Store,
	runner agent.Runner,
	records *recorder.Recorder,
	appMetrics *metrics.Metrics,
	reg *prometheus.Registry,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps := &handler.Dependencies{
		Logger:    log,
		Ledger:    ledger,
		Store:     store,
		Agent:     runner,
		Recorder:  records,
		Metrics:   appMetrics,
		BypassKey: strings.TrimSpace(cfg.Quota.BypassKey),
	}

	return router.SetupRouter(deps, router.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Registry:       reg,
	})
}
