/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Contralor Interno register server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load .env / environment
  2. Build the zap logger, install the tracer provider
  3. Initialize the store (SQLite or in-memory)
  4. Load the category catalog, build the dicose engine and API handler
  5. Start the compliance scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port (APP_PORT, default: 8080)
  -db      SQLite database path (DB_PATH, default: contralor.db)
           Use ":memory:" for an in-memory SQLite database
  -store   "sqlite" (default) or "memory"
  -env     Path to a .env file (default: .env if present)

ENVIRONMENT:
  APP_PORT, DB_PATH, LOG_LEVEL, TIMEZONE, COMPLIANCE_CRON,
  COMPLIANCE_ENABLED, DEADLINE_DAYS, DEADLINE_WARNING_DAYS,
  CORS_ALLOWED_ORIGINS, RATE_LIMIT_RPS, RATE_LIMIT_BURST,
  OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE,
  OTEL_SERVICE_NAME, OTEL_SAMPLE_RATIO, CATEGORIES_FILE

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the compliance scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Flush pending spans
  5. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment keys
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/contralor/api"
	"github.com/warp/contralor/config"
	"github.com/warp/contralor/dicose"
	"github.com/warp/contralor/factory"
	"github.com/warp/contralor/logger"
	"github.com/warp/contralor/store/memory"
	"github.com/warp/contralor/store/sqlite"
	"github.com/warp/contralor/telemetry"
	"go.uber.org/zap"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides APP_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	storeKind := flag.String("store", "sqlite", `Store backend: "sqlite" or "memory"`)
	envFile := flag.String("env", "", "Path to .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log := logger.Must(logger.New(cfg.Log.Level))
	defer log.Sync()

	shutdownTracing, err := telemetry.Setup(context.Background(), telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, logger.Named(log, "telemetry"))
	if err != nil {
		log.Fatal("failed to set up tracing", zap.Error(err))
	}

	// Initialize store
	var store api.Store
	switch *storeKind {
	case "memory":
		store = memory.New()
		log.Info("using in-memory store")
	case "sqlite":
		s, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			log.Fatal("failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
		}
		defer s.Close()
		store = s
		log.Info("using sqlite store", zap.String("path", cfg.Database.Path))
	default:
		log.Fatal("unknown store backend", zap.String("store", *storeKind))
	}

	var categories *dicose.Categories
	if cfg.Catalog.File != "" {
		categories, err = factory.NewCatalogFactory().LoadFile(cfg.Catalog.File)
		if err != nil {
			log.Fatal("failed to load category catalog", zap.String("file", cfg.Catalog.File), zap.Error(err))
		}
		log.Info("loaded category catalog", zap.String("file", cfg.Catalog.File), zap.Int("categories", len(categories.List())))
	}

	engine := dicose.NewEngine(store, dicose.Options{
		Deadlines: dicose.Deadlines{
			LimitDays:    cfg.Compliance.DeadlineDays,
			WarnFromDays: cfg.Compliance.DeadlineWarnDays,
		},
		Categories: categories,
		Logger:     logger.Named(log, "engine"),
	})

	handler := api.NewHandler(store, engine, logger.Named(log, "api"))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		WritesPerSecond: cfg.Server.WritesPerSecond,
		WriteBurst:      cfg.Server.WriteBurst,
	})

	scheduler := api.NewComplianceScheduler(engine, cfg.Compliance.CronSchedule,
		cfg.Compliance.Location(), logger.Named(log, "scheduler"))
	scheduler.Enabled = cfg.Compliance.Enabled
	if err := scheduler.Start(); err != nil {
		log.Fatal("failed to start compliance scheduler", zap.Error(err))
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Error("failed to flush traces", zap.Error(err))
	}

	log.Info("server stopped")
}
