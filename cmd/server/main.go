/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and configuration
  2. Build the zap logger
  3. Open the SQLite store
  4. Seed statutory tax tables and the optional tax table file
  5. Build services, handler and router
  6. Start the overdue scheduler and the HTTP server
  7. Graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)
  -env     Path to a .env file (default: .env, ignored if missing)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests (server.shutdown_timeout)
  4. Close database connection

EXAMPLES:
  ./server -config=./config.yaml
  PAYROLL_DATABASE_PATH=":memory:" PAYROLL_LOGGER_FORMAT=console ./server

SEE ALSO:
  - config/config.go: Settings and environment overrides
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payrun"
	"github.com/warp/payroll-engine/purchase"
	"github.com/warp/payroll-engine/store/sqlite"
	"github.com/warp/payroll-engine/tax"
	"github.com/warp/payroll-engine/wageadvance"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	envPath := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		OutputPath: cfg.Logger.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Services
	roster := payroll.NewRoster(store)
	registry := tax.NewRegistry(store)
	if err := seedTaxTables(ctx, cfg.Payroll, registry, logger); err != nil {
		return err
	}
	advances := wageadvance.NewManager(store, roster, cfg.WageAdvance.Policy(), logger)
	payRuns := payrun.NewOrchestrator(store, roster, registry, advances, cfg.Payroll.Orchestrator(), logger)
	orders := purchase.NewService(store, logger)

	handler := api.NewHandler(store, api.Services{
		Registry: registry,
		Roster:   roster,
		PayRuns:  payRuns,
		Advances: advances,
		Orders:   orders,
	}, logger)
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins})

	scheduler := api.NewOverdueScheduler(orders, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.OverdueCheckInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// seedTaxTables publishes statutory tables for every configured jurisdiction
// that has none, then any tables from the configured file that don't exist yet.
func seedTaxTables(ctx context.Context, cfg config.PayrollConfig, registry *tax.Registry, logger *zap.Logger) error {
	if cfg.SeedStatutoryTables {
		jurisdictions := cfg.SeedJurisdictions
		if !slices.Contains(jurisdictions, cfg.DefaultJurisdiction) {
			jurisdictions = append(jurisdictions, cfg.DefaultJurisdiction)
		}
		for _, j := range jurisdictions {
			if err := registry.SeedStatutory(ctx, j); err != nil {
				return fmt.Errorf("failed to seed tax tables for %s: %w", j, err)
			}
		}
		logger.Info("statutory tax tables ready", zap.Strings("jurisdictions", jurisdictions))
	}

	if cfg.TaxTablesFile == "" {
		return nil
	}
	data, err := os.ReadFile(cfg.TaxTablesFile)
	if err != nil {
		return fmt.Errorf("failed to read tax tables file: %w", err)
	}
	tables, err := factory.NewTaxTableFactory().ParseTaxTablesYAML(data)
	if err != nil {
		return err
	}
	published := 0
	for _, t := range tables {
		_, err := registry.Get(ctx, t.ID)
		switch {
		case err == nil:
			continue
		case !generic.IsNotFound(err):
			return err
		}
		if _, err := registry.Publish(ctx, *t); err != nil {
			return fmt.Errorf("failed to publish tax table %s: %w", t.ID, err)
		}
		published++
	}
	logger.Info("tax tables file loaded",
		zap.String("path", cfg.TaxTablesFile),
		zap.Int("tables", len(tables)),
		zap.Int("published", published))
	return nil
}
