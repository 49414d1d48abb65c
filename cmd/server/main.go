// Command server runs the gridcast forecast engine: an HTTP API for
// submitting, polling and cancelling background energy-demand forecast
// jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkaravia/gridcast/internal/config"
	"github.com/mkaravia/gridcast/internal/database"
	"github.com/mkaravia/gridcast/internal/dataset"
	"github.com/mkaravia/gridcast/internal/history"
	"github.com/mkaravia/gridcast/internal/jobs"
	"github.com/mkaravia/gridcast/internal/orchestrator"
	"github.com/mkaravia/gridcast/internal/reliability"
	"github.com/mkaravia/gridcast/internal/scheduler"
	"github.com/mkaravia/gridcast/internal/server"
	"github.com/mkaravia/gridcast/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("artifacts_dir", cfg.ArtifactsDir).
		Int("max_jobs", cfg.Engine.MaxConcurrentJobs).
		Msg("gridcast starting")

	db, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "history.db"),
		Name: "history",
	})
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer db.Close()

	historyRepo, err := history.NewRepository(db, log)
	if err != nil {
		return fmt.Errorf("failed to initialize run history: %w", err)
	}

	provider := dataset.NewCachingProvider(
		dataset.NewCSVLoader(cfg.DataDir, log),
		cfg.Engine.DatasetCacheTTL,
		log,
	)

	manager := jobs.NewManager(cfg.Engine, log)
	store := orchestrator.NewStore(cfg.ArtifactsDir, log)

	var backup orchestrator.Backuper
	if cfg.Backup.Enabled() {
		s3backup, err := reliability.NewS3Backup(context.Background(), cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to initialize artifact backup: %w", err)
		}
		backup = s3backup
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Artifact backup enabled")
	}

	orch := orchestrator.New(manager, provider, store, cfg.Engine, backup, historyRepo, log)

	sched := scheduler.New(log)
	// @every accepts any duration, including sub-minute intervals and
	// intervals that do not divide an hour evenly.
	sweepSchedule := fmt.Sprintf("@every %s", cfg.Engine.SweepInterval)
	if err := sched.AddJob(sweepSchedule, jobs.NewSweepJob(manager, log)); err != nil {
		return fmt.Errorf("failed to register sweep job: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(cfg, manager, orch, historyRepo, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	return waitForShutdown(srv, errCh, log)
}

// waitForShutdown blocks until a termination signal or a server error, then
// drains gracefully. In-flight job workers are not interrupted; they are
// abandoned at process exit, which the stall sweep would have reported had
// the process kept running.
func waitForShutdown(srv *server.Server, errCh <-chan error, log zerolog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Info().Msg("gridcast stopped")
	return nil
}
