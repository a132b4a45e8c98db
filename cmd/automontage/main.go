package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"automontage/internal/cli"
	"automontage/internal/config"
	"automontage/internal/features/orb"
	"automontage/internal/logging"
	"automontage/internal/pipeline"
	"automontage/internal/session"
	"automontage/internal/storage"
	"automontage/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		log = logging.New(cfg.Logging.Level, cfg.Logging.Format)
		log.Warn("file logging unavailable", "error", err)
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		log.Warn("run history disabled", "db", cfg.Paths.DatabasePath, "error", err)
		store = nil
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extractor := orb.New(orb.Options{MaxFeatures: cfg.Features.MaxFeatures})
	loader := &session.Loader{Extractor: extractor, Logger: log, Workers: cfg.Processing.LoadWorkers}
	montager := tasks.NewMontager(loader, store, log)

	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, log, store, cfg, montager)
	defer pipe.Stop()

	return cli.NewRootCmd(cfg, log, store, pipe).ExecuteContext(ctx)
}
