package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"taskgraph/internal/config"
	httpserver "taskgraph/internal/http"
	"taskgraph/internal/pipeline"
	"taskgraph/internal/services"
	"taskgraph/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := cfg.NewLogger()

	store, err := storage.Open(cfg.StoreDriver, cfg.DataDir, cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	cache, err := pipeline.NewResultCache(cfg.CacheSize)
	if err != nil {
		logger.Error("failed to create cache", "error", err)
		os.Exit(1)
	}

	orch := pipeline.NewOrchestrator(store, services.NewOpenAIExtractor(cfg), pipeline.MustNewValidator(), cache, pipeline.Options{
		ExtractTimeout: cfg.ExtractTimeout,
		Logger:         logger,
		OnStage: func(hash string, stage pipeline.Stage) {
			logger.Debug("pipeline stage", "hash", hash, "stage", stage)
		},
	})
	jobs := pipeline.NewJobManager(orch, logger)

	srv, err := httpserver.NewServer(cfg, httpserver.Deps{Transcripts: orch, Jobs: jobs, Logger: logger})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped with error", "error", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		logger.Error("job shutdown", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown", "error", err)
	}
}
