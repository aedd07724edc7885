package main

import (
	"context"
	"fmt"

	"taskgraph/internal/config"
	"taskgraph/internal/domain"
	"taskgraph/internal/pipeline"
	"taskgraph/internal/services"
	"taskgraph/internal/storage"
)

// transcripts is the slice of the pipeline the commands use.
type transcripts interface {
	Process(ctx context.Context, transcript string) (*domain.TranscriptResult, error)
	Get(ctx context.Context, hash string) (*domain.TranscriptResult, error)
	Record(ctx context.Context, hash string) (domain.TranscriptRecord, error)
	List(ctx context.Context) ([]domain.TranscriptSummary, error)
	Delete(ctx context.Context, hash string) error
}

type appOpener func() (transcripts, func() error, error)

// openApp wires the same pipeline the server runs, against the configured store.
func openApp() (transcripts, func() error, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()

	store, err := storage.Open(cfg.StoreDriver, cfg.DataDir, cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	cache, err := pipeline.NewResultCache(cfg.CacheSize)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	orch := pipeline.NewOrchestrator(store, services.NewOpenAIExtractor(cfg), pipeline.MustNewValidator(), cache, pipeline.Options{
		ExtractTimeout: cfg.ExtractTimeout,
		Logger:         logger,
	})
	closeApp := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ExtractTimeout)
		defer cancel()
		if err := orch.Shutdown(ctx); err != nil {
			logger.Warn("pipeline shutdown", "error", err)
		}
		return store.Close()
	}
	return orch, closeApp, nil
}
