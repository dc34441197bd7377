package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/expensetrack/internal/categorize"
	"github.com/Veraticus/expensetrack/internal/config"
	"github.com/Veraticus/expensetrack/internal/matching"
	"github.com/Veraticus/expensetrack/internal/normalize"
	"github.com/Veraticus/expensetrack/internal/report"
	"github.com/Veraticus/expensetrack/internal/service"
	"github.com/Veraticus/expensetrack/internal/storage"
)

// app bundles the collaborators a command needs.
type app struct {
	store      *storage.SQLiteStorage
	normalizer *normalize.Normalizer
	embedder   service.Embedder
	matcher    *matching.Engine
	cfg        *config.Config
	closers    []io.Closer
}

// openApp opens and migrates the database and wires the engines.
func openApp(ctx context.Context) (*app, error) {
	cfg := appCfg

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a := &app{store: store, cfg: cfg, closers: []io.Closer{store}}

	if err := store.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a.normalizer, err = normalize.Load(cfg.Normalize.PatternsFile)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load normalization rules: %w", err)
	}

	a.matcher, err = matching.NewEngine(store, cfg.MatchingConfig())
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Close releases everything the app opened.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("Failed to close resource", "error", err)
		}
	}
}

func (a *app) userID() string {
	return a.cfg.User.ID
}

// embedding returns the configured embedder, creating it on first use.
func (a *app) embedding(ctx context.Context) (service.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}

	switch a.cfg.Categorization.Embedder {
	case config.EmbedderGemini:
		gemini, err := categorize.NewGeminiEmbedder(ctx, a.cfg.Categorization.GeminiAPIKey, a.cfg.Categorization.GeminiModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gemini)
		a.embedder = gemini
	default:
		a.embedder = categorize.NewHashingEmbedder(a.cfg.Categorization.EmbeddingDims)
	}
	return a.embedder, nil
}

// categorizer builds the alias, description cache and embedding tier chain.
func (a *app) categorizer(ctx context.Context) (*categorize.Engine, error) {
	embedder, err := a.embedding(ctx)
	if err != nil {
		return nil, err
	}
	return categorize.NewEngine(a.cfg.Categorization.LookupTimeout,
		categorize.NewAliasTier(a.store),
		categorize.NewDescriptionCacheTier(a.store),
		categorize.NewEmbeddingTier(embedder, a.store, a.cfg.Categorization.EmbeddingThreshold),
	), nil
}

// generator builds the report generator.
func (a *app) generator(ctx context.Context) (*report.Generator, error) {
	categorizer, err := a.categorizer(ctx)
	if err != nil {
		return nil, err
	}
	return report.NewGenerator(a.store, categorizer, a.cfg.ReportConfig(),
		report.WithNormalizer(a.normalizer),
		report.WithPredictions(categorize.NewPatternPredictor(a.store, a.store, a.normalizer)),
	)
}
