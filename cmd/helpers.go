package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/raglet/raglet/internal/auditlog"
	"github.com/raglet/raglet/internal/config"
	"github.com/raglet/raglet/internal/criticality"
	"github.com/raglet/raglet/internal/docstore"
	"github.com/raglet/raglet/internal/embeddings"
	"github.com/raglet/raglet/internal/enrich"
	"github.com/raglet/raglet/internal/gitcli"
	"github.com/raglet/raglet/internal/llm"
	"github.com/raglet/raglet/internal/parser"
	"github.com/raglet/raglet/internal/pipeline"
	"github.com/raglet/raglet/internal/progress"
	"github.com/raglet/raglet/internal/reconcile"
)

// loadConfig loads and validates the config; validation failures carry
// config.ErrInvalid and map to exit code 3.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `raglet init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger: JSON lines on stderr, level from
// --verbose or LOG_LEVEL.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case cfg.LogLevel != "":
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
			level = parsed
		}
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openStore connects the configured document store backend.
func openStore(cfg *config.Config) (docstore.Store, error) {
	switch cfg.DocStore.Provider {
	case config.StoreEmbedded:
		store, err := docstore.OpenEmbedded(cfg.DocStore.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("opening embedded store at %s: %w", cfg.DocStore.Path, err)
		}
		return store, nil
	default:
		return docstore.NewHTTPStore(cfg.DocStore.Host, cfg.DocStore.User, cfg.DocStore.Password, cfg.DocStore.Bucket), nil
	}
}

func newEmbeddingEngine(cfg *config.Config) (*embeddings.Engine, error) {
	embedder, err := embeddings.NewEmbedder(
		string(cfg.Embedding.Provider),
		cfg.Embedding.Endpoint,
		cfg.Embedding.Model,
		cfg.Embedding.APIKey,
		cfg.Embedding.Dim,
		cfg.Embedding.Batch,
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embeddings.NewEngine(embedder), nil
}

// buildPipeline assembles the full ingestion pipeline from configuration.
// The returned cleanup releases the parse pool and the commit cache; the
// store stays owned by the caller.
func buildPipeline(cfg *config.Config, store docstore.Store, logger *slog.Logger) (*pipeline.Pipeline, func(), error) {
	provider, err := llm.NewProvider(string(cfg.LLM.Provider), cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.APIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	engine, err := newEmbeddingEngine(cfg)
	if err != nil {
		return nil, nil, err
	}

	git := gitcli.New(logger)
	cache, err := gitcli.OpenCache(filepath.Join(cfg.ReposPath, ".raglet", "gitmeta.db"))
	if err != nil {
		// The cache only saves `git log` calls; run without it.
		logger.Warn("cmd.commit_cache_unavailable", "error", err)
		cache = nil
	}

	p := pipeline.New(pipeline.Deps{
		Config:   cfg,
		Git:      git,
		Cache:    cache,
		Store:    store,
		Enricher: enrich.New(provider, cfg.LLM.Model, logger),
		Engine:   engine,
		Parser:   parser.New(logger),
		Planner:  reconcile.NewPlanner(store, cfg.ReposPath, cfg.ReposAPIURL, cfg.ReposFile, logger),
		Detector: reconcile.NewDetector(git, store, cfg.FullReingestThreshold, logger),
		Recorder: auditlog.NewRecorder(store, Version, logger),
		Scorer:   criticality.NewScorer(store, logger),
		Reporter: progress.NewReporter(),
		Logger:   logger,
		Version:  Version,
	})
	cleanup := func() {
		p.Close()
		if cache != nil {
			if err := cache.Close(); err != nil {
				logger.Warn("cmd.commit_cache_close", "error", err)
			}
		}
	}
	return p, cleanup, nil
}
