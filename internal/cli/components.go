package cli

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/content"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Store        *storage.SQLiteStore
	Embedder     embedding.Embedder
	Vectors      vector.VectorStore
	Engine       *search.Engine
	Source       *content.FileSource
	Indexer      *indexer.Indexer
	Model        llm.LanguageModel
	Orchestrator *query.Orchestrator
	Metrics      *metrics.Recorder
}

// Close releases every backend that was created.
func (c *Components) Close() {
	if c.Model != nil {
		_ = c.Model.Close()
	}
	if c.Vectors != nil {
		_ = c.Vectors.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// initializeComponents builds everything indexing needs: bookkeeping, embedder, vector
// store, retrieval engine, content source and indexer.
func initializeComponents(cfg *config.Config, logger *zap.Logger, rec *metrics.Recorder) (_ *Components, err error) {
	c := &Components{Metrics: rec}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Store, err = storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Embedder, err = embedding.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Vectors, err = vector.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	logger.Info("backends initialized",
		zap.String("embedder", c.Embedder.Name()),
		zap.Int("dimensions", c.Embedder.Dimensions()),
		zap.String("vector_db", c.Vectors.Name()),
	)

	c.Engine = search.NewEngine(c.Embedder, c.Vectors, cfg.Retrieval.TopK, search.WithLogger(logger))

	c.Source, err = content.NewFileSource(cfg.Content.Directory,
		content.WithLogger(logger),
		content.WithExtensions(cfg.Content.Extensions),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open content directory: %w", err)
	}

	chunker, err := indexer.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.OverlapOrDefault())
	if err != nil {
		return nil, err
	}
	c.Indexer = indexer.NewIndexer(c.Source, c.Store, c.Engine, chunker,
		indexer.WithLogger(logger),
		indexer.WithMetrics(rec),
		indexer.WithPageTypes(cfg.Retrieval.PageTypes),
	)
	return c, nil
}

// attachAssistant adds the language model and the query orchestrator. When lenient is set a
// model that cannot be constructed is reported as unavailable instead of failing.
func (c *Components) attachAssistant(cfg *config.Config, logger *zap.Logger, lenient bool) error {
	model, err := llm.New(cfg)
	if err != nil {
		if !lenient {
			return fmt.Errorf("failed to initialize language model: %w", err)
		}
		logger.Warn("language model unavailable", zap.Error(err))
		model = unavailableModel{name: cfg.LLM.Backend, err: err}
	}
	c.Model = model

	prompt := generation.NewPromptTemplate(cfg.Assistant.SystemPrompt, cfg.Assistant.PromptTemplate)
	generator := generation.NewGenerator(model,
		generation.WithLogger(logger),
		generation.WithPrompt(prompt),
	)
	c.Orchestrator = query.NewOrchestrator(c.Engine, generator,
		query.WithLogger(logger),
		query.WithMetrics(c.Metrics),
		query.WithStats(c.Store),
		query.WithEnabled(cfg.Assistant.EnabledOrDefault()),
		query.WithTopK(cfg.Retrieval.TopK),
	)
	return nil
}

// unavailableModel stands in for a language model whose configuration is broken.
type unavailableModel struct {
	name string
	err  error
}

func (m unavailableModel) Name() string { return m.name }

func (m unavailableModel) Generate(context.Context, string, string) (string, error) {
	return "", m.err
}

func (m unavailableModel) StreamGenerate(context.Context, string, string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) { yield("", m.err) }
}

func (m unavailableModel) IsAvailable(context.Context) bool { return false }

func (m unavailableModel) Close() error { return nil }
