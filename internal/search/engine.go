// Package search provides the retrieval engine: embed a question, search the vector store,
// and write embedded chunks to it.
package search

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Engine runs vector retrieval over one embedder and one vector store.
type Engine struct {
	embedder embedding.Embedder
	store    vector.VectorStore
	topK     int
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = utils.OrNop(logger)
	}
}

// NewEngine creates a retrieval engine. topK is the default result count for Retrieve.
func NewEngine(embedder embedding.Embedder, store vector.VectorStore, topK int, opts ...Option) *Engine {
	if topK <= 0 {
		topK = 5
	}
	e := &Engine{
		embedder: embedder,
		store:    store,
		topK:     topK,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embedder returns the engine's embedder.
func (e *Engine) Embedder() embedding.Embedder { return e.embedder }

// Store returns the engine's vector store.
func (e *Engine) Store() vector.VectorStore { return e.store }

// Retrieve returns up to topK documents most similar to query. topK <= 0 uses the configured default.
// No match yields an empty slice.
func (e *Engine) Retrieve(ctx context.Context, query string, topK int) ([]models.SearchResult, error) {
	return e.RetrieveFiltered(ctx, query, topK, nil)
}

// RetrieveFiltered is Retrieve restricted to documents matching filter.
func (e *Engine) RetrieveFiltered(ctx context.Context, query string, topK int, filter vector.Filter) ([]models.SearchResult, error) {
	if topK <= 0 {
		topK = e.topK
	}
	queryEmbedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, e.embeddingError(err)
	}
	if dim := e.embedder.Dimensions(); dim > 0 && len(queryEmbedding) != dim {
		return nil, &backend.DimensionMismatchError{Expected: dim, Got: len(queryEmbedding), Index: -1}
	}

	results, err := e.store.Search(ctx, queryEmbedding, topK, filter)
	if err != nil {
		return nil, e.storeError("search", err)
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	e.logger.Debug("retrieved documents",
		zap.Int("requested", topK),
		zap.Int("found", len(results)),
	)
	return results, nil
}

// AddDocuments embeds docs in one batch and upserts them. Every vector must match the
// embedder's width; nothing is written otherwise.
func (e *Engine) AddDocuments(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i := range docs {
		texts[i] = docs[i].Text
	}

	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return e.embeddingError(err)
	}
	if len(embeddings) != len(docs) {
		return &backend.BatchSizeMismatchError{Expected: len(docs), Got: len(embeddings)}
	}
	if _, err := backend.CheckDimensions(embeddings, e.embedder.Dimensions()); err != nil {
		return err
	}

	if err := e.store.AddDocuments(ctx, docs, embeddings); err != nil {
		return e.storeError("add", err)
	}
	e.logger.Debug("added documents", zap.Int("count", len(docs)))
	return nil
}

// DeleteDocuments removes ids from the store. Empty ids is a no-op.
func (e *Engine) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.store.DeleteDocuments(ctx, ids); err != nil {
		return e.storeError("delete", err)
	}
	return nil
}

// DeleteAll empties the store.
func (e *Engine) DeleteAll(ctx context.Context) error {
	if err := e.store.DeleteAll(ctx); err != nil {
		return e.storeError("delete all", err)
	}
	return nil
}

// Stats returns the store's best-effort statistics.
func (e *Engine) Stats(ctx context.Context) vector.Stats {
	return e.store.Stats(ctx)
}

// embeddingError wraps provider failures. Integrity and already typed errors pass through.
func (e *Engine) embeddingError(err error) error {
	if errors.Is(err, backend.ErrIntegrity) || errors.Is(err, backend.ErrProvider) || errors.Is(err, backend.ErrConfiguration) {
		return err
	}
	return &backend.EmbeddingError{Backend: e.embedder.Name(), Err: err}
}

func (e *Engine) storeError(op string, err error) error {
	if errors.Is(err, backend.ErrIntegrity) || errors.Is(err, backend.ErrProvider) {
		return err
	}
	return &backend.StoreError{Backend: e.store.Name(), Op: op, Err: err}
}
