// Package vector provides the VectorStore contract and its backends: an in-process
// store persisted to a file, Qdrant, Weaviate and PostgreSQL with pgvector.
package vector

import (
	"context"

	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
)

// VectorStore stores chunk documents with their embeddings and answers similarity queries.
type VectorStore interface {
	// Name is the registry name of the backend.
	Name() string
	// AddDocuments upserts docs by id. docs and embeddings are parallel slices.
	AddDocuments(ctx context.Context, docs []models.Document, embeddings [][]float32) error
	// Search returns up to topK documents ordered by descending similarity.
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]models.SearchResult, error)
	// DeleteDocuments removes the given ids. Unknown ids are ignored.
	DeleteDocuments(ctx context.Context, ids []string) error
	// DeleteAll removes every document and releases the store's dimension.
	DeleteAll(ctx context.Context) error
	IsAvailable(ctx context.Context) bool
	// Stats is best-effort and reports zero on any error.
	Stats(ctx context.Context) Stats
	Close() error
}

// Stats summarizes a store.
type Stats struct {
	DocumentCount int `json:"document_count"`
}

// Filter restricts a search to documents whose metadata equals every given value.
type Filter map[string]string

// Matches reports whether doc satisfies every condition of f.
func (f Filter) Matches(doc *models.Document) bool {
	for k, v := range f {
		if doc.MetaString(k) != v {
			return false
		}
	}
	return true
}

// checkBatch validates a write batch against the store's width. dim 0 means unbound.
// It returns the width the batch is bound to.
func checkBatch(docs []models.Document, embeddings [][]float32, dim int) (int, error) {
	if len(docs) != len(embeddings) {
		return dim, &backend.BatchSizeMismatchError{Expected: len(docs), Got: len(embeddings)}
	}
	return backend.CheckDimensions(embeddings, dim)
}

// NewRegistry returns the static table of vector store backends.
func NewRegistry() *backend.Registry[VectorStore] {
	r := backend.NewRegistry[VectorStore]("vector_db")
	r.Register("memory", func(cfg *config.Config) (VectorStore, error) {
		return NewMemoryStore(cfg.Storage.VectorPath)
	})
	r.Register("qdrant", func(cfg *config.Config) (VectorStore, error) {
		s := cfg.Backend("qdrant")
		return NewQdrantStore(QdrantConfig{
			BaseURL:    s.BaseURL,
			APIKey:     s.APIKey,
			Collection: cfg.VectorDB.Collection,
			Timeout:    cfg.VectorDB.Timeout,
		})
	})
	r.Register("weaviate", func(cfg *config.Config) (VectorStore, error) {
		s := cfg.Backend("weaviate")
		return NewWeaviateStore(WeaviateConfig{
			BaseURL:    s.BaseURL,
			APIKey:     s.APIKey,
			Headers:    s.Headers,
			Collection: cfg.VectorDB.Collection,
			Timeout:    cfg.VectorDB.Timeout,
		})
	})
	r.Register("pgvector", func(cfg *config.Config) (VectorStore, error) {
		s := cfg.Backend("pgvector")
		return NewPgVectorStore(PgVectorConfig{
			DSN:   s.DSN,
			Table: cfg.VectorDB.Collection,
		})
	})
	return r
}

// New resolves the configured vector store backend.
func New(cfg *config.Config) (VectorStore, error) {
	return NewRegistry().New(cfg.VectorDB.Backend, cfg)
}
