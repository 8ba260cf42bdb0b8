// Package embedding provides the Embedder contract, its backends and an embedding cache.
package embedding

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/config"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	// Name is the registry name of the backend, used in errors and logs.
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts in one provider round trip where the provider allows it.
	// The result has the same length and order as texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is fixed for the lifetime of the embedder.
	Dimensions() int
	// IsAvailable probes the backend. It never returns an error.
	IsAvailable(ctx context.Context) bool
	Close() error
}

// NewRegistry returns the static table of embedding backends.
func NewRegistry() *backend.Registry[Embedder] {
	r := backend.NewRegistry[Embedder]("embedder")
	r.Register("openai", func(cfg *config.Config) (Embedder, error) {
		s := cfg.Backend("openai")
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     s.APIKey,
			BaseURL:    s.BaseURL,
			Model:      cfg.Embedder.Model,
			Dimensions: cfg.Embedder.Dimensions,
			Timeout:    cfg.Embedder.Timeout,
		})
	})
	r.Register("ollama", func(cfg *config.Config) (Embedder, error) {
		s := cfg.Backend("ollama")
		return NewOllamaEmbedder(OllamaConfig{
			BaseURL:    s.BaseURL,
			Model:      cfg.Embedder.Model,
			Dimensions: cfg.Embedder.Dimensions,
			Timeout:    cfg.Embedder.Timeout,
		})
	})
	r.Register("sentence_transformers", func(cfg *config.Config) (Embedder, error) {
		s := cfg.Backend("sentence_transformers")
		return NewONNXEmbedder(s.ModelPath, cfg.Embedder.Dimensions, s.MaxTokens)
	})
	r.Register("hash", func(cfg *config.Config) (Embedder, error) {
		return NewHashEmbedder(cfg.Embedder.Dimensions), nil
	})
	return r
}

// New resolves the configured embedding backend and wraps it with the configured cache.
func New(cfg *config.Config) (Embedder, error) {
	e, err := NewRegistry().New(cfg.Embedder.Backend, cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Embedder.Cache {
	case "memory":
		return NewCachedEmbedder(e, NewLRUCache(cfg.Embedder.CacheSize)), nil
	case "redis":
		s := cfg.Backend("redis")
		client := redis.NewClient(&redis.Options{
			Addr:     s.BaseURL,
			Password: s.Password,
			DB:       s.DB,
		})
		return NewCachedEmbedder(e, NewRedisCache(client, cfg.Embedder.CacheTTL)), nil
	case "":
		return e, nil
	default:
		_ = e.Close()
		return nil, &backend.ConfigurationError{Backend: "embedder", Message: fmt.Sprintf("unknown cache %q", cfg.Embedder.Cache)}
	}
}
