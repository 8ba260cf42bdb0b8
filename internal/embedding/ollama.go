package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/provider"
)

// Ensure OllamaEmbedder implements the interface.
var _ Embedder = (*OllamaEmbedder)(nil)

// DefaultOllamaEmbedModel is used when no model is configured.
const DefaultOllamaEmbedModel = "nomic-embed-text"

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OllamaEmbedder calls a local Ollama server.
type OllamaEmbedder struct {
	client     *provider.Client
	model      string
	dimensions int
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates the embedder. The model's width must be configured.
func NewOllamaEmbedder(cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, backend.MissingCredential("ollama", "base_url")
	}
	if cfg.Dimensions <= 0 {
		return nil, &backend.ConfigurationError{Backend: "ollama", Message: "embedding dimensions must be set"}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaEmbedModel
	}
	return &OllamaEmbedder{
		client:     provider.New(provider.Config{Name: "ollama-embeddings", BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Name returns the registry name.
func (e *OllamaEmbedder) Name() string { return "ollama" }

// Embed embeds a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds all texts with one /api/embed call.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp ollamaEmbedResponse
	if err := e.client.PostJSON(ctx, "/api/embed", ollamaEmbedRequest{Model: e.model, Input: texts}, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &backend.BatchSizeMismatchError{Expected: len(texts), Got: len(resp.Embeddings)}
	}
	return resp.Embeddings, nil
}

// Dimensions returns the configured embedding width.
func (e *OllamaEmbedder) Dimensions() int { return e.dimensions }

// IsAvailable checks that the server answers.
func (e *OllamaEmbedder) IsAvailable(ctx context.Context) bool {
	return e.client.Ping(ctx, "/api/tags")
}

// Close is a no-op.
func (e *OllamaEmbedder) Close() error { return nil }
