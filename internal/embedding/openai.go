package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/provider"
)

// Ensure OpenAIEmbedder implements the interface.
var _ Embedder = (*OpenAIEmbedder)(nil)

// Default OpenAI values.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-3-small"
)

// openAIModelDimensions are the native widths of the known embedding models.
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client     *provider.Client
	model      string
	dimensions int
	// shorten is set when the model supports the dimensions parameter and a
	// width other than its native one was requested.
	shorten bool
}

type openAIEmbeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates the embedder. A missing API key is a configuration error.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, backend.MissingCredential("openai", "api_key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	native, known := openAIModelDimensions[cfg.Model]
	if cfg.Dimensions == 0 {
		if !known {
			return nil, &backend.ConfigurationError{Backend: "openai", Message: "dimensions required for model " + cfg.Model}
		}
		cfg.Dimensions = native
	}
	return &OpenAIEmbedder{
		client: provider.New(provider.Config{
			Name:    "openai-embeddings",
			BaseURL: cfg.BaseURL,
			Headers: map[string]string{"Authorization": "Bearer " + cfg.APIKey},
			Timeout: cfg.Timeout,
		}),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		shorten:    strings.HasPrefix(cfg.Model, "text-embedding-3") && cfg.Dimensions != native,
	}, nil
}

// Name returns the registry name.
func (e *OpenAIEmbedder) Name() string { return "openai" }

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds all texts in one request and restores input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openAIEmbeddingRequest{Input: texts, Model: e.model}
	if e.shorten {
		req.Dimensions = e.dimensions
	}
	var resp openAIEmbeddingResponse
	if err := e.client.PostJSON(ctx, "/embeddings", req, &resp); err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &backend.BatchSizeMismatchError{Expected: len(texts), Got: len(resp.Data)}
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("openai embeddings: invalid index %d in response", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Dimensions returns the embedding width.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// IsAvailable lists models to check the key and endpoint.
func (e *OpenAIEmbedder) IsAvailable(ctx context.Context) bool {
	return e.client.Ping(ctx, "/models")
}

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error { return nil }
