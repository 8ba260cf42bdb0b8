package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/provider"
)

// Ensure Ollama implements the interface.
var _ LanguageModel = (*Ollama)(nil)

// Ollama calls the chat endpoint of a local Ollama server.
type Ollama struct {
	client *provider.Client
	opts   Options
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`
}

// NewOllama creates the backend.
func NewOllama(opts Options, timeout time.Duration) (*Ollama, error) {
	if opts.BaseURL == "" {
		return nil, backend.MissingCredential("ollama", "base_url")
	}
	if opts.Model == "" {
		return nil, &backend.ConfigurationError{Backend: "ollama", Message: "model is required"}
	}
	return &Ollama{
		client: provider.New(provider.Config{Name: "ollama-chat", BaseURL: opts.BaseURL, Headers: opts.Headers, Timeout: timeout}),
		opts:   opts,
	}, nil
}

// Name returns the registry name.
func (m *Ollama) Name() string { return "ollama" }

func (m *Ollama) request(prompt, systemPrompt string, stream bool) ollamaChatRequest {
	var msgs []chatMessage
	if systemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})
	options := map[string]any{"temperature": m.opts.Temperature}
	if m.opts.MaxTokens > 0 {
		options["num_predict"] = m.opts.MaxTokens
	}
	return ollamaChatRequest{Model: m.opts.Model, Messages: msgs, Stream: stream, Options: options}
}

// Generate returns the assistant message of a non-streamed chat.
func (m *Ollama) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	var resp ollamaChatResponse
	if err := m.client.PostJSON(ctx, "/api/chat", m.request(prompt, systemPrompt, false), &resp); err != nil {
		return "", &backend.GenerationError{Backend: "ollama", Err: err}
	}
	if resp.Error != "" {
		return "", &backend.GenerationError{Backend: "ollama", Err: errors.New(resp.Error)}
	}
	return resp.Message.Content, nil
}

// StreamGenerate yields message fragments from the NDJSON stream until done.
func (m *Ollama) StreamGenerate(ctx context.Context, prompt, systemPrompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := m.client.Stream(ctx, "/api/chat", m.request(prompt, systemPrompt, true))
		if err != nil {
			yield("", &backend.GenerationError{Backend: "ollama", Err: err})
			return
		}
		defer body.Close()
		for line, err := range ndjsonLines(body) {
			if err != nil {
				yield("", &backend.GenerationError{Backend: "ollama", Err: err})
				return
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				yield("", &backend.GenerationError{Backend: "ollama", Err: fmt.Errorf("decode chunk: %w", err)})
				return
			}
			if chunk.Error != "" {
				yield("", &backend.GenerationError{Backend: "ollama", Err: errors.New(chunk.Error)})
				return
			}
			if chunk.Message.Content != "" && !yield(chunk.Message.Content, nil) {
				return
			}
			if chunk.Done {
				return
			}
		}
		yield("", &backend.GenerationError{Backend: "ollama", Err: errTruncated})
	}
}

// IsAvailable checks that the server answers.
func (m *Ollama) IsAvailable(ctx context.Context) bool {
	return m.client.Ping(ctx, "/api/tags")
}

// Close is a no-op.
func (m *Ollama) Close() error { return nil }
