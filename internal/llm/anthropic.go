package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/provider"
)

// Ensure Anthropic implements the interface.
var _ LanguageModel = (*Anthropic)(nil)

// Anthropic API defaults.
const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
	defaultAnthropicTokens  = 1024
)

// Anthropic calls the Messages API.
type Anthropic struct {
	client *provider.Client
	opts   Options
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropic creates the backend. A missing API key is a configuration error.
func NewAnthropic(opts Options, timeout time.Duration) (*Anthropic, error) {
	if opts.APIKey == "" {
		return nil, backend.MissingCredential("anthropic", "api_key")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultAnthropicBaseURL
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultAnthropicTokens
	}
	headers := map[string]string{
		"x-api-key":         opts.APIKey,
		"anthropic-version": anthropicVersion,
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	return &Anthropic{
		client: provider.New(provider.Config{Name: "anthropic", BaseURL: opts.BaseURL, Headers: headers, Timeout: timeout}),
		opts:   opts,
	}, nil
}

// Name returns the registry name.
func (m *Anthropic) Name() string { return "anthropic" }

func (m *Anthropic) request(prompt, systemPrompt string, stream bool) anthropicRequest {
	return anthropicRequest{
		Model:       m.opts.Model,
		System:      systemPrompt,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   m.opts.MaxTokens,
		Temperature: m.opts.Temperature,
		Stream:      stream,
	}
}

// Generate concatenates the text blocks of the reply.
func (m *Anthropic) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	var resp anthropicResponse
	if err := m.client.PostJSON(ctx, "/messages", m.request(prompt, systemPrompt, false), &resp); err != nil {
		return "", &backend.GenerationError{Backend: "anthropic", Err: err}
	}
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String(), nil
}

// StreamGenerate yields text deltas until message_stop.
func (m *Anthropic) StreamGenerate(ctx context.Context, prompt, systemPrompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := m.client.Stream(ctx, "/messages", m.request(prompt, systemPrompt, true))
		if err != nil {
			yield("", &backend.GenerationError{Backend: "anthropic", Err: err})
			return
		}
		defer body.Close()
		for data, err := range sseData(body) {
			if err != nil {
				yield("", &backend.GenerationError{Backend: "anthropic", Err: err})
				return
			}
			var ev anthropicEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				yield("", &backend.GenerationError{Backend: "anthropic", Err: fmt.Errorf("decode event: %w", err)})
				return
			}
			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
					if !yield(ev.Delta.Text, nil) {
						return
					}
				}
			case "error":
				yield("", &backend.GenerationError{Backend: "anthropic", Err: errors.New(ev.Error.Message)})
				return
			case "message_stop":
				return
			}
		}
		yield("", &backend.GenerationError{Backend: "anthropic", Err: errTruncated})
	}
}

// IsAvailable lists models to check the key and endpoint.
func (m *Anthropic) IsAvailable(ctx context.Context) bool {
	return m.client.Ping(ctx, "/models")
}

// Close is a no-op.
func (m *Anthropic) Close() error { return nil }
