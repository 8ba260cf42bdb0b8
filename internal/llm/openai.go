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

// Ensure OpenAI implements the interface.
var _ LanguageModel = (*OpenAI)(nil)

// DefaultOpenAIBaseURL is the public API root.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI calls the chat completions API.
type OpenAI struct {
	client *provider.Client
	opts   Options
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Delta   chatMessage `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAI creates the backend. A missing API key is a configuration error.
func NewOpenAI(opts Options, timeout time.Duration) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, backend.MissingCredential("openai", "api_key")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOpenAIBaseURL
	}
	headers := map[string]string{"Authorization": "Bearer " + opts.APIKey}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	return &OpenAI{
		client: provider.New(provider.Config{Name: "openai-chat", BaseURL: opts.BaseURL, Headers: headers, Timeout: timeout}),
		opts:   opts,
	}, nil
}

// Name returns the registry name.
func (m *OpenAI) Name() string { return "openai" }

func (m *OpenAI) request(prompt, systemPrompt string, stream bool) openAIChatRequest {
	var msgs []chatMessage
	if systemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})
	return openAIChatRequest{
		Model:       m.opts.Model,
		Messages:    msgs,
		Temperature: m.opts.Temperature,
		MaxTokens:   m.opts.MaxTokens,
		Stream:      stream,
	}
}

// Generate returns the first choice's message.
func (m *OpenAI) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	var resp openAIChatResponse
	if err := m.client.PostJSON(ctx, "/chat/completions", m.request(prompt, systemPrompt, false), &resp); err != nil {
		return "", &backend.GenerationError{Backend: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &backend.GenerationError{Backend: "openai", Err: errors.New("response has no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamGenerate yields content deltas of a streamed completion. A body that ends
// without the [DONE] event yields an error.
func (m *OpenAI) StreamGenerate(ctx context.Context, prompt, systemPrompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := m.client.Stream(ctx, "/chat/completions", m.request(prompt, systemPrompt, true))
		if err != nil {
			yield("", &backend.GenerationError{Backend: "openai", Err: err})
			return
		}
		defer body.Close()
		for data, err := range sseData(body) {
			if err != nil {
				yield("", &backend.GenerationError{Backend: "openai", Err: err})
				return
			}
			if data == sseDone {
				return
			}
			var chunk openAIChatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				yield("", &backend.GenerationError{Backend: "openai", Err: fmt.Errorf("decode chunk: %w", err)})
				return
			}
			if chunk.Error != nil {
				yield("", &backend.GenerationError{Backend: "openai", Err: errors.New(chunk.Error.Message)})
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
		yield("", &backend.GenerationError{Backend: "openai", Err: errTruncated})
	}
}

// IsAvailable lists models to check the key and endpoint.
func (m *OpenAI) IsAvailable(ctx context.Context) bool {
	return m.client.Ping(ctx, "/models")
}

// Close is a no-op.
func (m *OpenAI) Close() error { return nil }
