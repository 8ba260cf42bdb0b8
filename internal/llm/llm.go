// Package llm provides the LanguageModel contract and its backends.
package llm

import (
	"context"
	"iter"

	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/config"
)

// LanguageModel generates text from a prompt and a system prompt.
type LanguageModel interface {
	// Name is the registry name of the backend.
	Name() string
	// Generate returns the complete answer. Failures are *backend.GenerationError.
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
	// StreamGenerate yields answer fragments as the provider produces them. It may
	// yield an error after some fragments; iteration stops after an error.
	StreamGenerate(ctx context.Context, prompt, systemPrompt string) iter.Seq2[string, error]
	IsAvailable(ctx context.Context) bool
	Close() error
}

// Options are the generation settings shared by every backend.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Headers     map[string]string
}

func optionsFrom(cfg *config.Config, name string) Options {
	s := cfg.Backend(name)
	model := cfg.LLM.Model
	if model == "" {
		model = s.Model
	}
	return Options{
		APIKey:      s.APIKey,
		BaseURL:     s.BaseURL,
		Model:       model,
		Temperature: cfg.LLM.TemperatureOrDefault(),
		MaxTokens:   cfg.LLM.MaxTokens,
		Headers:     s.Headers,
	}
}

// NewRegistry returns the static table of language model backends.
func NewRegistry() *backend.Registry[LanguageModel] {
	r := backend.NewRegistry[LanguageModel]("llm")
	r.Register("openai", func(cfg *config.Config) (LanguageModel, error) {
		return NewOpenAI(optionsFrom(cfg, "openai"), cfg.LLM.Timeout)
	})
	r.Register("anthropic", func(cfg *config.Config) (LanguageModel, error) {
		return NewAnthropic(optionsFrom(cfg, "anthropic"), cfg.LLM.Timeout)
	})
	r.Register("ollama", func(cfg *config.Config) (LanguageModel, error) {
		return NewOllama(optionsFrom(cfg, "ollama"), cfg.LLM.Timeout)
	})
	return r
}

// New resolves the configured language model backend.
func New(cfg *config.Config) (LanguageModel, error) {
	return NewRegistry().New(cfg.LLM.Backend, cfg)
}
