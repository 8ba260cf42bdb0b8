// Package generation turns retrieved documents into grounded answers.
package generation

import (
	"context"
	"errors"
	"iter"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Canned answers used when retrieval found nothing.
const (
	NoContextAnswer       = "I couldn't find any relevant information to answer your question. Please try rephrasing it or check if the content has been indexed."
	NoContextStreamAnswer = "I couldn't find any relevant information to answer your question."
)

// Generator asks a language model to answer questions from retrieved documents.
type Generator struct {
	model  llm.LanguageModel
	prompt PromptTemplate
	logger *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) {
		g.logger = utils.OrNop(logger)
	}
}

// WithPrompt overrides the prompt template.
func WithPrompt(p PromptTemplate) Option {
	return func(g *Generator) { g.prompt = NewPromptTemplate(p.SystemPrompt, p.UserTemplate) }
}

// NewGenerator creates a generator over model with the default prompts.
func NewGenerator(model llm.LanguageModel, opts ...Option) *Generator {
	g := &Generator{
		model:  model,
		prompt: NewPromptTemplate("", ""),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the underlying language model.
func (g *Generator) Model() llm.LanguageModel { return g.model }

// GenerateAnswer answers question from docs. With no docs it returns a canned answer without calling the model.
func (g *Generator) GenerateAnswer(ctx context.Context, question string, docs []models.SearchResult) (*models.Answer, error) {
	if len(docs) == 0 {
		return &models.Answer{Answer: NoContextAnswer, Sources: []models.Source{}}, nil
	}
	system, user := g.prompt.Build(question, docs)
	g.logger.Debug("generating answer",
		zap.String("model", g.model.Name()),
		zap.Int("documents", len(docs)),
		zap.Int("prompt_chars", len(user)),
	)
	text, err := g.model.Generate(ctx, user, system)
	if err != nil {
		return nil, g.generationError(err)
	}
	return &models.Answer{Answer: text, Sources: Sources(docs)}, nil
}

// StreamAnswer yields answer fragments as the model produces them. A failure is yielded as the final element.
func (g *Generator) StreamAnswer(ctx context.Context, question string, docs []models.SearchResult) iter.Seq2[string, error] {
	if len(docs) == 0 {
		return func(yield func(string, error) bool) {
			yield(NoContextStreamAnswer, nil)
		}
	}
	system, user := g.prompt.Build(question, docs)
	return func(yield func(string, error) bool) {
		for fragment, err := range g.model.StreamGenerate(ctx, user, system) {
			if err != nil {
				yield("", g.generationError(err))
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
	}
}

// Sources returns the citations for docs, in retrieval order.
func Sources(docs []models.SearchResult) []models.Source {
	sources := make([]models.Source, 0, len(docs))
	for i := range docs {
		title := docs[i].MetaString(models.MetaTitle)
		if title == "" {
			title = untitled
		}
		sources = append(sources, models.Source{
			Title: title,
			URL:   docs[i].MetaString(models.MetaURL),
			Score: docs[i].Score,
		})
	}
	return sources
}

func (g *Generator) generationError(err error) error {
	var genErr *backend.GenerationError
	if errors.As(err, &genErr) {
		return err
	}
	return &backend.GenerationError{Backend: g.model.Name(), Err: err}
}
