// Package query answers questions: it retrieves relevant chunks, generates a grounded
// answer and shapes the streamed events, falling back to a degraded state when a
// backend is unavailable.
package query

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/pkg/utils"
)

// StatsSource reports bookkeeping figures. *storage.SQLiteStore implements it.
type StatsSource interface {
	Stats(ctx context.Context) (*models.IndexStats, error)
}

// Orchestrator composes retrieval and generation for one request at a time. It is safe for concurrent use.
type Orchestrator struct {
	engine    *search.Engine
	generator *generation.Generator
	stats     StatsSource
	enabled   bool
	topK      int
	probe     time.Duration
	logger    *zap.Logger
	metrics   *metrics.Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = utils.OrNop(l)
	}
}

// WithMetrics records query outcomes and probe results.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStats sets where Health reads the indexed page count from.
func WithStats(s StatsSource) Option {
	return func(o *Orchestrator) { o.stats = s }
}

// WithEnabled switches the assistant on or off. Enabled by default.
func WithEnabled(enabled bool) Option {
	return func(o *Orchestrator) { o.enabled = enabled }
}

// WithTopK sets how many chunks a question retrieves. Zero uses the engine default.
func WithTopK(k int) Option {
	return func(o *Orchestrator) { o.topK = k }
}

// WithProbeTimeout bounds each availability probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.probe = d
		}
	}
}

// NewOrchestrator creates an orchestrator over engine and generator.
func NewOrchestrator(engine *search.Engine, generator *generation.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:    engine,
		generator: generator,
		enabled:   true,
		probe:     5 * time.Second,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enabled reports whether the assistant answers questions.
func (o *Orchestrator) Enabled() bool { return o.enabled }

// Answer retrieves context for req and returns a complete answer.
func (o *Orchestrator) Answer(ctx context.Context, req *models.QueryRequest) (answer *models.Answer, err error) {
	start := time.Now()
	defer func() { o.observe("blocking", start, err) }()

	docs, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	answer, err = o.generator.GenerateAnswer(ctx, req.Query, docs)
	if err != nil {
		o.logger.Error("generation failed", zap.String("query", req.Query), zap.Error(err))
		return nil, err
	}
	return answer, nil
}

// Stream retrieves context for req and emits start, one chunk per fragment, sources and end.
// A generation failure after start emits an error event and no end. Errors before start are
// returned without emitting anything. An emit failure stops the stream.
func (o *Orchestrator) Stream(ctx context.Context, req *models.QueryRequest, emit func(models.StreamEvent) error) (err error) {
	start := time.Now()
	defer func() { o.observe("stream", start, err) }()

	docs, err := o.prepare(ctx, req)
	if err != nil {
		return err
	}
	if err := emit(models.StreamEvent{Type: models.EventStart}); err != nil {
		return err
	}
	for fragment, genErr := range o.generator.StreamAnswer(ctx, req.Query, docs) {
		if genErr != nil {
			o.logger.Error("streaming generation failed", zap.String("query", req.Query), zap.Error(genErr))
			if err := emit(models.StreamEvent{Type: models.EventError, Error: genErr.Error()}); err != nil {
				return err
			}
			return genErr
		}
		if err := emit(models.StreamEvent{Type: models.EventChunk, Content: fragment}); err != nil {
			return err
		}
	}
	if err := emit(models.StreamEvent{Type: models.EventSources, Sources: generation.Sources(docs)}); err != nil {
		return err
	}
	return emit(models.StreamEvent{Type: models.EventEnd})
}

// prepare validates req, checks that every backend is available and retrieves context.
func (o *Orchestrator) prepare(ctx context.Context, req *models.QueryRequest) ([]models.SearchResult, error) {
	if !o.enabled {
		return nil, ErrAssistantDisabled
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	report := o.probeBackends(ctx)
	if !report.OK() {
		o.logger.Warn("backends unavailable",
			zap.String("embedder", report.Embedder),
			zap.String("vector_db", report.VectorDB),
			zap.String("llm", report.LLM),
		)
		return nil, &DegradedError{Report: report}
	}

	topK := req.TopK
	if topK <= 0 {
		topK = o.topK
	}
	docs, err := o.engine.Retrieve(ctx, req.Query, topK)
	if err != nil {
		o.logger.Error("retrieval failed", zap.String("query", req.Query), zap.Error(err))
		return nil, err
	}
	o.logger.Debug("retrieved context", zap.String("query", req.Query), zap.Int("documents", len(docs)))
	return docs, nil
}

// Health probes every backend concurrently and reports index counts.
func (o *Orchestrator) Health(ctx context.Context) models.HealthReport {
	report := o.probeBackends(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report.IndexedDocuments = int64(o.engine.Stats(gctx).DocumentCount)
		return nil
	})
	if o.stats != nil {
		g.Go(func() error {
			stats, err := o.stats.Stats(gctx)
			if err != nil {
				o.logger.Warn("failed to read index stats", zap.Error(err))
				return nil
			}
			report.DBIndexedPages = stats.ActiveItems
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (o *Orchestrator) probeBackends(ctx context.Context) models.HealthReport {
	var embedderUp, storeUp, llmUp bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		embedderUp = o.available(gctx, "embedder", o.engine.Embedder())
		return nil
	})
	g.Go(func() error {
		storeUp = o.available(gctx, "vector_db", o.engine.Store())
		return nil
	})
	g.Go(func() error {
		llmUp = o.available(gctx, "llm", o.generator.Model())
		return nil
	})
	_ = g.Wait()

	report := models.HealthReport{
		Status:   models.StatusOK,
		Embedder: status(embedderUp),
		VectorDB: status(storeUp),
		LLM:      status(llmUp),
	}
	if !report.OK() {
		report.Status = models.StatusDegraded
	}
	return report
}

type prober interface {
	IsAvailable(ctx context.Context) bool
}

func (o *Orchestrator) available(ctx context.Context, name string, p prober) bool {
	ctx, cancel := context.WithTimeout(ctx, o.probe)
	defer cancel()
	up := p.IsAvailable(ctx)
	o.metrics.BackendUp(name, up)
	return up
}

func (o *Orchestrator) observe(mode string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, models.ErrEmptyQuery), errors.Is(err, ErrAssistantDisabled):
		outcome = "rejected"
	case errors.Is(err, ErrDegraded):
		outcome = "degraded"
	case errors.Is(err, context.Canceled):
		outcome = "canceled"
	default:
		outcome = "error"
		o.metrics.ProviderError(err)
	}
	o.metrics.ObserveQuery(mode, outcome, time.Since(start))
}

func status(up bool) string {
	if up {
		return models.StatusAvailable
	}
	return models.StatusUnavailable
}
