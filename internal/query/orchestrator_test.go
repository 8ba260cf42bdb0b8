package query

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/vector"
)

type stubModel struct {
	available bool
	fragments []string
	failAfter error
	calls     int
}

func (m *stubModel) Name() string { return "stub" }

func (m *stubModel) Generate(context.Context, string, string) (string, error) {
	m.calls++
	return "The library opens at 9.", nil
}

func (m *stubModel) StreamGenerate(context.Context, string, string) iter.Seq2[string, error] {
	m.calls++
	return func(yield func(string, error) bool) {
		for _, f := range m.fragments {
			if !yield(f, nil) {
				return
			}
		}
		if m.failAfter != nil {
			yield("", m.failAfter)
		}
	}
}

func (m *stubModel) IsAvailable(context.Context) bool { return m.available }
func (m *stubModel) Close() error                     { return nil }

type stubStats struct{ active int64 }

func (s stubStats) Stats(context.Context) (*models.IndexStats, error) {
	return &models.IndexStats{ActiveItems: s.active}, nil
}

func newOrchestrator(t *testing.T, model *stubModel, withDocs bool, opts ...Option) *Orchestrator {
	t.Helper()
	return NewOrchestrator(newEngine(t, withDocs), generation.NewGenerator(model), opts...)
}

func newEngine(t *testing.T, withDocs bool) *search.Engine {
	t.Helper()
	store, err := vector.NewMemoryStore("")
	require.NoError(t, err)
	engine := search.NewEngine(embedding.NewHashEmbedder(64), store, 3)
	if withDocs {
		require.NoError(t, engine.AddDocuments(context.Background(), []models.Document{
			{ID: "page_1_chunk_0", Text: "The library opens at 9 and closes at 5.", Metadata: map[string]any{
				models.MetaTitle: "Opening hours", models.MetaURL: "/hours/",
			}},
			{ID: "page_2_chunk_0", Text: "Parking is free on weekends.", Metadata: map[string]any{
				models.MetaTitle: "Parking",
			}},
		}))
	}
	return engine
}

func collect(t *testing.T, o *Orchestrator, q string) ([]models.StreamEvent, error) {
	t.Helper()
	var events []models.StreamEvent
	err := o.Stream(context.Background(), &models.QueryRequest{Query: q, Stream: true}, func(ev models.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

func types(events []models.StreamEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestAnswer_EndToEnd(t *testing.T) {
	model := &stubModel{available: true}
	engine := newEngine(t, true)
	o := NewOrchestrator(engine, generation.NewGenerator(model))

	ans, err := o.Answer(context.Background(), &models.QueryRequest{Query: "  When does the library open?  "})
	require.NoError(t, err)
	assert.Equal(t, "The library opens at 9.", ans.Answer)
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, "Opening hours", ans.Sources[0].Title)
	assert.Equal(t, "/hours/", ans.Sources[0].URL)
	assert.Equal(t, 1, model.calls)

	retrieved, err := engine.Retrieve(context.Background(), "When does the library open?", 0)
	require.NoError(t, err)
	require.NotEmpty(t, retrieved)
	assert.Equal(t, "page_1_chunk_0", retrieved[0].ID)
	assert.Equal(t, retrieved[0].Score, ans.Sources[0].Score)
}

func TestAnswer_EmptyIndexSkipsModel(t *testing.T) {
	model := &stubModel{available: true}
	o := newOrchestrator(t, model, false)

	ans, err := o.Answer(context.Background(), &models.QueryRequest{Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, generation.NoContextAnswer, ans.Answer)
	assert.Empty(t, ans.Sources)
	assert.Equal(t, 0, model.calls)
}

func TestAnswer_Rejections(t *testing.T) {
	o := newOrchestrator(t, &stubModel{available: true}, true)
	_, err := o.Answer(context.Background(), &models.QueryRequest{Query: "   "})
	assert.ErrorIs(t, err, models.ErrEmptyQuery)

	disabled := newOrchestrator(t, &stubModel{available: true}, true, WithEnabled(false))
	_, err = disabled.Answer(context.Background(), &models.QueryRequest{Query: "q"})
	assert.ErrorIs(t, err, ErrAssistantDisabled)
}

func TestAnswer_DegradedWhenLLMUnavailable(t *testing.T) {
	model := &stubModel{available: false}
	o := newOrchestrator(t, model, true)

	_, err := o.Answer(context.Background(), &models.QueryRequest{Query: "q"})
	require.ErrorIs(t, err, ErrDegraded)
	var degraded *DegradedError
	require.ErrorAs(t, err, &degraded)
	assert.Equal(t, models.StatusUnavailable, degraded.Report.LLM)
	assert.Equal(t, models.StatusAvailable, degraded.Report.Embedder)
	assert.Equal(t, 0, model.calls)
}

func TestStream_EventOrder(t *testing.T) {
	o := newOrchestrator(t, &stubModel{available: true, fragments: []string{"Opens ", "at 9."}}, true)

	events, err := collect(t, o, "When does the library open?")
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "chunk", "chunk", "sources", "end"}, types(events))
	assert.Equal(t, "Opens ", events[1].Content)
	assert.NotEmpty(t, events[3].Sources)
}

func TestStream_EmptyIndex(t *testing.T) {
	o := newOrchestrator(t, &stubModel{available: true}, false)

	events, err := collect(t, o, "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "chunk", "sources", "end"}, types(events))
	assert.Equal(t, generation.NoContextStreamAnswer, events[1].Content)
	assert.Empty(t, events[2].Sources)
}

func TestStream_GenerationFailure(t *testing.T) {
	model := &stubModel{available: true, fragments: []string{"partial"}, failAfter: errors.New("connection reset")}
	o := newOrchestrator(t, model, true)

	events, err := collect(t, o, "q")
	require.Error(t, err)
	assert.Equal(t, []string{"start", "chunk", "error"}, types(events))
	assert.Contains(t, events[2].Error, "connection reset")
}

func TestStream_ErrorsBeforeStartEmitNothing(t *testing.T) {
	o := newOrchestrator(t, &stubModel{available: false}, true)
	events, err := collect(t, o, "q")
	assert.ErrorIs(t, err, ErrDegraded)
	assert.Empty(t, events)
}

func TestStream_EmitFailureStops(t *testing.T) {
	o := newOrchestrator(t, &stubModel{available: true, fragments: []string{"a", "b", "c"}}, true)
	gone := errors.New("client went away")
	n := 0
	err := o.Stream(context.Background(), &models.QueryRequest{Query: "q"}, func(models.StreamEvent) error {
		n++
		if n == 2 {
			return gone
		}
		return nil
	})
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, 2, n)
}

func TestHealth(t *testing.T) {
	o := newOrchestrator(t, &stubModel{available: true}, true, WithStats(stubStats{active: 2}))
	report := o.Health(context.Background())
	assert.Equal(t, models.StatusOK, report.Status)
	assert.Equal(t, int64(2), report.IndexedDocuments)
	assert.Equal(t, int64(2), report.DBIndexedPages)

	degraded := newOrchestrator(t, &stubModel{available: false}, false).Health(context.Background())
	assert.Equal(t, models.StatusDegraded, degraded.Status)
	assert.Equal(t, models.StatusUnavailable, degraded.LLM)
	assert.Equal(t, int64(0), degraded.IndexedDocuments)
}
