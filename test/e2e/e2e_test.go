package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/content"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

const (
	e2eDimensions = 1024
	e2eTopK       = 5
)

var published = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

// recordingModel answers every prompt with a fixed text and keeps the prompts it saw.
type recordingModel struct {
	mu      sync.Mutex
	prompts []string
}

func (m *recordingModel) Name() string { return "recording" }

func (m *recordingModel) Generate(_ context.Context, prompt, _ string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	return "Here is what the site says.", nil
}

func (m *recordingModel) StreamGenerate(ctx context.Context, prompt, system string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		answer, _ := m.Generate(ctx, prompt, system)
		for _, word := range strings.SplitAfter(answer, " ") {
			if !yield(word, nil) {
				return
			}
		}
	}
}

func (m *recordingModel) IsAvailable(context.Context) bool { return true }
func (m *recordingModel) Close() error                     { return nil }

func (m *recordingModel) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

type pipeline struct {
	dir     string
	indexer *indexer.Indexer
	model   *recordingModel
	server  *httptest.Server
}

// newPipeline wires the same components the serve command does, over contentDir.
func newPipeline(t *testing.T, contentDir string) *pipeline {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.AdminEnabled = true

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "kotae.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	vectors, err := vector.NewMemoryStore(filepath.Join(dir, "vectors.bin"))
	require.NoError(t, err)

	embedder := embedding.NewHashEmbedder(e2eDimensions)
	engine := search.NewEngine(embedder, vectors, e2eTopK)

	source, err := content.NewFileSource(contentDir, content.WithExtensions(cfg.Content.Extensions))
	require.NoError(t, err)
	chunker, err := indexer.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.OverlapOrDefault())
	require.NoError(t, err)

	rec := metrics.New()
	idx := indexer.NewIndexer(source, store, engine, chunker, indexer.WithMetrics(rec))

	model := &recordingModel{}
	orch := query.NewOrchestrator(engine, generation.NewGenerator(model),
		query.WithStats(store),
		query.WithMetrics(rec),
	)
	srv := server.NewServer(orch, &cfg.Server, zap.NewNop(),
		server.WithAdmin(idx),
		server.WithMetrics(rec),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &pipeline{dir: contentDir, indexer: idx, model: model, server: ts}
}

func (p *pipeline) ask(t *testing.T, question string) models.Answer {
	t.Helper()
	body, _ := json.Marshal(models.QueryRequest{Query: question})
	resp, err := p.server.Client().Post(p.server.URL+"/query", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var answer models.Answer
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&answer))
	return answer
}

func sourceURLs(sources []models.Source) []string {
	urls := make([]string, len(sources))
	for i, s := range sources {
		urls[i] = s.URL
	}
	return urls
}

func TestE2E_QuestionsFindTheirPage(t *testing.T) {
	site := BuildSite()
	contentDir := filepath.Join(t.TempDir(), "site")
	require.NoError(t, WriteSite(contentDir, site, published))

	p := newPipeline(t, contentDir)
	summary, err := p.indexer.Sync(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, len(site.Pages), summary.Indexed)
	require.Zero(t, summary.Failed)

	for i, q := range site.Questions {
		t.Run(q.Description, func(t *testing.T) {
			answer := p.ask(t, q.Query)
			assert.Equal(t, "Here is what the site says.", answer.Answer)
			assert.LessOrEqual(t, len(answer.Sources), e2eTopK)
			assert.Contains(t, sourceURLs(answer.Sources), q.ExpectedURL)
			assert.Contains(t, p.model.lastPrompt(), site.Pages[i].Title)
		})
	}
}

func TestE2E_UnpublishAndRepublish(t *testing.T) {
	site := BuildSite()
	contentDir := filepath.Join(t.TempDir(), "site")
	require.NoError(t, WriteSite(contentDir, site, published))
	p := newPipeline(t, contentDir)
	ctx := context.Background()
	_, err := p.indexer.Sync(ctx, false)
	require.NoError(t, err)

	page := site.Pages[0]
	require.NoError(t, WritePage(contentDir, page, false, published.Add(time.Hour)))
	summary, err := p.indexer.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Removed)
	assert.Equal(t, len(site.Pages)-1, summary.Unchanged)
	assert.NotContains(t, sourceURLs(p.ask(t, page.Phrase).Sources), page.URL)

	require.NoError(t, WritePage(contentDir, page, true, published.Add(2*time.Hour)))
	summary, err = p.indexer.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed+summary.Updated)
	assert.Contains(t, sourceURLs(p.ask(t, page.Phrase).Sources), page.URL)
}

func TestE2E_DocumentFiles(t *testing.T) {
	contentDir := filepath.Join(t.TempDir(), "site")
	guides := filepath.Join(contentDir, "guides")
	require.NoError(t, os.MkdirAll(guides, 0o755))

	site := BuildSite()
	want := make(map[string]string)
	for i, ext := range DocumentExtensions {
		page := site.Pages[i]
		data, err := DocumentBytes(ext, page.Title+". "+page.Body)
		require.NoError(t, err)
		name := fmt.Sprintf("guide-%d%s", i, ext)
		require.NoError(t, os.WriteFile(filepath.Join(guides, name), data, 0o644))
		want[page.Phrase] = "guides/" + name
	}

	p := newPipeline(t, contentDir)
	summary, err := p.indexer.Sync(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, len(DocumentExtensions), summary.Indexed)

	for phrase, url := range want {
		t.Run(url, func(t *testing.T) {
			assert.Contains(t, sourceURLs(p.ask(t, phrase).Sources), url)
		})
	}
}

func TestE2E_StreamOverHTTP(t *testing.T) {
	site := BuildSite()
	contentDir := filepath.Join(t.TempDir(), "site")
	require.NoError(t, WriteSite(contentDir, site, published))
	p := newPipeline(t, contentDir)
	_, err := p.indexer.Sync(context.Background(), false)
	require.NoError(t, err)

	q := site.Questions[3]
	resp, err := p.server.Client().Post(p.server.URL+"/query", "application/json",
		strings.NewReader(fmt.Sprintf(`{"query": %q, "stream": true}`, q.Query)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var types []string
	var text strings.Builder
	var sources []models.Source
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev models.StreamEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		types = append(types, ev.Type)
		text.WriteString(ev.Content)
		if ev.Type == models.EventSources {
			sources = ev.Sources
		}
	}
	require.NoError(t, sc.Err())

	require.GreaterOrEqual(t, len(types), 4)
	assert.Equal(t, models.EventStart, types[0])
	assert.Equal(t, models.EventSources, types[len(types)-2])
	assert.Equal(t, models.EventEnd, types[len(types)-1])
	assert.Equal(t, "Here is what the site says.", text.String())
	assert.Contains(t, sourceURLs(sources), q.ExpectedURL)
}

func TestE2E_HealthAndAdmin(t *testing.T) {
	site := BuildSite()
	contentDir := filepath.Join(t.TempDir(), "site")
	require.NoError(t, WriteSite(contentDir, site, published))
	p := newPipeline(t, contentDir)

	resp, err := p.server.Client().Post(p.server.URL+"/admin/sync", "application/json", nil)
	require.NoError(t, err)
	var summary models.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, len(site.Pages), summary.Indexed)

	resp, err = p.server.Client().Get(p.server.URL + "/health")
	require.NoError(t, err)
	var health models.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusOK, health.Status)
	// Every page fits in a single chunk.
	assert.Equal(t, int64(len(site.Pages)), health.IndexedDocuments)
	assert.Equal(t, int64(len(site.Pages)), health.DBIndexedPages)

	req, _ := http.NewRequest(http.MethodDelete, p.server.URL+"/admin/items/"+site.Pages[0].ID, nil)
	resp, err = p.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = p.server.Client().Get(p.server.URL + "/admin/stats")
	require.NoError(t, err)
	var stats models.IndexStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, int64(len(site.Pages)-1), stats.ActiveItems)
	assert.Equal(t, int64(1), stats.InactiveItems)
	assert.Equal(t, int64(len(site.Pages)-1), stats.VectorCount)
}
