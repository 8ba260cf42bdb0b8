package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

type stubModel struct{ available bool }

func (m *stubModel) Name() string { return "stub" }
func (m *stubModel) Generate(context.Context, string, string) (string, error) {
	return "Open from 9 to 5.", nil
}
func (m *stubModel) StreamGenerate(context.Context, string, string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, f := range []string{"Open ", "from 9 ", "to 5."} {
			if !yield(f, nil) {
				return
			}
		}
	}
}
func (m *stubModel) IsAvailable(context.Context) bool { return m.available }
func (m *stubModel) Close() error                     { return nil }

// brokenEmbedder is reachable but fails every request.
type brokenEmbedder struct{ embedding.Embedder }

func (brokenEmbedder) Name() string                     { return "broken" }
func (brokenEmbedder) Dimensions() int                  { return 8 }
func (brokenEmbedder) IsAvailable(context.Context) bool { return true }
func (brokenEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("quota exceeded")
}

type stubAdmin struct {
	synced  bool
	removed []string
	purged  []string
}

func (a *stubAdmin) IndexAll(_ context.Context, opts indexer.IndexOptions) (models.Summary, error) {
	if opts.ContentID == "draft" {
		return models.Summary{}, fmt.Errorf("%w: draft", indexer.ErrNotLive)
	}
	return models.Summary{Indexed: 3}, nil
}

func (a *stubAdmin) Sync(_ context.Context, force bool) (models.Summary, error) {
	a.synced = true
	if force {
		return models.Summary{Updated: 2}, nil
	}
	return models.Summary{Unchanged: 2}, nil
}

func (a *stubAdmin) Remove(_ context.Context, id string) error {
	if id == "missing" {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	a.removed = append(a.removed, id)
	return nil
}

func (a *stubAdmin) RemoveAll(context.Context) (models.Summary, error) {
	return models.Summary{Removed: 4}, nil
}

func (a *stubAdmin) Purge(_ context.Context, id string) error {
	a.purged = append(a.purged, id)
	return nil
}

func (a *stubAdmin) Stats(context.Context) (*models.IndexStats, error) {
	return &models.IndexStats{ActiveItems: 7}, nil
}

type testServer struct {
	*httptest.Server
	admin *stubAdmin
}

type serverOptions struct {
	model     *stubModel
	embedder  embedding.Embedder
	cfg       config.ServerConfig
	orchOpts  []query.Option
	withAdmin bool
}

func newTestServer(t *testing.T, o serverOptions) *testServer {
	t.Helper()
	if o.model == nil {
		o.model = &stubModel{available: true}
	}
	if o.embedder == nil {
		o.embedder = embedding.NewHashEmbedder(32)
	}
	store, err := vector.NewMemoryStore("")
	require.NoError(t, err)
	engine := search.NewEngine(o.embedder, store, 3)
	if _, ok := o.embedder.(*embedding.HashEmbedder); ok {
		require.NoError(t, engine.AddDocuments(context.Background(), []models.Document{{
			ID: "page_1_chunk_0", Text: "Opening hours are 9 to 5.",
			Metadata: map[string]any{models.MetaTitle: "Hours", models.MetaURL: "/hours/"},
		}}))
	}
	orch := query.NewOrchestrator(engine, generation.NewGenerator(o.model), o.orchOpts...)

	admin := &stubAdmin{}
	opts := []Option{WithMetrics(metrics.New())}
	if o.withAdmin {
		o.cfg.AdminEnabled = true
		opts = append(opts, WithAdmin(admin))
	}
	srv := NewServer(orch, &o.cfg, zap.NewNop(), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, admin: admin}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestQuery_Blocking(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	resp, body := ts.do(t, http.MethodPost, "/query", `{"query": "When are you open?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Open from 9 to 5.", body["answer"])
	sources := body["sources"].([]any)
	require.Len(t, sources, 1)
	assert.Equal(t, "Hours", sources[0].(map[string]any)["title"])
}

func TestQuery_BadRequests(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.do(t, http.MethodPost, "/query", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid request data", body["error"])

	resp, body = ts.do(t, http.MethodPost, "/query", `{"query": "   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Query is required", body["error"])
}

func TestQuery_Disabled(t *testing.T) {
	ts := newTestServer(t, serverOptions{orchOpts: []query.Option{query.WithEnabled(false)}})
	resp, body := ts.do(t, http.MethodPost, "/query", `{"query": "q"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Assistant is disabled", body["error"])
}

func TestQuery_Degraded(t *testing.T) {
	ts := newTestServer(t, serverOptions{model: &stubModel{available: false}})
	resp, body := ts.do(t, http.MethodPost, "/query", `{"query": "q"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", body["llm"])

	resp, _ = ts.do(t, http.MethodPost, "/query", `{"query": "q", "stream": true}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestQuery_InternalError(t *testing.T) {
	ts := newTestServer(t, serverOptions{embedder: brokenEmbedder{}})
	resp, body := ts.do(t, http.MethodPost, "/query", `{"query": "q"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	msg, _ := body["error"].(string)
	assert.True(t, strings.HasPrefix(msg, "Error processing query: "), msg)
	assert.Contains(t, msg, "quota exceeded")
}

func TestQuery_Stream(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	resp, err := ts.Client().Post(ts.URL+"/query", "application/json", strings.NewReader(`{"query": "hours?", "stream": true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var events []models.StreamEvent
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev models.StreamEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())

	got := make([]string, len(events))
	var text strings.Builder
	for i, ev := range events {
		got[i] = ev.Type
		text.WriteString(ev.Content)
	}
	assert.Equal(t, []string{"start", "chunk", "chunk", "chunk", "sources", "end"}, got)
	assert.Equal(t, "Open from 9 to 5.", text.String())
	assert.Len(t, events[4].Sources, 1)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	resp, body := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 1.0, body["indexed_documents"])

	ts = newTestServer(t, serverOptions{model: &stubModel{available: false}})
	resp, body = ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unavailable", body["llm"])
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, serverOptions{cfg: config.ServerConfig{RateLimit: 2}})
	for i := 0; i < 2; i++ {
		resp, _ := ts.do(t, http.MethodPost, "/query", `{"query": "q"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := ts.do(t, http.MethodPost, "/query", `{"query": "q"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Health is not limited.
	resp, _ = ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := newRateLimiter(60, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	for i := 0; i < 60; i++ {
		require.True(t, rl.allow("1.2.3.4"))
	}
	assert.False(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("5.6.7.8"))

	now = now.Add(time.Second)
	assert.True(t, rl.allow("1.2.3.4"))
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, serverOptions{withAdmin: true})

	resp, body := ts.do(t, http.MethodPost, "/admin/sync", `{"force": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, body["updated"])
	assert.True(t, ts.admin.synced)

	resp, body = ts.do(t, http.MethodPost, "/admin/index", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3.0, body["indexed"])

	resp, _ = ts.do(t, http.MethodPost, "/admin/index", `{"content_id": "draft"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/admin/items/42", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"42"}, ts.admin.removed)

	resp, _ = ts.do(t, http.MethodDelete, "/admin/items/42?purge=true", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"42"}, ts.admin.purged)

	resp, _ = ts.do(t, http.MethodDelete, "/admin/items/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodDelete, "/admin/items", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4.0, body["removed"])

	resp, body = ts.do(t, http.MethodGet, "/admin/stats", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 7.0, body["active_items"])
}

func TestAdminRoutesDisabled(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	resp, _ := ts.do(t, http.MethodPost, "/admin/sync", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.do(t, http.MethodPost, "/query", `{"query": "q"}`)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
