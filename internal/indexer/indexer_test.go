package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/content"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

type fakeSource struct {
	items map[string]*models.ContentItem
	order []string
}

func newFakeSource(items ...*models.ContentItem) *fakeSource {
	s := &fakeSource{items: make(map[string]*models.ContentItem)}
	for _, it := range items {
		s.put(it)
	}
	return s
}

func (s *fakeSource) put(it *models.ContentItem) {
	if _, ok := s.items[it.ID]; !ok {
		s.order = append(s.order, it.ID)
	}
	s.items[it.ID] = it
}

func (s *fakeSource) LiveItems(context.Context) ([]*models.ContentItem, error) {
	var out []*models.ContentItem
	for _, id := range s.order {
		if it := s.items[id]; it.Live {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *fakeSource) Item(_ context.Context, id string) (*models.ContentItem, error) {
	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("no item %s", id)
	}
	return it, nil
}

// flakyWriter wraps a VectorWriter and fails or holds adds on demand.
type flakyWriter struct {
	VectorWriter
	failAdd bool
	adds    atomic.Int32
	entered chan struct{}
	gate    chan struct{}
}

func (w *flakyWriter) AddDocuments(ctx context.Context, docs []models.Document) error {
	w.adds.Add(1)
	if w.entered != nil {
		w.entered <- struct{}{}
	}
	if w.gate != nil {
		<-w.gate
	}
	if w.failAdd {
		return errors.New("vector store unavailable")
	}
	return w.VectorWriter.AddDocuments(ctx, docs)
}

type fixture struct {
	idx    *Indexer
	source *fakeSource
	store  *storage.SQLiteStore
	vecs   *vector.MemoryStore
	writer *flakyWriter
}

func newFixture(t *testing.T, opts ...IndexerOption) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "kotae.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	vecs, err := vector.NewMemoryStore("")
	require.NoError(t, err)
	chunker, err := NewChunker(50, 10)
	require.NoError(t, err)

	writer := &flakyWriter{VectorWriter: search.NewEngine(embedding.NewHashEmbedder(32), vecs, 5)}
	source := newFakeSource()
	return &fixture{
		idx:    NewIndexer(source, store, writer, chunker, opts...),
		source: source,
		store:  store,
		vecs:   vecs,
		writer: writer,
	}
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func page(id, text string) *models.ContentItem {
	return &models.ContentItem{
		ID: id, Type: "page", Title: "Page " + id, URL: "/" + id + "/",
		Live: true, LastModified: t0, Text: text,
	}
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "word"
	}
	return strings.Join(w, " ")
}

func TestPlan_Partitions(t *testing.T) {
	live := []*models.ContentItem{
		{ID: "new", LastModified: t0},
		{ID: "changed", LastModified: t0.Add(time.Hour)},
		{ID: "same", LastModified: t0},
	}
	active := []*models.IndexedItem{
		{ContentID: "changed", LastModifiedAt: t0},
		{ContentID: "same", LastModifiedAt: t0},
		{ContentID: "gone", LastModifiedAt: t0},
	}

	plan := Plan(live, active, false)
	require.Len(t, plan.ToIndex, 1)
	assert.Equal(t, "new", plan.ToIndex[0].ID)
	require.Len(t, plan.ToUpdate, 1)
	assert.Equal(t, "changed", plan.ToUpdate[0].ID)
	require.Len(t, plan.ToRemove, 1)
	assert.Equal(t, "gone", plan.ToRemove[0].ContentID)
	assert.Equal(t, []string{"same"}, plan.Unchanged)

	forced := Plan(live, active, true)
	assert.Len(t, forced.ToIndex, 1)
	assert.Len(t, forced.ToUpdate, 2)
	assert.Len(t, forced.ToRemove, 1)
	assert.Empty(t, forced.Unchanged)
}

func TestPlan_EachIDOnce(t *testing.T) {
	live := []*models.ContentItem{{ID: "a"}, {ID: "a"}, {ID: "b"}}
	plan := Plan(live, nil, true)
	assert.Len(t, plan.ToIndex, 2)
}

func TestIndexItem_WritesChunksAndBookkeeping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.idx.IndexItem(ctx, page("1", words(100))))

	rec, err := f.store.GetItem(ctx, "1")
	require.NoError(t, err)
	assert.True(t, rec.IsActive)
	assert.Greater(t, rec.ChunkCount, 1)
	assert.True(t, rec.LastModifiedAt.Equal(t0))

	ids, err := f.store.ChunkIDs(ctx, "1")
	require.NoError(t, err)
	assert.Len(t, ids, rec.ChunkCount)
	assert.Equal(t, "page_1_chunk_0", ids[0])
	assert.Equal(t, rec.ChunkCount, f.vecs.Stats(ctx).DocumentCount)
}

func TestIndexItem_ReindexIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := page("1", words(100))

	require.NoError(t, f.idx.IndexItem(ctx, item))
	first := f.vecs.Stats(ctx).DocumentCount
	require.NoError(t, f.idx.IndexItem(ctx, item))
	assert.Equal(t, first, f.vecs.Stats(ctx).DocumentCount)
}

func TestIndexItem_ShrinkingReindexDropsStaleChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.idx.IndexItem(ctx, page("1", words(100))))
	require.Greater(t, f.vecs.Stats(ctx).DocumentCount, 1)

	require.NoError(t, f.idx.IndexItem(ctx, page("1", "short")))
	assert.Equal(t, 1, f.vecs.Stats(ctx).DocumentCount)
	ids, _ := f.store.ChunkIDs(ctx, "1")
	assert.Equal(t, []string{"page_1_chunk_0"}, ids)
}

func TestIndexItem_ShrinkFromFiveToThreeChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chunks, err := NewChunker(50, 10)
	require.NoError(t, err)
	long, short := strings.Repeat("a", 200), strings.Repeat("b", 120)
	require.Len(t, chunks.Chunk(long), 5)
	require.Len(t, chunks.Chunk(short), 3)

	before, after := page("7", long), page("7", short)
	before.Title, after.Title = "", ""
	require.NoError(t, f.idx.IndexItem(ctx, before))
	require.NoError(t, f.idx.IndexItem(ctx, after))

	stored := storedIDs(t, f.vecs)
	for i := 0; i < 3; i++ {
		assert.Contains(t, stored, models.ChunkID("7", i))
	}
	for i := 3; i < 5; i++ {
		assert.NotContains(t, stored, models.ChunkID("7", i))
	}
	ids, err := f.store.ChunkIDs(ctx, "7")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"page_7_chunk_0", "page_7_chunk_1", "page_7_chunk_2"}, ids)
}

// storedIDs lists every document id held by the memory store.
func storedIDs(t *testing.T, vecs *vector.MemoryStore) []string {
	t.Helper()
	query := make([]float32, 32)
	query[0] = 1
	results, err := vecs.Search(context.Background(), query, 1000, nil)
	require.NoError(t, err)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func TestIndexItem_NoContent(t *testing.T) {
	f := newFixture(t)
	item := page("1", "")
	item.Title = ""
	err := f.idx.IndexItem(context.Background(), item)
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestIndexItem_StoreFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.writer.failAdd = true

	require.Error(t, f.idx.IndexItem(ctx, page("1", "some text")))
	_, err := f.store.GetItem(ctx, "1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.put(page("a", "alpha text"))
	f.source.put(page("b", "beta text"))

	summary, err := f.idx.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, models.Summary{Indexed: 2}, summary)

	// b changes, a is unpublished, c is new.
	b := page("b", "beta text revised")
	b.LastModified = t0.Add(time.Hour)
	f.source.put(b)
	a := page("a", "alpha text")
	a.Live = false
	f.source.put(a)
	f.source.put(page("c", "gamma text"))

	summary, err = f.idx.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, models.Summary{Indexed: 1, Updated: 1, Removed: 1}, summary)

	rec, err := f.store.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.False(t, rec.IsActive)

	summary, err = f.idx.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, models.Summary{Unchanged: 2}, summary)

	summary, err = f.idx.Sync(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, models.Summary{Updated: 2}, summary)
}

func TestSync_FailuresAreCounted(t *testing.T) {
	f := newFixture(t)
	empty := page("empty", "")
	empty.Title = ""
	f.source.put(empty)
	f.source.put(page("ok", "fine text"))

	summary, err := f.idx.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 1, summary.Failed)
}

func TestSync_UnreadableFileKeepsItsItems(t *testing.T) {
	dir := t.TempDir()
	pagesPath := filepath.Join(dir, "pages.json")
	require.NoError(t, os.WriteFile(pagesPath, []byte(`[
		{"id": "1", "title": "Parking", "last_modified": "2025-03-01T12:00:00Z",
		 "body": [{"type": "paragraph", "value": "Parking permits are issued online."}]},
		{"id": "2", "title": "Libraries", "last_modified": "2025-03-01T12:00:00Z",
		 "body": [{"type": "paragraph", "value": "Libraries open at nine."}]}
	]`), 0644))
	source, err := content.NewFileSource(dir)
	require.NoError(t, err)

	f := newFixture(t)
	f.idx.source = source
	ctx := context.Background()

	summary, err := f.idx.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, models.Summary{Indexed: 2}, summary)
	vectors := f.vecs.Stats(ctx).DocumentCount
	require.Positive(t, vectors)

	// A half-written save.
	require.NoError(t, os.WriteFile(pagesPath, []byte(`[{"id": "1", "title": "Par`), 0644))

	summary, err = f.idx.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, models.Summary{Failed: 1}, summary)
	assert.Equal(t, vectors, f.vecs.Stats(ctx).DocumentCount)
	for _, id := range []string{"1", "2"} {
		rec, err := f.store.GetItem(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.IsActive, "item %s should stay active", id)
	}
}

func TestSync_PageTypes(t *testing.T) {
	f := newFixture(t, WithPageTypes([]string{"BlogPage"}))
	blog := page("blog", "post")
	blog.Type = "blogpage"
	f.source.put(blog)
	f.source.put(page("other", "page"))

	summary, err := f.idx.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)
}

func TestIndexAll_RebuildAndSingleItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.put(page("a", "alpha"))
	f.source.put(page("b", "beta"))

	summary, err := f.idx.IndexAll(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Indexed)

	summary, err = f.idx.IndexAll(ctx, IndexOptions{ContentID: "a"})
	require.NoError(t, err)
	assert.Equal(t, models.Summary{Updated: 1}, summary)

	summary, err = f.idx.IndexAll(ctx, IndexOptions{Rebuild: true})
	require.NoError(t, err)
	assert.Equal(t, models.Summary{Indexed: 2}, summary)
	assert.Equal(t, 2, f.vecs.Stats(ctx).DocumentCount)

	hidden := page("h", "hidden")
	hidden.Live = false
	f.source.put(hidden)
	_, err = f.idx.IndexAll(ctx, IndexOptions{ContentID: "h"})
	assert.ErrorIs(t, err, ErrNotLive)
}

func TestRemoveAndPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.put(page("a", "alpha"))
	f.source.put(page("b", "beta"))
	_, err := f.idx.Sync(ctx, false)
	require.NoError(t, err)

	require.NoError(t, f.idx.Remove(ctx, "a"))
	assert.Equal(t, 1, f.vecs.Stats(ctx).DocumentCount)
	assert.ErrorIs(t, f.idx.Remove(ctx, "missing"), storage.ErrNotFound)

	require.NoError(t, f.idx.Purge(ctx, "a"))
	_, err = f.store.GetItem(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	summary, err := f.idx.RemoveAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Removed)
	assert.Equal(t, 0, f.vecs.Stats(ctx).DocumentCount)
}

func TestOnPublishAndUnpublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.idx.OnPublish(ctx, page("a", "alpha"))
	rec, err := f.store.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.True(t, rec.IsActive)

	f.idx.OnUnpublish(ctx, "a")
	rec, _ = f.store.GetItem(ctx, "a")
	assert.False(t, rec.IsActive)
	assert.Equal(t, 0, f.vecs.Stats(ctx).DocumentCount)

	// Failures and unknown ids are swallowed.
	f.writer.failAdd = true
	f.idx.OnPublish(ctx, page("b", "beta"))
	f.idx.OnUnpublish(ctx, "never-indexed")
}

func TestOnPublish_WaitsForRunningSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.put(page("a", "alpha text"))
	f.writer.entered = make(chan struct{}, 2)
	f.writer.gate = make(chan struct{})

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		_, _ = f.idx.Sync(ctx, false)
	}()
	<-f.writer.entered

	publishDone := make(chan struct{})
	go func() {
		defer close(publishDone)
		f.idx.OnPublish(ctx, page("b", "beta text"))
	}()

	select {
	case <-f.writer.entered:
		t.Fatal("publish wrote to the store while a sync was running")
	case <-time.After(100 * time.Millisecond):
	}
	close(f.writer.gate)
	<-syncDone
	<-publishDone
	assert.Equal(t, int32(2), f.writer.adds.Load())

	for _, id := range []string{"a", "b"} {
		rec, err := f.store.GetItem(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.IsActive)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.idx.IndexItem(ctx, page("a", "alpha")))

	stats, err := f.idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ActiveItems)
	assert.Equal(t, int64(1), stats.VectorCount)
	assert.Equal(t, int64(1), stats.ChunkRecords)
}
