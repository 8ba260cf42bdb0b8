package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "kotae.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testItem(id string, chunks int) (*models.IndexedItem, []*models.ChunkRecord) {
	now := time.Now().UTC().Truncate(time.Second)
	item := &models.IndexedItem{
		ContentID:      id,
		ContentType:    "page",
		Title:          "Title " + id,
		URL:            "/" + id + "/",
		LastIndexedAt:  now,
		LastModifiedAt: now.Add(-time.Hour),
		ChunkCount:     chunks,
		IsActive:       true,
	}
	var records []*models.ChunkRecord
	for i := 0; i < chunks; i++ {
		records = append(records, &models.ChunkRecord{
			ChunkID:     models.ChunkID(id, i),
			ContentID:   id,
			ChunkIndex:  i,
			TextPreview: "preview",
			CreatedAt:   now,
		})
	}
	return item, records
}

func TestSQLiteStore_ReplaceItem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item, chunks := testItem("42", 3)
	applied := false
	if err := store.ReplaceItem(ctx, item, chunks, func(context.Context) error {
		applied = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Error("apply was not called")
	}

	got, err := store.GetItem(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Title 42" || got.ChunkCount != 3 || !got.IsActive {
		t.Errorf("got %+v", got)
	}
	if !got.LastModifiedAt.Equal(item.LastModifiedAt) {
		t.Errorf("last modified: got %v, want %v", got.LastModifiedAt, item.LastModifiedAt)
	}

	ids, err := store.ChunkIDs(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"page_42_chunk_0", "page_42_chunk_1", "page_42_chunk_2"}
	if len(ids) != len(want) {
		t.Fatalf("chunk ids: got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("chunk %d: got %s, want %s", i, ids[i], want[i])
		}
	}

	// Replacing with fewer chunks drops the stale records.
	item, chunks = testItem("42", 1)
	if err := store.ReplaceItem(ctx, item, chunks, nil); err != nil {
		t.Fatal(err)
	}
	ids, _ = store.ChunkIDs(ctx, "42")
	if len(ids) != 1 {
		t.Errorf("expected 1 chunk after replace, got %v", ids)
	}
}

func TestSQLiteStore_ApplyFailureRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item, chunks := testItem("7", 2)
	if err := store.ReplaceItem(ctx, item, chunks, nil); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("vector store down")
	item2, chunks2 := testItem("7", 5)
	item2.Title = "Changed"
	err := store.ReplaceItem(ctx, item2, chunks2, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected apply error, got %v", err)
	}

	got, _ := store.GetItem(ctx, "7")
	if got.Title != "Title 7" || got.ChunkCount != 2 {
		t.Errorf("item changed despite rollback: %+v", got)
	}
	ids, _ := store.ChunkIDs(ctx, "7")
	if len(ids) != 2 {
		t.Errorf("chunk records changed despite rollback: %v", ids)
	}

	err = store.DeactivateItem(ctx, "7", func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected apply error, got %v", err)
	}
	got, _ = store.GetItem(ctx, "7")
	if !got.IsActive {
		t.Error("item deactivated despite rollback")
	}
}

func TestSQLiteStore_Deactivate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		item, chunks := testItem(id, 2)
		if err := store.ReplaceItem(ctx, item, chunks, nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.DeactivateItem(ctx, "2", nil); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetItem(ctx, "2")
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive || got.ChunkCount != 0 {
		t.Errorf("expected inactive with no chunks, got %+v", got)
	}
	ids, _ := store.ChunkIDs(ctx, "2")
	if len(ids) != 0 {
		t.Errorf("expected no chunk records, got %v", ids)
	}

	active, err := store.ActiveItems(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 || active[0].ContentID != "1" || active[1].ContentID != "3" {
		t.Errorf("unexpected active items: %+v", active)
	}

	// Unknown ids are a no-op.
	if err := store.DeactivateItem(ctx, "missing", nil); err != nil {
		t.Errorf("deactivate unknown: %v", err)
	}

	if err := store.DeactivateAll(ctx, nil); err != nil {
		t.Fatal(err)
	}
	active, _ = store.ActiveItems(ctx)
	if len(active) != 0 {
		t.Errorf("expected no active items, got %d", len(active))
	}
}

func TestSQLiteStore_Purge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item, chunks := testItem("9", 2)
	_ = store.ReplaceItem(ctx, item, chunks, nil)

	if err := store.PurgeItem(ctx, "9"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetItem(ctx, "9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	records, _ := store.ChunkRecords(ctx, "9")
	if len(records) != 0 {
		t.Errorf("chunk records survived purge: %d", len(records))
	}
	if err := store.PurgeItem(ctx, "9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second purge: expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ActiveItems != 0 || stats.LastIndexedAt != nil {
		t.Errorf("empty store stats: %+v", stats)
	}

	a, ac := testItem("a", 2)
	b, bc := testItem("b", 3)
	b.ContentType = "blog"
	b.LastIndexedAt = a.LastIndexedAt.Add(time.Minute)
	_ = store.ReplaceItem(ctx, a, ac, nil)
	_ = store.ReplaceItem(ctx, b, bc, nil)
	_ = store.DeactivateItem(ctx, "a", nil)

	stats, err = store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ActiveItems != 1 || stats.InactiveItems != 1 || stats.ChunkRecords != 3 {
		t.Errorf("counts: %+v", stats)
	}
	if stats.ByContentType["blog"] != 1 || stats.ByContentType["page"] != 0 {
		t.Errorf("by content type: %v", stats.ByContentType)
	}
	if stats.LastIndexedAt == nil || !stats.LastIndexedAt.Equal(b.LastIndexedAt) {
		t.Errorf("last indexed: got %v, want %v", stats.LastIndexedAt, b.LastIndexedAt)
	}
	if stats.DatabaseBytes <= 0 {
		t.Errorf("expected database size, got %d", stats.DatabaseBytes)
	}
}
