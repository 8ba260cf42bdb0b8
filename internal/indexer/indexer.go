// Package indexer keeps the vector store consistent with the live content: it chunks,
// embeds and writes content items and records what was written in the bookkeeping store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// ErrNoContent is returned when a content item has no text to index.
var ErrNoContent = errors.New("content item has no text")

// ErrNotLive is returned when a single item requested for indexing is not live.
var ErrNotLive = errors.New("content item is not live")

const previewLength = 500

// Source lists the live content items.
type Source interface {
	// LiveItems returns every live item. A *models.UnreadableContentError may accompany
	// a partial listing.
	LiveItems(ctx context.Context) ([]*models.ContentItem, error)
	// Item returns one item by id, live or not.
	Item(ctx context.Context, id string) (*models.ContentItem, error)
}

// VectorWriter embeds and writes chunk documents. *search.Engine implements it.
type VectorWriter interface {
	AddDocuments(ctx context.Context, docs []models.Document) error
	DeleteDocuments(ctx context.Context, ids []string) error
	DeleteAll(ctx context.Context) error
	Stats(ctx context.Context) vector.Stats
}

// Indexer reconciles live content with the index. Operations that change the index run
// one at a time, so a publish event waits for a running sync.
type Indexer struct {
	mu        sync.Mutex
	source    Source
	store     storage.Store
	vectors   VectorWriter
	extractor *extract.Extractor
	chunker   *Chunker
	pageTypes []string
	logger    *zap.Logger
	metrics   *metrics.Recorder
	now       func() time.Time
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for per-item events and failures.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		idx.logger = utils.OrNop(l)
	}
}

// WithMetrics records per-item operations.
func WithMetrics(m *metrics.Recorder) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// WithPageTypes restricts indexing to the given content types. Empty means all types.
func WithPageTypes(types []string) IndexerOption {
	return func(idx *Indexer) { idx.pageTypes = types }
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(source Source, store storage.Store, vectors VectorWriter, chunker *Chunker, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		source:    source,
		store:     store,
		vectors:   vectors,
		extractor: extract.NewExtractor(),
		chunker:   chunker,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// SyncPlan partitions content ids by the action a sync takes on them.
type SyncPlan struct {
	ToIndex   []*models.ContentItem
	ToUpdate  []*models.ContentItem
	ToRemove  []*models.IndexedItem
	Unchanged []string
}

// Plan diffs live items against active bookkeeping records. Every id lands in exactly one set:
// live without a record is indexed, live with an older record (or any record when force is set)
// is updated, a record without a live item is removed.
func Plan(live []*models.ContentItem, active []*models.IndexedItem, force bool) SyncPlan {
	records := make(map[string]*models.IndexedItem, len(active))
	for _, rec := range active {
		records[rec.ContentID] = rec
	}

	var plan SyncPlan
	seen := make(map[string]bool, len(live))
	for _, item := range live {
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		rec, ok := records[item.ID]
		switch {
		case !ok:
			plan.ToIndex = append(plan.ToIndex, item)
		case force || rec.LastModifiedAt.Before(item.LastModified):
			plan.ToUpdate = append(plan.ToUpdate, item)
		default:
			plan.Unchanged = append(plan.Unchanged, item.ID)
		}
	}
	for _, rec := range active {
		if !seen[rec.ContentID] {
			plan.ToRemove = append(plan.ToRemove, rec)
		}
	}
	return plan
}

// IndexItem extracts, chunks and writes one item, replacing whatever was indexed for it before.
// The bookkeeping change commits only if the vector store writes succeed.
func (idx *Indexer) IndexItem(ctx context.Context, item *models.ContentItem) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.index(ctx, item)
}

func (idx *Indexer) index(ctx context.Context, item *models.ContentItem) error {
	err := idx.indexItem(ctx, item)
	idx.metrics.IndexOp("index", err)
	return err
}

func (idx *Indexer) indexItem(ctx context.Context, item *models.ContentItem) error {
	text, err := idx.extractor.Extract(item)
	if err != nil {
		return fmt.Errorf("extract %s: %w", item.ID, err)
	}
	chunks := idx.chunker.Chunk(text)
	if len(chunks) == 0 {
		return fmt.Errorf("%w: %s", ErrNoContent, item.ID)
	}

	previous, err := idx.store.ChunkIDs(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("load chunk records: %w", err)
	}

	now := idx.now().UTC()
	docs := make([]models.Document, len(chunks))
	records := make([]*models.ChunkRecord, len(chunks))
	current := make(map[string]bool, len(chunks))
	for i, chunk := range chunks {
		id := models.ChunkID(item.ID, i)
		current[id] = true
		docs[i] = models.Document{
			ID:   id,
			Text: chunk,
			Metadata: map[string]any{
				models.MetaContentID:   item.ID,
				models.MetaContentType: item.Type,
				models.MetaTitle:       item.Title,
				models.MetaURL:         item.URL,
				models.MetaChunkIndex:  i,
			},
		}
		records[i] = &models.ChunkRecord{
			ChunkID:     id,
			ContentID:   item.ID,
			ChunkIndex:  i,
			TextPreview: utils.Truncate(chunk, previewLength),
			CreatedAt:   now,
		}
	}
	var stale []string
	for _, id := range previous {
		if !current[id] {
			stale = append(stale, id)
		}
	}

	modified := item.LastModified
	if modified.IsZero() {
		modified = now
	}
	rec := &models.IndexedItem{
		ContentID:      item.ID,
		ContentType:    item.Type,
		Title:          item.Title,
		URL:            item.URL,
		LastIndexedAt:  now,
		LastModifiedAt: modified,
		ChunkCount:     len(chunks),
		IsActive:       true,
	}

	err = idx.store.ReplaceItem(ctx, rec, records, func(ctx context.Context) error {
		if err := idx.vectors.DeleteDocuments(ctx, stale); err != nil {
			return err
		}
		return idx.vectors.AddDocuments(ctx, docs)
	})
	if err != nil {
		return fmt.Errorf("index %s: %w", item.ID, err)
	}
	idx.logger.Debug("indexed item",
		zap.String("content_id", item.ID),
		zap.String("title", item.Title),
		zap.Int("chunks", len(chunks)),
		zap.Int("stale_chunks", len(stale)),
	)
	return nil
}

// RemoveItem soft-deletes one item and removes its chunks from the vector store.
func (idx *Indexer) RemoveItem(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.remove(ctx, id)
}

func (idx *Indexer) remove(ctx context.Context, id string) error {
	err := idx.removeItem(ctx, id)
	idx.metrics.IndexOp("remove", err)
	return err
}

func (idx *Indexer) removeItem(ctx context.Context, id string) error {
	if _, err := idx.store.GetItem(ctx, id); err != nil {
		return err
	}
	previous, err := idx.store.ChunkIDs(ctx, id)
	if err != nil {
		return fmt.Errorf("load chunk records: %w", err)
	}
	err = idx.store.DeactivateItem(ctx, id, func(ctx context.Context) error {
		return idx.vectors.DeleteDocuments(ctx, previous)
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	idx.logger.Debug("removed item", zap.String("content_id", id), zap.Int("chunks", len(previous)))
	return nil
}

// Sync indexes new items, re-indexes modified ones and removes items that are no longer live.
// Per-item failures are logged and counted; they never abort the run. When some content
// files cannot be read, each counts as a failure and nothing is removed, since the missing
// items may still be live.
func (idx *Indexer) Sync(ctx context.Context, force bool) (models.Summary, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	live, unreadable, err := idx.liveItems(ctx, idx.pageTypes)
	if err != nil {
		return models.Summary{}, err
	}
	active, err := idx.store.ActiveItems(ctx)
	if err != nil {
		return models.Summary{}, fmt.Errorf("load indexed items: %w", err)
	}

	plan := Plan(live, active, force)
	idx.logger.Info("sync planned",
		zap.Int("to_index", len(plan.ToIndex)),
		zap.Int("to_update", len(plan.ToUpdate)),
		zap.Int("to_remove", len(plan.ToRemove)),
		zap.Int("unchanged", len(plan.Unchanged)),
		zap.Bool("force", force),
	)

	summary := models.Summary{Unchanged: len(plan.Unchanged), Failed: unreadable}
	if unreadable > 0 && len(plan.ToRemove) > 0 {
		idx.logger.Warn("removals skipped: content listing incomplete",
			zap.Int("unreadable_files", unreadable),
			zap.Int("skipped_removals", len(plan.ToRemove)),
		)
		plan.ToRemove = nil
	}
	for _, item := range plan.ToIndex {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if idx.tryIndex(ctx, item) {
			summary.Indexed++
		} else {
			summary.Failed++
		}
	}
	for _, item := range plan.ToUpdate {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if idx.tryIndex(ctx, item) {
			summary.Updated++
		} else {
			summary.Failed++
		}
	}
	for _, rec := range plan.ToRemove {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := idx.remove(ctx, rec.ContentID); err != nil {
			idx.logger.Warn("failed to remove item", zap.String("content_id", rec.ContentID), zap.Error(err))
			summary.Failed++
			continue
		}
		summary.Removed++
	}
	idx.logSummary("sync complete", summary)
	return summary, nil
}

// IndexOptions select what IndexAll indexes.
type IndexOptions struct {
	// ContentID indexes that single item only.
	ContentID string
	// Rebuild empties the vector store and deactivates all bookkeeping first.
	Rebuild bool
	// PageTypes overrides the configured content type allowlist for this run.
	PageTypes []string
}

// IndexAll indexes every live item regardless of modification time.
func (idx *Indexer) IndexAll(ctx context.Context, opts IndexOptions) (models.Summary, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var summary models.Summary
	if opts.Rebuild {
		if err := idx.store.DeactivateAll(ctx, idx.vectors.DeleteAll); err != nil {
			return summary, fmt.Errorf("rebuild: %w", err)
		}
		idx.logger.Info("index cleared for rebuild")
	}

	var items []*models.ContentItem
	if opts.ContentID != "" {
		item, err := idx.source.Item(ctx, opts.ContentID)
		if err != nil {
			return summary, err
		}
		if !item.Live {
			return summary, fmt.Errorf("%w: %s", ErrNotLive, opts.ContentID)
		}
		items = []*models.ContentItem{item}
	} else {
		types := idx.pageTypes
		if len(opts.PageTypes) > 0 {
			types = opts.PageTypes
		}
		var (
			unreadable int
			err        error
		)
		if items, unreadable, err = idx.liveItems(ctx, types); err != nil {
			return summary, err
		}
		summary.Failed += unreadable
	}

	active, err := idx.store.ActiveItems(ctx)
	if err != nil {
		return summary, fmt.Errorf("load indexed items: %w", err)
	}
	known := make(map[string]bool, len(active))
	for _, rec := range active {
		known[rec.ContentID] = true
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		switch {
		case !idx.tryIndex(ctx, item):
			summary.Failed++
		case known[item.ID]:
			summary.Updated++
		default:
			summary.Indexed++
		}
	}
	idx.logSummary("index complete", summary)
	return summary, nil
}

// Remove soft-deletes one item.
func (idx *Indexer) Remove(ctx context.Context, id string) error {
	return idx.RemoveItem(ctx, id)
}

// RemoveAll soft-deletes every item and empties the vector store.
func (idx *Indexer) RemoveAll(ctx context.Context) (models.Summary, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	active, err := idx.store.ActiveItems(ctx)
	if err != nil {
		return models.Summary{}, fmt.Errorf("load indexed items: %w", err)
	}
	if err := idx.store.DeactivateAll(ctx, idx.vectors.DeleteAll); err != nil {
		return models.Summary{}, fmt.Errorf("remove all: %w", err)
	}
	summary := models.Summary{Removed: len(active)}
	idx.logSummary("remove complete", summary)
	return summary, nil
}

// Purge removes an item's chunks from the vector store and hard-deletes its bookkeeping.
func (idx *Indexer) Purge(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	previous, err := idx.store.ChunkIDs(ctx, id)
	if err != nil {
		return fmt.Errorf("load chunk records: %w", err)
	}
	if err := idx.vectors.DeleteDocuments(ctx, previous); err != nil {
		return fmt.Errorf("purge %s: %w", id, err)
	}
	if err := idx.store.PurgeItem(ctx, id); err != nil {
		return err
	}
	idx.metrics.IndexOp("purge", nil)
	idx.logger.Info("purged item", zap.String("content_id", id))
	return nil
}

// OnPublish indexes a newly published or changed item. Failures are logged, never returned.
func (idx *Indexer) OnPublish(ctx context.Context, item *models.ContentItem) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !item.Live {
		idx.unpublish(ctx, item.ID)
		return
	}
	if !typeAllowed(item.Type, idx.pageTypes) {
		idx.logger.Debug("skipping item outside page types", zap.String("content_id", item.ID), zap.String("type", item.Type))
		return
	}
	if err := idx.index(ctx, item); err != nil {
		idx.logger.Error("failed to index published item", zap.String("content_id", item.ID), zap.Error(err))
		return
	}
	idx.logger.Info("indexed published item", zap.String("content_id", item.ID), zap.String("title", item.Title))
}

// OnUnpublish removes an unpublished item. Failures are logged, never returned.
func (idx *Indexer) OnUnpublish(ctx context.Context, id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.unpublish(ctx, id)
}

func (idx *Indexer) unpublish(ctx context.Context, id string) {
	rec, err := idx.store.GetItem(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !rec.IsActive) {
		return
	}
	if err == nil {
		err = idx.remove(ctx, id)
	}
	if err != nil {
		idx.logger.Error("failed to remove unpublished item", zap.String("content_id", id), zap.Error(err))
		return
	}
	idx.logger.Info("removed unpublished item", zap.String("content_id", id))
}

// Stats returns bookkeeping figures plus the vector store's document count.
func (idx *Indexer) Stats(ctx context.Context) (*models.IndexStats, error) {
	stats, err := idx.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("index stats: %w", err)
	}
	stats.VectorCount = int64(idx.vectors.Stats(ctx).DocumentCount)
	return stats, nil
}

func (idx *Indexer) tryIndex(ctx context.Context, item *models.ContentItem) bool {
	if err := idx.index(ctx, item); err != nil {
		idx.logger.Warn("failed to index item",
			zap.String("content_id", item.ID),
			zap.String("title", item.Title),
			zap.Error(err),
		)
		return false
	}
	return true
}

// liveItems returns the live items of the allowed types and the number of content
// files that could not be read.
func (idx *Indexer) liveItems(ctx context.Context, types []string) ([]*models.ContentItem, int, error) {
	all, err := idx.source.LiveItems(ctx)
	var unreadable *models.UnreadableContentError
	if err != nil && !errors.As(err, &unreadable) {
		return nil, 0, fmt.Errorf("list live content: %w", err)
	}
	live := all[:0:0]
	for _, item := range all {
		if item.Live && typeAllowed(item.Type, types) {
			live = append(live, item)
		}
	}
	if unreadable != nil {
		return live, len(unreadable.Paths), nil
	}
	return live, 0, nil
}

func (idx *Indexer) logSummary(msg string, s models.Summary) {
	idx.logger.Info(msg,
		zap.Int("indexed", s.Indexed),
		zap.Int("updated", s.Updated),
		zap.Int("removed", s.Removed),
		zap.Int("unchanged", s.Unchanged),
		zap.Int("failed", s.Failed),
	)
}

func typeAllowed(t string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), t) {
			return true
		}
	}
	return false
}
