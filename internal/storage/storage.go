// Package storage persists the index bookkeeping: which content items are indexed,
// when, and under which chunk ids.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrNotFound is returned when an indexed item does not exist.
var ErrNotFound = errors.New("indexed item not found")

// ApplyFunc performs the vector store writes that belong to a bookkeeping change.
// The change commits only if it returns nil.
type ApplyFunc func(ctx context.Context) error

// Store is the bookkeeping store used by the indexer.
type Store interface {
	GetItem(ctx context.Context, contentID string) (*models.IndexedItem, error)
	ActiveItems(ctx context.Context) ([]*models.IndexedItem, error)
	// ChunkIDs returns the chunk ids recorded for an item, in chunk order.
	ChunkIDs(ctx context.Context, contentID string) ([]string, error)
	ChunkRecords(ctx context.Context, contentID string) ([]*models.ChunkRecord, error)
	// ReplaceItem upserts item, replaces all of its chunk records and runs apply in one transaction.
	ReplaceItem(ctx context.Context, item *models.IndexedItem, chunks []*models.ChunkRecord, apply ApplyFunc) error
	// DeactivateItem deletes the item's chunk records, marks it inactive and runs apply in one transaction.
	DeactivateItem(ctx context.Context, contentID string, apply ApplyFunc) error
	// DeactivateAll does DeactivateItem for every item.
	DeactivateAll(ctx context.Context, apply ApplyFunc) error
	// PurgeItem hard-deletes an item and its chunk records.
	PurgeItem(ctx context.Context, contentID string) error
	Stats(ctx context.Context) (*models.IndexStats, error)
	Close() error
}
