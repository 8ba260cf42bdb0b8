// Package models defines the data structures shared across the indexing and query pipelines.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Metadata keys written on every indexed Document.
const (
	MetaContentID   = "content_id"
	MetaContentType = "content_type"
	MetaTitle       = "title"
	MetaURL         = "url"
	MetaChunkIndex  = "chunk_index"
)

// Document is one chunk of one content item on its way to or from a vector store.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChunkID returns the deterministic vector-store id of chunk i of a content item.
func ChunkID(contentID string, i int) string {
	return fmt.Sprintf("page_%s_chunk_%d", contentID, i)
}

// MetaString returns the metadata value under key as a string, or "" if absent.
func (d *Document) MetaString(key string) string {
	if d.Metadata == nil {
		return ""
	}
	switch v := d.Metadata[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// SearchResult is a Document returned by a vector search with its similarity score.
// Higher scores are more relevant; the range is store-defined.
type SearchResult struct {
	Document
	Score float64 `json:"score"`
}

// Block is one structured body block of a content item, e.g. a paragraph or heading.
type Block struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// ContentItem is a live item published by the content source.
type ContentItem struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Title        string            `json:"title"`
	URL          string            `json:"url"`
	Live         bool              `json:"live"`
	LastModified time.Time         `json:"last_modified"`
	Body         []Block           `json:"body,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	// SourcePath is set for items backed by a binary document (pdf, docx, ...).
	SourcePath string `json:"-"`
	// Text, when set, is used as the already extracted plain text of the item.
	Text string `json:"-"`
}

// IndexedItem is the bookkeeping record of a content item in the index.
type IndexedItem struct {
	ContentID      string    `json:"content_id"`
	ContentType    string    `json:"content_type"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	LastIndexedAt  time.Time `json:"last_indexed_at"`
	LastModifiedAt time.Time `json:"last_modified_at"`
	ChunkCount     int       `json:"chunk_count"`
	IsActive       bool      `json:"is_active"`
}

// ChunkRecord is the bookkeeping record of one chunk of an IndexedItem.
type ChunkRecord struct {
	ChunkID     string    `json:"chunk_id"`
	ContentID   string    `json:"content_id"`
	ChunkIndex  int       `json:"chunk_index"`
	TextPreview string    `json:"text_preview"`
	CreatedAt   time.Time `json:"created_at"`
}

// UnreadableContentError reports content files that could not be read while listing
// items. A listing that returns it still carries every item it could read.
type UnreadableContentError struct {
	Paths []string
	Errs  []error
}

func (e *UnreadableContentError) Error() string {
	return fmt.Sprintf("%d unreadable content file(s): %v", len(e.Paths), errors.Join(e.Errs...))
}

func (e *UnreadableContentError) Unwrap() []error { return e.Errs }
