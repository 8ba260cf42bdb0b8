// Package content reads content items from a directory and turns file changes into
// publish and unpublish events.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// ErrNotFound is returned when no content item has the requested id.
var ErrNotFound = errors.New("content item not found")

const (
	defaultPageType = "page"
	documentType    = "document"
)

// FileSource serves content items from a directory. Every *.json file holds one page
// object or an array of pages; every other supported file is one document item.
type FileSource struct {
	dir        string
	extensions []string
	logger     *zap.Logger
}

// SourceOption configures a FileSource.
type SourceOption func(*FileSource)

// WithLogger sets a logger for skipped and malformed files.
func WithLogger(l *zap.Logger) SourceOption {
	return func(s *FileSource) {
		s.logger = utils.OrNop(l)
	}
}

// WithExtensions restricts which files are read. Empty means every supported extension.
func WithExtensions(exts []string) SourceOption {
	return func(s *FileSource) { s.extensions = exts }
}

// NewFileSource returns a source over dir.
func NewFileSource(dir string, opts ...SourceOption) (*FileSource, error) {
	if dir == "" {
		return nil, errors.New("content directory is not configured")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	s := &FileSource{dir: abs, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the absolute content directory.
func (s *FileSource) Dir() string { return s.dir }

// LiveItems returns every live item ordered by id. When some files cannot be read
// the items of the readable ones are returned with a *models.UnreadableContentError.
func (s *FileSource) LiveItems(ctx context.Context) ([]*models.ContentItem, error) {
	all, err := s.allItems(ctx)
	if err != nil && all == nil {
		return nil, err
	}
	live := make([]*models.ContentItem, 0, len(all))
	for _, item := range all {
		if item.Live {
			live = append(live, item)
		}
	}
	return live, err
}

// Item returns one item by id, live or not.
func (s *FileSource) Item(ctx context.Context, id string) (*models.ContentItem, error) {
	all, err := s.allItems(ctx)
	if err != nil && all == nil {
		return nil, err
	}
	for _, item := range all {
		if item.ID == id {
			return item, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, id, err)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// allItems walks the content directory. Files that fail to read are collected into a
// *models.UnreadableContentError returned alongside the items that were read.
func (s *FileSource) allItems(ctx context.Context) ([]*models.ContentItem, error) {
	info, err := os.Stat(s.dir)
	if err != nil {
		return nil, fmt.Errorf("stat content directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", s.dir)
	}

	items := []*models.ContentItem{}
	var unreadable models.UnreadableContentError
	seen := make(map[string]string)
	err = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.Accepts(path) {
			return nil
		}
		fileItems, err := s.ItemsFromFile(path)
		if err != nil {
			s.logger.Warn("unreadable content file", zap.String("path", path), zap.Error(err))
			unreadable.Paths = append(unreadable.Paths, path)
			unreadable.Errs = append(unreadable.Errs, err)
			return nil
		}
		for _, item := range fileItems {
			if prev, dup := seen[item.ID]; dup {
				s.logger.Warn("duplicate content id", zap.String("id", item.ID), zap.String("path", path), zap.String("first", prev))
				continue
			}
			seen[item.ID] = path
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk content directory: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if len(unreadable.Paths) > 0 {
		return items, &unreadable
	}
	return items, nil
}

// Accepts reports whether path is a content file this source reads.
func (s *FileSource) Accepts(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	if len(s.extensions) > 0 && !matchExtension(path, s.extensions) {
		return false
	}
	return ext == ".json" || (ext != "" && extract.Supported(ext))
}

// ItemsFromFile reads the items defined by one file.
func (s *FileSource) ItemsFromFile(path string) ([]*models.ContentItem, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return s.readPages(path, rel, info.ModTime())
	}
	return []*models.ContentItem{{
		ID:           FileItemID(rel),
		Type:         documentType,
		Title:        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		URL:          filepath.ToSlash(rel),
		Live:         true,
		LastModified: info.ModTime().UTC(),
		SourcePath:   path,
	}}, nil
}

// IDForPath returns the id of the document item path would define. JSON page files
// define their own ids and return "".
func (s *FileSource) IDForPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ""
	}
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return ""
	}
	return FileItemID(rel)
}

type pageDocument struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Title        string            `json:"title"`
	URL          string            `json:"url"`
	Live         *bool             `json:"live"`
	LastModified time.Time         `json:"last_modified"`
	Body         []models.Block    `json:"body"`
	Fields       map[string]string `json:"fields"`
}

func (s *FileSource) readPages(path, rel string, mtime time.Time) ([]*models.ContentItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pages []pageDocument
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &pages)
	} else {
		var page pageDocument
		err = json.Unmarshal(data, &page)
		pages = []pageDocument{page}
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rel, err)
	}

	items := make([]*models.ContentItem, 0, len(pages))
	for i, p := range pages {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			if len(pages) == 1 {
				id = FileItemID(rel)
			} else {
				id = FileItemID(fmt.Sprintf("%s#%d", rel, i))
			}
		}
		typ := p.Type
		if typ == "" {
			typ = defaultPageType
		}
		modified := p.LastModified
		if modified.IsZero() {
			modified = mtime
		}
		items = append(items, &models.ContentItem{
			ID:           id,
			Type:         typ,
			Title:        p.Title,
			URL:          p.URL,
			Live:         p.Live == nil || *p.Live,
			LastModified: modified.UTC(),
			Body:         p.Body,
			Fields:       p.Fields,
		})
	}
	return items, nil
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
