package content

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Handler receives publish and unpublish events. *indexer.Indexer implements it.
type Handler interface {
	OnPublish(ctx context.Context, item *models.ContentItem)
	OnUnpublish(ctx context.Context, id string)
}

// Watcher watches the content directory and turns file changes into publish and unpublish
// events: a created or changed file publishes its items, a removed file unpublishes them.
type Watcher struct {
	source      *FileSource
	handler     Handler
	debounce    time.Duration
	logger      *zap.Logger
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	pathIDs     map[string][]string // file -> ids it defined at last read
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets a logger for file events.
func WithWatcherLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = utils.OrNop(l)
	}
}

// WithDebounce sets how long a file must be quiet before it is published.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over source's directory.
func NewWatcher(source *FileSource, handler Handler, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:      source,
		handler:     handler,
		debounce:    defaultDebounce,
		logger:      zap.NewNop(),
		debounceMap: make(map[string]*time.Timer),
		pathIDs:     make(map[string][]string),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. Files already present are recorded but not published; run a sync
// for those. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	root := w.source.Dir()
	if err := os.MkdirAll(root, 0755); err != nil {
		w.mu.Unlock()
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	if err := w.addTreeLocked(root); err != nil {
		_ = w.watcher.Close()
		w.watcher = nil
		w.started = false
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	w.snapshot(root)
	w.logger.Info("watching content directory", zap.String("dir", root))
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(ctx, path)
			return
		}
		if w.source.Accepts(path) {
			w.debouncePublish(ctx, path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelDebounce(path)
		for _, p := range w.recordedUnder(path) {
			w.unpublishFile(ctx, p)
		}
	}
}

// handleNewDirectory watches a directory that appeared under the root and publishes its files.
func (w *Watcher) handleNewDirectory(ctx context.Context, dir string) {
	w.mu.Lock()
	if w.watcher != nil {
		if err := w.addTreeLocked(dir); err != nil {
			w.logger.Warn("failed to watch new directory", zap.String("path", dir), zap.Error(err))
		}
	}
	w.mu.Unlock()

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.source.Accepts(path) {
			w.publishFile(ctx, path)
		}
		return nil
	})
}

func (w *Watcher) addTreeLocked(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// snapshot records the ids defined by every existing file.
func (w *Watcher) snapshot(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !w.source.Accepts(path) {
			return nil
		}
		items, err := w.source.ItemsFromFile(path)
		if err != nil {
			return nil
		}
		w.record(path, items)
		return nil
	})
}

func (w *Watcher) debouncePublish(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		w.publishFile(ctx, path)
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.debounceMap {
		if p == path || inDir(path, p) {
			t.Stop()
			delete(w.debounceMap, p)
		}
	}
}

// publishFile publishes the items of path and unpublishes ids the file no longer defines.
func (w *Watcher) publishFile(ctx context.Context, path string) {
	items, err := w.source.ItemsFromFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			w.unpublishFile(ctx, path)
			return
		}
		w.logger.Warn("failed to read content file", zap.String("path", path), zap.Error(err))
		return
	}
	current := make(map[string]bool, len(items))
	for _, item := range items {
		current[item.ID] = true
	}
	for _, id := range w.record(path, items) {
		if !current[id] {
			w.handler.OnUnpublish(ctx, id)
		}
	}
	for _, item := range items {
		w.handler.OnPublish(ctx, item)
	}
}

func (w *Watcher) unpublishFile(ctx context.Context, path string) {
	w.mu.Lock()
	ids, ok := w.pathIDs[path]
	delete(w.pathIDs, path)
	w.mu.Unlock()
	if !ok {
		if id := w.source.IDForPath(path); id != "" {
			ids = []string{id}
		}
	}
	for _, id := range ids {
		w.handler.OnUnpublish(ctx, id)
	}
}

// record stores the ids path defines and returns the ids it defined before.
func (w *Watcher) record(path string, items []*models.ContentItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.pathIDs[path]
	w.pathIDs[path] = ids
	return prev
}

// recordedUnder returns the recorded files equal to or below path, sorted.
func (w *Watcher) recordedUnder(path string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var paths []string
	for p := range w.pathIDs {
		if p == path || inDir(path, p) {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 && w.source.IDForPath(path) != "" && w.source.Accepts(path) {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
