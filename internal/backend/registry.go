package backend

import (
	"sort"
	"sync"

	"github.com/hyperjump/kotae/internal/config"
)

// Constructor builds a backend from the loaded configuration. Constructors must
// validate credentials and must not perform network calls.
type Constructor[T any] func(cfg *config.Config) (T, error)

// Registry maps backend names to constructors for one kind of backend.
type Registry[T any] struct {
	kind  string
	mu    sync.RWMutex
	ctors map[string]Constructor[T]
}

// NewRegistry returns an empty registry. kind names the backend family in errors.
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, ctors: make(map[string]Constructor[T])}
}

// Register adds or replaces the constructor for name.
func (r *Registry[T]) Register(name string, ctor Constructor[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

// Names returns the registered backend names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New resolves name and constructs the backend. An unknown name fails with
// *UnknownBackendError before any constructor runs.
func (r *Registry[T]) New(name string, cfg *config.Config) (T, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, &UnknownBackendError{Kind: r.kind, Name: name, Known: r.Names()}
	}
	return ctor(cfg)
}
