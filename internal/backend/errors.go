// Package backend holds the error taxonomy and the name -> constructor registry
// shared by the embedder, vector store and language model packages.
package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel categories. Concrete errors below match them with errors.Is.
var (
	// ErrConfiguration marks unknown backends and missing credentials. Raised at construction.
	ErrConfiguration = errors.New("configuration error")
	// ErrProvider marks network or API failures of an embedding, generation or vector store provider.
	ErrProvider = errors.New("provider error")
	// ErrIntegrity marks batch size and dimension mismatches. Never retried.
	ErrIntegrity = errors.New("integrity error")
)

// ConfigurationError reports an invalid or incomplete backend configuration.
type ConfigurationError struct {
	Backend string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Backend == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Backend, e.Message)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// MissingCredential returns a ConfigurationError for a required setting that is empty.
func MissingCredential(backend, setting string) error {
	return &ConfigurationError{Backend: backend, Message: setting + " is required"}
}

// UnknownBackendError is returned when a configured backend name has no registered constructor.
type UnknownBackendError struct {
	Kind  string
	Name  string
	Known []string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown %s backend %q (supported: %s)", e.Kind, e.Name, strings.Join(e.Known, ", "))
}

func (e *UnknownBackendError) Is(target error) bool { return target == ErrConfiguration }

// EmbeddingError wraps a failure of an embedding provider.
type EmbeddingError struct {
	Backend string
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed (%s): %v", e.Backend, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func (e *EmbeddingError) Is(target error) bool { return target == ErrProvider }

// GenerationError wraps a failure of a language model provider.
type GenerationError struct {
	Backend string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Backend, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrProvider }

// StoreError wraps a failure of a vector store.
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s failed (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrProvider }

// BatchSizeMismatchError is returned when an embedder returns a different number of
// vectors than texts, or a store receives different numbers of documents and vectors.
type BatchSizeMismatchError struct {
	Expected int
	Got      int
}

func (e *BatchSizeMismatchError) Error() string {
	return fmt.Sprintf("batch size mismatch: expected %d embeddings, got %d", e.Expected, e.Got)
}

func (e *BatchSizeMismatchError) Is(target error) bool { return target == ErrIntegrity }

// DimensionMismatchError is returned when an embedding width disagrees with the
// width the store or embedder is bound to. Index identifies the offending vector, -1 for a query.
type DimensionMismatchError struct {
	Expected int
	Got      int
	Index    int
}

func (e *DimensionMismatchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
	}
	return fmt.Sprintf("dimension mismatch at vector %d: expected %d, got %d", e.Index, e.Expected, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrIntegrity }

// CheckDimensions verifies that every vector has width dim. When dim is 0 the width
// of the first vector is used. It returns the width the batch is bound to.
func CheckDimensions(vectors [][]float32, dim int) (int, error) {
	for i, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim || len(v) == 0 {
			return dim, &DimensionMismatchError{Expected: dim, Got: len(v), Index: i}
		}
	}
	return dim, nil
}
