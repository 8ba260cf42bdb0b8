package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"

	"github.com/hyperjump/kotae/internal/backend"
)

// CachedEmbedder serves repeated texts from a Cache and forwards misses to the wrapped embedder.
type CachedEmbedder struct {
	inner Embedder
	cache Cache
}

// NewCachedEmbedder wraps inner with cache.
func NewCachedEmbedder(inner Embedder, cache Cache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache}
}

// Name returns the wrapped backend's name.
func (e *CachedEmbedder) Name() string { return e.inner.Name() }

// Embed returns the cached embedding or computes and stores it.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	if emb, ok := e.cache.Get(ctx, key); ok && len(emb) == e.inner.Dimensions() {
		return emb, nil
	}
	emb, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, key, emb)
	return emb, nil
}

// EmbedBatch sends only the cache misses to the wrapped embedder, in one batch.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if emb, ok := e.cache.Get(ctx, e.key(text)); ok && len(emb) == e.inner.Dimensions() {
			out[i] = emb
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	embs, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(embs) != len(missTexts) {
		return nil, &backend.BatchSizeMismatchError{Expected: len(missTexts), Got: len(embs)}
	}
	for j, emb := range embs {
		out[missIdx[j]] = emb
		e.cache.Set(ctx, e.key(missTexts[j]), emb)
	}
	return out, nil
}

// Dimensions returns the wrapped embedder's width.
func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

// IsAvailable probes the wrapped embedder.
func (e *CachedEmbedder) IsAvailable(ctx context.Context) bool { return e.inner.IsAvailable(ctx) }

// Close closes the wrapped embedder and the cache when it holds a connection.
func (e *CachedEmbedder) Close() error {
	err := e.inner.Close()
	if c, ok := e.cache.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// key scopes cache entries by backend and width so switching models never serves stale vectors.
func (e *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(e.inner.Name() + "\x00" + strconv.Itoa(e.inner.Dimensions()) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
