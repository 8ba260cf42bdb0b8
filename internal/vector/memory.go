package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Ensure MemoryStore implements the interface.
var _ VectorStore = (*MemoryStore)(nil)

const memoryFileMagic = "KVS1"

// MemoryStore is an in-process store with brute-force cosine search. When created with a
// path it loads the file on start and rewrites it after every mutation.
type MemoryStore struct {
	path       string
	dimensions int
	index      map[string]int
	docs       []models.Document
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryStore creates a store persisted at path. An empty path keeps everything in memory.
func NewMemoryStore(path string) (*MemoryStore, error) {
	m := &MemoryStore{path: path, index: make(map[string]int)}
	if err := m.load(); err != nil {
		return nil, &backend.StoreError{Backend: "memory", Op: "load", Err: err}
	}
	return m, nil
}

// Name returns the registry name.
func (m *MemoryStore) Name() string { return "memory" }

// AddDocuments upserts docs. The first write establishes the store's width.
func (m *MemoryStore) AddDocuments(ctx context.Context, docs []models.Document, embeddings [][]float32) error {
	if len(docs) == 0 && len(embeddings) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dim, err := checkBatch(docs, embeddings, m.dimensions)
	if err != nil {
		return err
	}
	m.dimensions = dim
	for i, doc := range docs {
		vec := make([]float32, dim)
		copy(vec, embeddings[i])
		doc.Metadata = copyMetadata(doc.Metadata)
		if pos, ok := m.index[doc.ID]; ok {
			m.docs[pos] = doc
			m.vectors[pos] = vec
			continue
		}
		m.index[doc.ID] = len(m.docs)
		m.docs = append(m.docs, doc)
		m.vectors = append(m.vectors, vec)
	}
	return m.persist()
}

// Search returns the topK most similar documents that match filter.
func (m *MemoryStore) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]models.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if topK <= 0 || len(m.docs) == 0 {
		return nil, nil
	}
	if len(vector) != m.dimensions {
		return nil, &backend.DimensionMismatchError{Expected: m.dimensions, Got: len(vector), Index: -1}
	}
	results := make([]models.SearchResult, 0, len(m.docs))
	for i := range m.docs {
		if !filter.Matches(&m.docs[i]) {
			continue
		}
		results = append(results, models.SearchResult{
			Document: m.docs[i],
			Score:    utils.CosineSimilarity(vector, m.vectors[i]),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK < len(results) {
		results = results[:topK]
	}
	for i := range results {
		results[i].Metadata = copyMetadata(results[i].Metadata)
	}
	return results, nil
}

// DeleteDocuments removes ids, ignoring unknown ones.
func (m *MemoryStore) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.index[id]; ok {
			remove[id] = true
		}
	}
	if len(remove) == 0 {
		return nil
	}
	docs := make([]models.Document, 0, len(m.docs)-len(remove))
	vectors := make([][]float32, 0, len(m.docs)-len(remove))
	for i, doc := range m.docs {
		if !remove[doc.ID] {
			docs = append(docs, doc)
			vectors = append(vectors, m.vectors[i])
		}
	}
	m.docs, m.vectors = docs, vectors
	m.reindex()
	return m.persist()
}

// DeleteAll clears the store and unbinds its width.
func (m *MemoryStore) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs, m.vectors = nil, nil
	m.dimensions = 0
	m.reindex()
	return m.persist()
}

// IsAvailable is always true.
func (m *MemoryStore) IsAvailable(context.Context) bool { return true }

// Stats returns the number of stored documents.
func (m *MemoryStore) Stats(context.Context) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{DocumentCount: len(m.docs)}
}

// Dimensions returns the established width, 0 while the store is empty and unbound.
func (m *MemoryStore) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimensions
}

// Close is a no-op; every mutation is already on disk.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) reindex() {
	m.index = make(map[string]int, len(m.docs))
	for i, doc := range m.docs {
		m.index[doc.ID] = i
	}
}

func copyMetadata(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// persist writes the store to a temp file and renames it over path. Format: magic, dimension (4),
// count (4), then per document: id, text and metadata JSON as length-prefixed strings, then the vector.
func (m *MemoryStore) persist() error {
	if m.path == "" {
		return nil
	}
	if err := m.write(); err != nil {
		return &backend.StoreError{Backend: "memory", Op: "save", Err: err}
	}
	return nil
}

func (m *MemoryStore) write() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	w.WriteString(memoryFileMagic)
	writeUint32(w, uint32(m.dimensions))
	writeUint32(w, uint32(len(m.docs)))
	for i, doc := range m.docs {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("encode metadata of %s: %w", doc.ID, err)
		}
		writeBytes(w, []byte(doc.ID))
		writeBytes(w, []byte(doc.Text))
		writeBytes(w, meta)
		for _, f := range m.vectors[i] {
			writeUint32(w, math.Float32bits(f))
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close store file: %w", err)
	}
	return os.Rename(tmp.Name(), m.path)
}

// load reads the file at path. A missing file leaves the store empty.
func (m *MemoryStore) load() error {
	if m.path == "" {
		return nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open store file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	magic := make([]byte, len(memoryFileMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != memoryFileMagic {
		return errors.New("not a vector store file")
	}
	dim, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	n, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	m.dimensions = int(dim)
	m.docs = make([]models.Document, 0, n)
	m.vectors = make([][]float32, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		text, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("read text: %w", err)
		}
		meta, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		doc := models.Document{ID: string(id), Text: string(text)}
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return fmt.Errorf("decode metadata of %s: %w", doc.ID, err)
		}
		vec := make([]float32, dim)
		for j := range vec {
			bits, err := readUint32(r)
			if err != nil {
				return fmt.Errorf("read vector: %w", err)
			}
			vec[j] = math.Float32frombits(bits)
		}
		m.docs = append(m.docs, doc)
		m.vectors = append(m.vectors, vec)
	}
	m.reindex()
	return nil
}

func writeUint32(w *bufio.Writer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}

func writeBytes(w *bufio.Writer, b []byte) {
	writeUint32(w, uint32(len(b)))
	w.Write(b)
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
