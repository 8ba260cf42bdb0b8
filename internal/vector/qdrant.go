package vector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/provider"
)

// Ensure QdrantStore implements the interface.
var _ VectorStore = (*QdrantStore)(nil)

// pointNamespace derives stable UUID point ids from chunk ids, which Qdrant and Weaviate
// do not accept as ids directly.
var pointNamespace = uuid.MustParse("8f5b7c1e-3d2a-4b6f-9e0d-1a2b3c4d5e6f")

// PointID returns the UUID under which a chunk id is stored in remote stores.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

const payloadChunkID = "chunk_id"
const payloadText = "text"

// QdrantConfig configures the Qdrant store.
type QdrantConfig struct {
	BaseURL    string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// QdrantStore talks to the Qdrant REST API. The collection is created on first write
// with cosine distance and the width of that batch.
type QdrantStore struct {
	client     *provider.Client
	collection string
	mu         sync.Mutex
	dimensions int
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type qdrantCondition struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
	} `json:"match"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantSearchRequest struct {
	Vector      []float32     `json:"vector"`
	Limit       int           `json:"limit"`
	WithPayload bool          `json:"with_payload"`
	Filter      *qdrantFilter `json:"filter,omitempty"`
}

type qdrantScoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantCollectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// NewQdrantStore creates the store. No request is made until first use.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.BaseURL == "" {
		return nil, backend.MissingCredential("qdrant", "base_url")
	}
	if cfg.Collection == "" {
		return nil, &backend.ConfigurationError{Backend: "qdrant", Message: "collection is required"}
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["api-key"] = cfg.APIKey
	}
	return &QdrantStore{
		client:     provider.New(provider.Config{Name: "qdrant", BaseURL: cfg.BaseURL, Headers: headers, Timeout: cfg.Timeout}),
		collection: cfg.Collection,
	}, nil
}

// Name returns the registry name.
func (s *QdrantStore) Name() string { return "qdrant" }

func (s *QdrantStore) path(suffix string) string {
	return "/collections/" + url.PathEscape(s.collection) + suffix
}

// ensureCollection binds the store to dim, creating the collection when it does not exist.
func (s *QdrantStore) ensureCollection(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimensions == 0 {
		var info qdrantCollectionInfo
		err := s.client.GetJSON(ctx, s.path(""), &info)
		switch {
		case err == nil:
			s.dimensions = info.Result.Config.Params.Vectors.Size
		case isNotFound(err):
			body := map[string]any{"vectors": map[string]any{"size": dim, "distance": "Cosine"}}
			if err := s.client.Do(ctx, http.MethodPut, s.path(""), body, nil); err != nil {
				return fmt.Errorf("create collection: %w", err)
			}
			s.dimensions = dim
		default:
			return fmt.Errorf("get collection: %w", err)
		}
	}
	if dim != s.dimensions {
		return &backend.DimensionMismatchError{Expected: s.dimensions, Got: dim}
	}
	return nil
}

// AddDocuments upserts docs as points. Payload carries the chunk id, text and metadata.
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []models.Document, embeddings [][]float32) error {
	if len(docs) == 0 && len(embeddings) == 0 {
		return nil
	}
	dim, err := checkBatch(docs, embeddings, 0)
	if err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, dim); err != nil {
		var dm *backend.DimensionMismatchError
		if errors.As(err, &dm) {
			return err
		}
		return &backend.StoreError{Backend: "qdrant", Op: "add", Err: err}
	}
	points := make([]qdrantPoint, len(docs))
	for i, doc := range docs {
		payload := make(map[string]any, len(doc.Metadata)+2)
		for k, v := range doc.Metadata {
			payload[k] = v
		}
		payload[payloadChunkID] = doc.ID
		payload[payloadText] = doc.Text
		points[i] = qdrantPoint{ID: PointID(doc.ID), Vector: embeddings[i], Payload: payload}
	}
	if err := s.client.Do(ctx, http.MethodPut, s.path("/points?wait=true"), map[string]any{"points": points}, nil); err != nil {
		return &backend.StoreError{Backend: "qdrant", Op: "add", Err: err}
	}
	return nil
}

// Search runs a cosine search. A missing collection yields no results.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]models.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	req := qdrantSearchRequest{Vector: vector, Limit: topK, WithPayload: true}
	if len(filter) > 0 {
		req.Filter = &qdrantFilter{}
		for k, v := range filter {
			c := qdrantCondition{Key: k}
			c.Match.Value = v
			req.Filter.Must = append(req.Filter.Must, c)
		}
	}
	var resp struct {
		Result []qdrantScoredPoint `json:"result"`
	}
	if err := s.client.PostJSON(ctx, s.path("/points/search"), req, &resp); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, &backend.StoreError{Backend: "qdrant", Op: "search", Err: err}
	}
	results := make([]models.SearchResult, 0, len(resp.Result))
	for _, p := range resp.Result {
		doc := models.Document{Metadata: make(map[string]any, len(p.Payload))}
		for k, v := range p.Payload {
			switch k {
			case payloadChunkID:
				doc.ID, _ = v.(string)
			case payloadText:
				doc.Text, _ = v.(string)
			default:
				doc.Metadata[k] = v
			}
		}
		if doc.ID == "" {
			doc.ID = fmt.Sprint(p.ID)
		}
		results = append(results, models.SearchResult{Document: doc, Score: p.Score})
	}
	return results, nil
}

// DeleteDocuments deletes the points of the given chunk ids.
func (s *QdrantStore) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = PointID(id)
	}
	err := s.client.PostJSON(ctx, s.path("/points/delete?wait=true"), map[string]any{"points": points}, nil)
	if err != nil && !isNotFound(err) {
		return &backend.StoreError{Backend: "qdrant", Op: "delete", Err: err}
	}
	return nil
}

// DeleteAll drops the collection. The next write recreates it.
func (s *QdrantStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.client.Do(ctx, http.MethodDelete, s.path(""), nil, nil)
	if err != nil && !isNotFound(err) {
		return &backend.StoreError{Backend: "qdrant", Op: "delete_all", Err: err}
	}
	s.dimensions = 0
	return nil
}

// IsAvailable lists collections.
func (s *QdrantStore) IsAvailable(ctx context.Context) bool {
	return s.client.Ping(ctx, "/collections")
}

// Stats counts points exactly.
func (s *QdrantStore) Stats(ctx context.Context) Stats {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.client.PostJSON(ctx, s.path("/points/count"), map[string]any{"exact": true}, &resp); err != nil {
		return Stats{}
	}
	return Stats{DocumentCount: resp.Result.Count}
}

// Close is a no-op.
func (s *QdrantStore) Close() error { return nil }

func isNotFound(err error) bool {
	var se *provider.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
