package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-openapi/strfmt"
	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/models"
	wv "github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	wvmodels "github.com/weaviate/weaviate/entities/models"
)

// Ensure WeaviateStore implements the interface.
var _ VectorStore = (*WeaviateStore)(nil)

// Properties of the chunk class. Metadata keys outside this list survive in metadata_json.
const (
	propMetadataJSON = "metadata_json"
)

var weaviateTextProps = []string{payloadChunkID, payloadText, models.MetaContentID, models.MetaContentType, models.MetaTitle, models.MetaURL}

// WeaviateConfig configures the Weaviate store.
type WeaviateConfig struct {
	BaseURL    string
	APIKey     string
	Headers    map[string]string
	Collection string
	Timeout    time.Duration
}

// WeaviateStore keeps chunks in one Weaviate class with externally supplied vectors.
type WeaviateStore struct {
	client    *wv.Client
	className string
	timeout   time.Duration
	mu        sync.Mutex
	ready     bool
	// dimensions is the width written by this process, 0 until the first write.
	dimensions int
}

// NewWeaviateStore creates the store. The class is created on first write.
func NewWeaviateStore(cfg WeaviateConfig) (*WeaviateStore, error) {
	if cfg.BaseURL == "" {
		return nil, backend.MissingCredential("weaviate", "base_url")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return nil, &backend.ConfigurationError{Backend: "weaviate", Message: "invalid base_url " + cfg.BaseURL}
	}
	className := ClassName(cfg.Collection)
	if className == "" {
		return nil, &backend.ConfigurationError{Backend: "weaviate", Message: "collection is required"}
	}
	wcfg := wv.Config{Host: u.Host, Scheme: u.Scheme, Headers: cfg.Headers}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	if cfg.Timeout > 0 {
		wcfg.ConnectionClient = &http.Client{Timeout: cfg.Timeout}
	}
	client, err := wv.NewClient(wcfg)
	if err != nil {
		return nil, &backend.ConfigurationError{Backend: "weaviate", Message: err.Error()}
	}
	return &WeaviateStore{client: client, className: className, timeout: cfg.Timeout}, nil
}

// ClassName turns a collection name into a Weaviate class name, e.g. kotae_content -> KotaeContent.
func ClassName(collection string) string {
	var b strings.Builder
	upper := true
	for _, r := range collection {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if b.Len() == 0 && unicode.IsDigit(r) {
			b.WriteString("C")
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Name returns the registry name.
func (s *WeaviateStore) Name() string { return "weaviate" }

func (s *WeaviateStore) ensureClass(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.className).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class: %w", err)
	}
	if !exists {
		props := make([]*wvmodels.Property, 0, len(weaviateTextProps)+2)
		for _, name := range weaviateTextProps {
			props = append(props, &wvmodels.Property{Name: name, DataType: []string{"text"}})
		}
		props = append(props,
			&wvmodels.Property{Name: models.MetaChunkIndex, DataType: []string{"int"}},
			&wvmodels.Property{Name: propMetadataJSON, DataType: []string{"text"}},
		)
		class := &wvmodels.Class{
			Class:             s.className,
			Description:       "Content chunks indexed for question answering",
			Vectorizer:        "none",
			VectorIndexConfig: map[string]any{"distance": "cosine"},
			Properties:        props,
		}
		if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("create class: %w", err)
		}
	}
	s.ready = true
	return nil
}

// AddDocuments upserts docs with a batch request. Object ids derive from chunk ids.
func (s *WeaviateStore) AddDocuments(ctx context.Context, docs []models.Document, embeddings [][]float32) error {
	if len(docs) == 0 && len(embeddings) == 0 {
		return nil
	}
	s.mu.Lock()
	known := s.dimensions
	s.mu.Unlock()
	dim, err := checkBatch(docs, embeddings, known)
	if err != nil {
		return err
	}
	if err := s.ensureClass(ctx); err != nil {
		return &backend.StoreError{Backend: "weaviate", Op: "add", Err: err}
	}
	objects := make([]*wvmodels.Object, len(docs))
	for i, doc := range docs {
		props, err := weaviateProperties(doc)
		if err != nil {
			return &backend.StoreError{Backend: "weaviate", Op: "add", Err: err}
		}
		objects[i] = &wvmodels.Object{
			Class:      s.className,
			ID:         strfmt.UUID(PointID(doc.ID)),
			Properties: props,
			Vector:     embeddings[i],
		}
	}
	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return &backend.StoreError{Backend: "weaviate", Op: "add", Err: err}
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			msg := r.Result.Errors.Error[0].Message
			return &backend.StoreError{Backend: "weaviate", Op: "add", Err: fmt.Errorf("object %s: %s", r.ID, msg)}
		}
	}
	s.mu.Lock()
	s.dimensions = dim
	s.mu.Unlock()
	return nil
}

func weaviateProperties(doc models.Document) (map[string]any, error) {
	props := map[string]any{payloadChunkID: doc.ID, payloadText: doc.Text}
	extra := make(map[string]any)
	for k, v := range doc.Metadata {
		switch k {
		case models.MetaContentID, models.MetaContentType, models.MetaTitle, models.MetaURL:
			props[k] = doc.MetaString(k)
		case models.MetaChunkIndex:
			props[k] = v
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		raw, err := json.Marshal(extra)
		if err != nil {
			return nil, fmt.Errorf("encode metadata of %s: %w", doc.ID, err)
		}
		props[propMetadataJSON] = string(raw)
	}
	return props, nil
}

// Search runs a nearVector query. Scores are 1 - cosine distance.
func (s *WeaviateStore) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]models.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	fields := []graphql.Field{
		{Name: payloadChunkID}, {Name: payloadText},
		{Name: models.MetaContentID}, {Name: models.MetaContentType},
		{Name: models.MetaTitle}, {Name: models.MetaURL},
		{Name: models.MetaChunkIndex}, {Name: propMetadataJSON},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}
	q := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(topK).
		WithFields(fields...)
	if where := whereFilter(filter); where != nil {
		q = q.WithWhere(where)
	}
	resp, err := q.Do(ctx)
	if err != nil {
		return nil, &backend.StoreError{Backend: "weaviate", Op: "search", Err: err}
	}
	if len(resp.Errors) > 0 {
		msg := resp.Errors[0].Message
		// An unknown class means nothing was indexed yet.
		if strings.Contains(msg, "Cannot query field") {
			return nil, nil
		}
		return nil, &backend.StoreError{Backend: "weaviate", Op: "search", Err: fmt.Errorf("%s", msg)}
	}
	return parseWeaviateResults(resp.Data, s.className), nil
}

func whereFilter(filter Filter) *filters.WhereBuilder {
	if len(filter) == 0 {
		return nil
	}
	operands := make([]*filters.WhereBuilder, 0, len(filter))
	for k, v := range filter {
		operands = append(operands, filters.Where().WithPath([]string{k}).WithOperator(filters.Equal).WithValueText(v))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

// parseWeaviateResults reads Get.<class>[] out of a GraphQL response.
func parseWeaviateResults(data map[string]wvmodels.JSONObject, className string) []models.SearchResult {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	items, _ := get[className].([]any)
	results := make([]models.SearchResult, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		doc := models.Document{Metadata: make(map[string]any)}
		var score float64
		for k, v := range obj {
			switch k {
			case payloadChunkID:
				doc.ID, _ = v.(string)
			case payloadText:
				doc.Text, _ = v.(string)
			case propMetadataJSON:
				if raw, ok := v.(string); ok && raw != "" {
					_ = json.Unmarshal([]byte(raw), &doc.Metadata)
				}
			case "_additional":
				if add, ok := v.(map[string]any); ok {
					if d, ok := add["distance"].(float64); ok {
						score = 1 - d
					}
					if doc.ID == "" {
						doc.ID, _ = add["id"].(string)
					}
				}
			default:
				if v != nil {
					doc.Metadata[k] = v
				}
			}
		}
		results = append(results, models.SearchResult{Document: doc, Score: score})
	}
	return results
}

// DeleteDocuments batch-deletes objects whose chunk_id is in ids.
func (s *WeaviateStore) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	where := filters.Where().
		WithPath([]string{payloadChunkID}).
		WithOperator(filters.ContainsAny).
		WithValueText(ids...)
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil && !weaviateNotFound(err) {
		return &backend.StoreError{Backend: "weaviate", Op: "delete", Err: err}
	}
	return nil
}

// DeleteAll drops the class. The next write recreates it.
func (s *WeaviateStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.client.Schema().ClassDeleter().WithClassName(s.className).Do(ctx)
	if err != nil && !weaviateNotFound(err) {
		return &backend.StoreError{Backend: "weaviate", Op: "delete_all", Err: err}
	}
	s.ready = false
	s.dimensions = 0
	return nil
}

// IsAvailable asks the readiness endpoint.
func (s *WeaviateStore) IsAvailable(ctx context.Context) bool {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	return err == nil && ready
}

// Stats aggregates the object count of the class.
func (s *WeaviateStore) Stats(ctx context.Context) Stats {
	resp, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil || len(resp.Errors) > 0 {
		return Stats{}
	}
	return Stats{DocumentCount: parseWeaviateCount(resp.Data, s.className)}
}

func parseWeaviateCount(data map[string]wvmodels.JSONObject, className string) int {
	agg, ok := data["Aggregate"].(map[string]any)
	if !ok {
		return 0
	}
	items, _ := agg[className].([]any)
	if len(items) == 0 {
		return 0
	}
	obj, _ := items[0].(map[string]any)
	meta, _ := obj["meta"].(map[string]any)
	count, _ := meta["count"].(float64)
	return int(count)
}

// Close is a no-op.
func (s *WeaviateStore) Close() error { return nil }

func weaviateNotFound(err error) bool {
	return strings.Contains(err.Error(), "status code: 404")
}
