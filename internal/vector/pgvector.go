package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/lib/pq"
)

// Ensure PgVectorStore implements the interface.
var _ VectorStore = (*PgVectorStore)(nil)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PgVectorConfig configures the PostgreSQL store.
type PgVectorConfig struct {
	DSN   string
	Table string
}

// PgVectorStore keeps chunks in a PostgreSQL table with a pgvector column.
// The table is created on first write with the width of that batch.
type PgVectorStore struct {
	db         *sql.DB
	table      string
	mu         sync.Mutex
	dimensions int
}

// NewPgVectorStore opens the connection pool. No query is sent until first use.
func NewPgVectorStore(cfg PgVectorConfig) (*PgVectorStore, error) {
	if cfg.DSN == "" {
		return nil, backend.MissingCredential("pgvector", "dsn")
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, &backend.ConfigurationError{Backend: "pgvector", Message: fmt.Sprintf("invalid table name %q", cfg.Table)}
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, &backend.ConfigurationError{Backend: "pgvector", Message: err.Error()}
	}
	return &PgVectorStore{db: db, table: pq.QuoteIdentifier(cfg.Table)}, nil
}

// Name returns the registry name.
func (s *PgVectorStore) Name() string { return "pgvector" }

// tableDimensions returns the width of the existing table, or 0 when it does not exist.
func (s *PgVectorStore) tableDimensions(ctx context.Context) (int, error) {
	var typmod sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT a.atttypmod FROM pg_attribute a
		WHERE a.attrelid = to_regclass($1) AND a.attname = 'embedding'`, s.table).Scan(&typmod)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(typmod.Int64), nil
}

func (s *PgVectorStore) ensureTable(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimensions == 0 {
		existing, err := s.tableDimensions(ctx)
		if err != nil {
			return &backend.StoreError{Backend: "pgvector", Op: "add", Err: err}
		}
		if existing == 0 {
			stmts := []string{
				`CREATE EXTENSION IF NOT EXISTS vector`,
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					id TEXT PRIMARY KEY,
					content TEXT NOT NULL,
					metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
					embedding vector(%d) NOT NULL
				)`, s.table, dim),
			}
			for _, stmt := range stmts {
				if _, err := s.db.ExecContext(ctx, stmt); err != nil {
					return &backend.StoreError{Backend: "pgvector", Op: "create", Err: err}
				}
			}
			existing = dim
		}
		s.dimensions = existing
	}
	if dim != s.dimensions {
		return &backend.DimensionMismatchError{Expected: s.dimensions, Got: dim, Index: -1}
	}
	return nil
}

// AddDocuments upserts docs in one transaction.
func (s *PgVectorStore) AddDocuments(ctx context.Context, docs []models.Document, embeddings [][]float32) error {
	if len(docs) == 0 && len(embeddings) == 0 {
		return nil
	}
	dim, err := checkBatch(docs, embeddings, 0)
	if err != nil {
		return err
	}
	if err := s.ensureTable(ctx, dim); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &backend.StoreError{Backend: "pgvector", Op: "add", Err: err}
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding) VALUES ($1, $2, $3, $4::vector)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, s.table))
	if err != nil {
		return &backend.StoreError{Backend: "pgvector", Op: "add", Err: err}
	}
	defer stmt.Close()
	for i, doc := range docs {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return &backend.StoreError{Backend: "pgvector", Op: "add", Err: err}
		}
		if doc.Metadata == nil {
			meta = []byte("{}")
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, doc.Text, string(meta), vectorLiteral(embeddings[i])); err != nil {
			return &backend.StoreError{Backend: "pgvector", Op: "add", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &backend.StoreError{Backend: "pgvector", Op: "add", Err: err}
	}
	return nil
}

// Search orders by cosine distance. Scores are 1 - distance. A missing table yields no results.
func (s *PgVectorStore) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]models.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	cond, err := json.Marshal(filter)
	if err != nil || filter == nil {
		cond = []byte("{}")
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS score
		FROM %s WHERE metadata @> $2::jsonb
		ORDER BY embedding <=> $1::vector, id
		LIMIT $3`, s.table), vectorLiteral(vector), string(cond), topK)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, &backend.StoreError{Backend: "pgvector", Op: "search", Err: err}
	}
	defer rows.Close()
	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		var meta []byte
		if err := rows.Scan(&r.ID, &r.Text, &meta, &r.Score); err != nil {
			return nil, &backend.StoreError{Backend: "pgvector", Op: "search", Err: err}
		}
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, &backend.StoreError{Backend: "pgvector", Op: "search", Err: err}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &backend.StoreError{Backend: "pgvector", Op: "search", Err: err}
	}
	return results, nil
}

// DeleteDocuments deletes rows by id.
func (s *PgVectorStore) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table), pq.Array(ids))
	if err != nil && !isUndefinedTable(err) {
		return &backend.StoreError{Backend: "pgvector", Op: "delete", Err: err}
	}
	return nil
}

// DeleteAll drops the table. The next write recreates it.
func (s *PgVectorStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table)); err != nil {
		return &backend.StoreError{Backend: "pgvector", Op: "delete_all", Err: err}
	}
	s.dimensions = 0
	return nil
}

// IsAvailable pings the database.
func (s *PgVectorStore) IsAvailable(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Stats counts rows.
func (s *PgVectorStore) Stats(ctx context.Context) Stats {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return Stats{}
	}
	return Stats{DocumentCount: n}
}

// Close closes the connection pool.
func (s *PgVectorStore) Close() error {
	return s.db.Close()
}

// vectorLiteral formats v in pgvector's text input form, e.g. [0.1,0.2].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func isUndefinedTable(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "42P01"
}
