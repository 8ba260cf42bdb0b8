package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// Ensure SQLiteStore implements the interface.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS indexed_items (
		content_id TEXT PRIMARY KEY,
		content_type TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		last_indexed_at TIMESTAMP NOT NULL,
		last_modified_at TIMESTAMP,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_items_active ON indexed_items(is_active);

	CREATE TABLE IF NOT EXISTS chunk_records (
		chunk_id TEXT PRIMARY KEY,
		content_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text_preview TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (content_id) REFERENCES indexed_items(content_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_content ON chunk_records(content_id, chunk_index);
	`
	_, err := db.Exec(schema)
	return err
}

const itemColumns = `content_id, content_type, title, url, last_indexed_at, last_modified_at, chunk_count, is_active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.IndexedItem, error) {
	var item models.IndexedItem
	var modified sql.NullTime
	if err := row.Scan(&item.ContentID, &item.ContentType, &item.Title, &item.URL,
		&item.LastIndexedAt, &modified, &item.ChunkCount, &item.IsActive); err != nil {
		return nil, err
	}
	if modified.Valid {
		item.LastModifiedAt = modified.Time
	}
	return &item, nil
}

// GetItem returns the bookkeeping record of one item, active or not.
func (s *SQLiteStore) GetItem(ctx context.Context, contentID string) (*models.IndexedItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM indexed_items WHERE content_id = ?`, contentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, contentID)
	}
	return item, err
}

// ActiveItems returns every active item ordered by id.
func (s *SQLiteStore) ActiveItems(ctx context.Context) ([]*models.IndexedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM indexed_items WHERE is_active = 1 ORDER BY content_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.IndexedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ChunkIDs returns the chunk ids of an item ordered by chunk index.
func (s *SQLiteStore) ChunkIDs(ctx context.Context, contentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id FROM chunk_records WHERE content_id = ? ORDER BY chunk_index`, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChunkRecords returns the chunk records of an item ordered by chunk index.
func (s *SQLiteStore) ChunkRecords(ctx context.Context, contentID string) ([]*models.ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, content_id, chunk_index, text_preview, created_at
		 FROM chunk_records WHERE content_id = ? ORDER BY chunk_index`, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.ChunkRecord
	for rows.Next() {
		var r models.ChunkRecord
		if err := rows.Scan(&r.ChunkID, &r.ContentID, &r.ChunkIndex, &r.TextPreview, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// inTx runs fn and then apply inside one transaction, committing only if both succeed.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error, apply ApplyFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if apply != nil {
		if err := apply(ctx); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReplaceItem upserts the item and replaces its chunk records.
func (s *SQLiteStore) ReplaceItem(ctx context.Context, item *models.IndexedItem, chunks []*models.ChunkRecord, apply ApplyFunc) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var modified any
		if !item.LastModifiedAt.IsZero() {
			modified = item.LastModifiedAt.UTC()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO indexed_items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(content_id) DO UPDATE SET
				content_type = excluded.content_type,
				title = excluded.title,
				url = excluded.url,
				last_indexed_at = excluded.last_indexed_at,
				last_modified_at = excluded.last_modified_at,
				chunk_count = excluded.chunk_count,
				is_active = excluded.is_active`,
			item.ContentID, item.ContentType, item.Title, item.URL,
			item.LastIndexedAt.UTC(), modified, item.ChunkCount, item.IsActive,
		)
		if err != nil {
			return fmt.Errorf("upsert item: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_records WHERE content_id = ?`, item.ContentID); err != nil {
			return fmt.Errorf("delete chunk records: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chunk_records (chunk_id, content_id, chunk_index, text_preview, created_at)
			 VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx, c.ChunkID, item.ContentID, c.ChunkIndex, c.TextPreview, c.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("insert chunk record %s: %w", c.ChunkID, err)
			}
		}
		return nil
	}, apply)
}

// DeactivateItem soft-deletes one item. Unknown ids are not an error.
func (s *SQLiteStore) DeactivateItem(ctx context.Context, contentID string, apply ApplyFunc) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_records WHERE content_id = ?`, contentID); err != nil {
			return fmt.Errorf("delete chunk records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE indexed_items SET is_active = 0, chunk_count = 0 WHERE content_id = ?`, contentID); err != nil {
			return fmt.Errorf("deactivate item: %w", err)
		}
		return nil
	}, apply)
}

// DeactivateAll soft-deletes every item.
func (s *SQLiteStore) DeactivateAll(ctx context.Context, apply ApplyFunc) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_records`); err != nil {
			return fmt.Errorf("delete chunk records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE indexed_items SET is_active = 0, chunk_count = 0`); err != nil {
			return fmt.Errorf("deactivate items: %w", err)
		}
		return nil
	}, apply)
}

// PurgeItem hard-deletes the item; its chunk records go with it.
func (s *SQLiteStore) PurgeItem(ctx context.Context, contentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM indexed_items WHERE content_id = ?`, contentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, contentID)
	}
	return nil
}

// Stats returns bookkeeping counts and the on-disk size of the database. VectorCount is left to the caller.
func (s *SQLiteStore) Stats(ctx context.Context) (*models.IndexStats, error) {
	stats := &models.IndexStats{ByContentType: make(map[string]int64)}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(is_active), 0), COALESCE(SUM(1 - is_active), 0) FROM indexed_items`,
	).Scan(&stats.ActiveItems, &stats.InactiveItems)
	if err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_records`).Scan(&stats.ChunkRecords); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT content_type, COUNT(*) FROM indexed_items WHERE is_active = 1 GROUP BY content_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ct string
		var n int64
		if err := rows.Scan(&ct, &n); err != nil {
			return nil, err
		}
		stats.ByContentType[ct] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT last_indexed_at FROM indexed_items ORDER BY last_indexed_at DESC LIMIT 1`).Scan(&last)
	switch {
	case err == nil:
		stats.LastIndexedAt = &last
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	stats.DatabaseBytes, err = DatabaseSize(s.path)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
