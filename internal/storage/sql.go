package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/crowdpulse/internal/models"
)

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS history_documents (
	doc_key  TEXT PRIMARY KEY,
	body     TEXT NOT NULL,
	saved_at BIGINT NOT NULL
)`

const upsertDocument = `
INSERT INTO history_documents (doc_key, body, saved_at)
VALUES (?, ?, ?)
ON CONFLICT (doc_key) DO UPDATE SET body = excluded.body, saved_at = excluded.saved_at`

const selectDocument = `SELECT body FROM history_documents WHERE doc_key = ?`

// SQLStore persists the history document in a key/document table. The same
// code serves the embedded SQLite driver and PostgreSQL.
type SQLStore struct {
	db  *sqlx.DB
	key string
}

// NewSQLStore opens the database and makes sure the documents table exists.
// driver is "sqlite" or "postgres".
func NewSQLStore(ctx context.Context, driver, dsn, key string) (*SQLStore, error) {
	if driver == "sqlite" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// A single connection keeps ":memory:" databases alive and serializes writers.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, createDocumentsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history table: %w", err)
	}

	if key == "" {
		key = DefaultKey
	}
	return &SQLStore{db: db, key: key}, nil
}

// Save upserts the document under the store key.
func (s *SQLStore) Save(ctx context.Context, doc models.HistoryDocument) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	savedAt := doc.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(upsertDocument), s.key, string(data), savedAt.UnixMilli()); err != nil {
		return fmt.Errorf("failed to write history document: %w", err)
	}
	return nil
}

// Load reads the document stored under the store key.
func (s *SQLStore) Load(ctx context.Context) (models.HistoryDocument, error) {
	var body string
	err := s.db.GetContext(ctx, &body, s.db.Rebind(selectDocument), s.key)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewHistoryDocument(), nil
	}
	if err != nil {
		return models.HistoryDocument{}, fmt.Errorf("failed to read history document: %w", err)
	}
	return Decode([]byte(body))
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
