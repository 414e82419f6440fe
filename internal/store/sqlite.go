package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	inIDs: func(ids []uuid.UUID) (string, []any) {
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		return `id IN (` + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`, args
	},
}

// NewSQLite opens an embedded database at path with WAL mode enabled.
// Writes are serialized on a single connection.
func NewSQLite(ctx context.Context, path string) (Store, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := initSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &sqlStore{db: db, dialect: sqliteDialect, now: func() time.Time { return time.Now().UTC() }}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	department TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	original_filename TEXT NOT NULL,
	blob_provider TEXT NOT NULL,
	blob_name TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	category_hint TEXT NOT NULL DEFAULT '',
	department TEXT NOT NULL DEFAULT '',
	owner_id TEXT,
	extracted_text TEXT,
	confidence REAL,
	language TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL CHECK (state IN ('pending','processing','completed','failed')),
	attempt INTEGER NOT NULL DEFAULT 1,
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	CHECK ((extracted_text IS NOT NULL) = (state = 'completed')),
	CHECK ((confidence IS NOT NULL) = (extracted_text IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS documents_created_idx ON documents (created_at DESC);

CREATE TABLE IF NOT EXISTS summaries (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	summary_text TEXT NOT NULL,
	summary_type TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (document_id, summary_type)
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}
