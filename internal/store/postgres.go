package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	inIDs: func(ids []uuid.UUID) (string, []any) {
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = id.String()
		}
		return `id = ANY(?::uuid[])`, []any{pq.Array(strs)}
	},
}

// NewPostgres opens dsn through the pgx stdlib driver and applies the schema.
func NewPostgres(dsn string) (Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &sqlStore{db: db, dialect: postgresDialect, now: func() time.Time { return time.Now().UTC() }}
	if err := migratePostgres(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func migratePostgres(ctx context.Context, db *sql.DB) error {
	// Use advisory lock to prevent concurrent migrations from the gateway and workers.
	const lockID = 734210001

	var acquired bool
	err := db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if !acquired {
		// Another service is running migrations; wait briefly and skip
		time.Sleep(2 * time.Second)
		return nil
	}

	defer func() {
		_, _ = db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			original_filename TEXT NOT NULL,
			blob_provider TEXT NOT NULL,
			blob_name TEXT NOT NULL,
			size BIGINT NOT NULL DEFAULT 0,
			mime_type TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			category_hint TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			owner_id UUID,
			extracted_text TEXT,
			confidence DOUBLE PRECISION,
			language TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL CHECK (state IN ('pending','processing','completed','failed')),
			attempt INT NOT NULL DEFAULT 1,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK ((extracted_text IS NOT NULL) = (state = 'completed')),
			CHECK ((confidence IS NOT NULL) = (extracted_text IS NOT NULL))
		);`,
		`CREATE INDEX IF NOT EXISTS documents_created_idx ON documents (created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id TEXT PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			summary_text TEXT NOT NULL,
			summary_type TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (document_id, summary_type)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
