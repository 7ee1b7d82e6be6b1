package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store for PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the punch archive table if it does not exist yet.
// The bridge is the only writer, so this replaces a migration tool.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `
        CREATE TABLE IF NOT EXISTS punch_logs (
            id UUID PRIMARY KEY,
            created_at TIMESTAMPTZ NOT NULL,
            user_id TEXT NOT NULL,
            punch SMALLINT NOT NULL,
            status SMALLINT NOT NULL,
            timestamp TIMESTAMPTZ NOT NULL,
            machine_id INTEGER NOT NULL,
            outcome TEXT NOT NULL,
            http_status INTEGER NOT NULL DEFAULT 0
        );
        CREATE INDEX IF NOT EXISTS punch_logs_user_id_idx ON punch_logs (user_id);
        CREATE INDEX IF NOT EXISTS punch_logs_created_at_idx ON punch_logs (created_at);`

	_, err := s.db.ExecContext(ctx, query)
	return err
}
