package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore keeps artifacts as rows of a single key/value table.
type PostgresStore struct {
	db         *sql.DB
	schemaOnce sync.Once
	schemaErr  error
}

func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS skeleton_artifacts (
    key TEXT PRIMARY KEY,
    content BYTEA NOT NULL DEFAULT ''::bytea,
    size BIGINT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_skeleton_artifacts_key_prefix ON skeleton_artifacts (key text_pattern_ops);
`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM skeleton_artifacts WHERE key=$1)`, key).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Put(ctx context.Context, key string, content []byte) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if content == nil {
		content = []byte{}
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO skeleton_artifacts (key, content, size, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key)
DO UPDATE SET content=EXCLUDED.content, size=EXCLUDED.size, updated_at=EXCLUDED.updated_at
`, key, content, int64(len(content)), time.Now())
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var content []byte
	err = s.db.QueryRowContext(ctx, `SELECT content FROM skeleton_artifacts WHERE key=$1`, key).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return content, err
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM skeleton_artifacts WHERE starts_with(key, $1) ORDER BY key`,
		strings.TrimLeft(prefix, "/"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM skeleton_artifacts WHERE key=$1`, key)
	return err
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
