package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sitealert/internal/config"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tenant_state (
	state_key  TEXT PRIMARY KEY,
	body       BLOB NOT NULL,
	revision   INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLiteStore persists tenant state documents in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens database and creates schema.
// Params: SQLite settings; path ":memory:" keeps data in process.
// Returns: initialized store or setup error.
func NewSQLiteStore(settings config.SQLiteStateConfig) (*SQLiteStore, error) {
	connStr := settings.Path
	if settings.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(settings.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", settings.Path, err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load decodes stored document into dst.
// Params: tenant key and decode target pointer.
// Returns: revision or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, key string, dst any) (uint64, error) {
	var (
		body     []byte
		revision int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT body, revision FROM tenant_state WHERE state_key = ?`, key,
	).Scan(&body, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select state %q: %w", key, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return 0, fmt.Errorf("decode state %q: %w", key, err)
	}
	return uint64(revision), nil
}

// Save upserts document and bumps its revision.
// Params: tenant key and document.
// Returns: new revision.
func (s *SQLiteStore) Save(ctx context.Context, key string, src any) (uint64, error) {
	body, err := json.Marshal(src)
	if err != nil {
		return 0, fmt.Errorf("encode state %q: %w", key, err)
	}
	var revision int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tenant_state (state_key, body, revision, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(state_key) DO UPDATE SET
			body = excluded.body,
			revision = tenant_state.revision + 1,
			updated_at = excluded.updated_at
		RETURNING revision`,
		key, body, time.Now().UTC().Format(time.RFC3339Nano),
	).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("upsert state %q: %w", key, err)
	}
	return uint64(revision), nil
}

// Close closes database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
