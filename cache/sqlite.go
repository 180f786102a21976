package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteCacheSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	stored_at TEXT NOT NULL,
	expires_at TEXT
);`

// SQLiteStore persists cache entries across bridge restarts. Values are
// stored as JSON, so reads yield generic JSON shapes (maps, slices,
// float64 numbers) rather than the original Go types. That is fine for
// the enumeration payloads this cache holds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed cache store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("cache: sqlite store dsn is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite store open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteCacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: sqlite store create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the entry for key, expired or not.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	row := s.db.QueryRowContext(ctx, `
SELECT value, stored_at, expires_at
FROM cache_entries
WHERE key = ?`, key)

	var (
		payload    []byte
		storedRaw  string
		expiresRaw sql.NullString
	)
	if err := row.Scan(&payload, &storedRaw, &expiresRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: sqlite get entry: %w", err)
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return Entry{}, false, fmt.Errorf("cache: sqlite decode entry: %w", err)
	}

	entry := Entry{Value: value}
	if storedAt, err := time.Parse(time.RFC3339Nano, storedRaw); err == nil {
		entry.StoredAt = storedAt
	}
	if expiresRaw.Valid && strings.TrimSpace(expiresRaw.String) != "" {
		if expiresAt, err := time.Parse(time.RFC3339Nano, expiresRaw.String); err == nil {
			entry.ExpiresAt = expiresAt
		}
	}
	return entry, true, nil
}

// Set stores the entry, replacing any previous value for the key.
func (s *SQLiteStore) Set(ctx context.Context, key string, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("cache: sqlite encode entry: %w", err)
	}

	var expires any
	if !e.ExpiresAt.IsZero() {
		expires = e.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO cache_entries (key, value, stored_at, expires_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	value = excluded.value,
	stored_at = excluded.stored_at,
	expires_at = excluded.expires_at`,
		key,
		payload,
		e.StoredAt.UTC().Format(time.RFC3339Nano),
		expires,
	)
	if err != nil {
		return fmt.Errorf("cache: sqlite upsert entry: %w", err)
	}
	return nil
}

// Delete removes one key. Deleting a missing key is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: sqlite delete entry: %w", err)
	}
	return nil
}

// Clear removes every entry.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache: sqlite clear entries: %w", err)
	}
	return nil
}

// Prune removes expired entries.
func (s *SQLiteStore) Prune(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
DELETE FROM cache_entries
WHERE expires_at IS NOT NULL AND expires_at < ?`,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite prune entries: %w", err)
	}

	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite prune rows affected: %w", err)
	}
	return int(pruned), nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
