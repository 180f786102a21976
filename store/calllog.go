// Package store persists tool invocation records in SQLite so bridge
// activity survives restarts and can be inspected after the fact.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const callLogSchema = `
CREATE TABLE IF NOT EXISTS call_log (
	id TEXT PRIMARY KEY,
	tool TEXT NOT NULL,
	args_json TEXT NOT NULL,
	status TEXT NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_log_created_at ON call_log (created_at);`

const (
	defaultStoreDir = ".houbridge"
	defaultStoreDB  = "houbridge.db"
)

// CallRecord is one logged tool invocation.
type CallRecord struct {
	ID        string    `json:"id"`
	Tool      string    `json:"tool"`
	ArgsJSON  string    `json:"args_json"`
	Status    string    `json:"status"`
	ElapsedMS int64     `json:"elapsed_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// CallLog is the SQLite-backed invocation log.
type CallLog struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultPath returns the default database path for CLI/daemon storage.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultStoreDir, defaultStoreDB), nil
}

// OpenCallLog opens (or creates) the call log at dsn.
func OpenCallLog(dsn string) (*CallLog, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("store: call log dsn is required")
	}
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create call log dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: call log open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: call log set WAL mode: %w", err)
	}
	if _, err := db.Exec(callLogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: call log create schema: %w", err)
	}

	return &CallLog{db: db, now: time.Now}, nil
}

// Record writes one invocation and returns its generated id.
func (l *CallLog) Record(ctx context.Context, tool, argsJSON, status string, elapsed time.Duration) (string, error) {
	if l == nil || l.db == nil {
		return "", errors.New("store: call log is nil")
	}
	if strings.TrimSpace(tool) == "" {
		return "", errors.New("store: tool name is required")
	}
	if argsJSON == "" {
		argsJSON = "{}"
	}

	id := uuid.NewString()
	createdAt := l.now().UTC().Format(time.RFC3339Nano)

	_, err := l.db.ExecContext(ctx, `
INSERT INTO call_log (id, tool, args_json, status, elapsed_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		id, tool, argsJSON, status, elapsed.Milliseconds(), createdAt)
	if err != nil {
		return "", fmt.Errorf("store: record call: %w", err)
	}
	return id, nil
}

// List returns the most recent records, newest first. limit <= 0 means
// a default page of 50.
func (l *CallLog) List(ctx context.Context, limit int) ([]CallRecord, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("store: call log is nil")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT id, tool, args_json, status, elapsed_ms, created_at
FROM call_log
ORDER BY created_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list calls: %w", err)
	}
	defer rows.Close()

	var records []CallRecord
	for rows.Next() {
		var (
			rec        CallRecord
			createdRaw string
		)
		if err := rows.Scan(&rec.ID, &rec.Tool, &rec.ArgsJSON, &rec.Status, &rec.ElapsedMS, &createdRaw); err != nil {
			return nil, fmt.Errorf("store: scan call record: %w", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
		if err != nil {
			return nil, fmt.Errorf("store: parse call timestamp: %w", err)
		}
		rec.CreatedAt = createdAt
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list calls: %w", err)
	}
	return records, nil
}

// Prune deletes records older than maxAge and reports how many went.
func (l *CallLog) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	if l == nil || l.db == nil {
		return 0, errors.New("store: call log is nil")
	}

	cutoff := l.now().UTC().Add(-maxAge).Format(time.RFC3339Nano)
	result, err := l.db.ExecContext(ctx, `DELETE FROM call_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune calls: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune calls: %w", err)
	}
	return pruned, nil
}

// Close releases the underlying database handle.
func (l *CallLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
