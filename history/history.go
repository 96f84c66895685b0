// Package history keeps an append-oriented SQLite log of every document
// that reached a terminal status. The registry's JSON documents are the
// source of truth for identity decisions; the history database exists for
// operator queries that would otherwise mean scanning every partition:
// recent activity, failure counts, "have we ever seen this URL".
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_urls (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	url          TEXT    NOT NULL,
	partition    TEXT    NOT NULL,
	identity     INTEGER NOT NULL,
	status       TEXT    NOT NULL,
	error        TEXT    NOT NULL DEFAULT '',
	processed_at TIMESTAMP NOT NULL,
	UNIQUE(partition, identity, status)
);
CREATE INDEX IF NOT EXISTS idx_processed_urls_url ON processed_urls(url);
CREATE INDEX IF NOT EXISTS idx_processed_urls_status ON processed_urls(status);
`

// Entry is one terminal transition.
type Entry struct {
	URL         string
	Partition   string
	Identity    int
	Status      string
	Error       string
	ProcessedAt time.Time
}

// DB is the history log.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path with WAL and a
// busy timeout, and applies the schema. Use ":memory:" in tests.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (h *DB) Close() error { return h.db.Close() }

// Record appends a terminal transition. Re-recording the same
// partition/identity/status pair is a no-op, so a crashed run that
// replays its last document does not duplicate history.
func (h *DB) Record(ctx context.Context, e Entry) error {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO processed_urls (url, partition, identity, status, error, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(partition, identity, status) DO NOTHING`,
		e.URL, e.Partition, e.Identity, e.Status, e.Error, e.ProcessedAt)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Seen reports whether a normalized URL appears in the log at all.
func (h *DB) Seen(ctx context.Context, url string) (bool, error) {
	var n int
	err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processed_urls WHERE url = ?`, url).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("history: seen: %w", err)
	}
	return n > 0, nil
}

// Recent returns the most recent entries, newest first.
func (h *DB) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT url, partition, identity, status, error, processed_at
		FROM processed_urls ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.URL, &e.Partition, &e.Identity, &e.Status, &e.Error, &e.ProcessedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByStatus returns entry counts grouped by terminal status.
func (h *DB) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT status, COUNT(1) FROM processed_urls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("history: count: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
