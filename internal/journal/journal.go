// Package journal persists an append-only audit trail of committed writes
// to a per-tenant SQLite database. The journal is an observer of the store,
// not part of its durability contract: the JSON collection files remain the
// source of truth.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"brewcore/internal/storage"
	"brewcore/pkg/domain"
)

// FileName is the journal database file inside a tenant directory.
const FileName = "journal.db"

// SQLite appends committed mutations to a local SQLite change table.
type SQLite struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open creates or opens the journal database at path.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		entity TEXT NOT NULL,
		record_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		payload BLOB,
		at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create changes table: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the journal database location.
func (j *SQLite) Path() string { return j.path }

// Append implements storage.Journal.
func (j *SQLite) Append(ctx context.Context, entry storage.JournalEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode journal payload: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO changes(entity, record_id, action, payload, at) VALUES(?,?,?,?,?)`,
		entry.Entity, entry.RecordID, string(entry.Action), payload,
		entry.At.UTC().Format(domain.TimeLayout))
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Change is one recorded mutation read back from the journal.
type Change struct {
	Seq      int64
	Entity   string
	RecordID int64
	Action   string
	Payload  domain.Record
	At       time.Time
}

// Tail returns the most recent changes, newest first, up to limit.
func (j *SQLite) Tail(ctx context.Context, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 50
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, entity, record_id, action, payload, at FROM changes ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Change
	for rows.Next() {
		var (
			c       Change
			payload []byte
			at      string
		)
		if err := rows.Scan(&c.Seq, &c.Entity, &c.RecordID, &c.Action, &payload, &at); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &c.Payload); err != nil {
				return nil, fmt.Errorf("decode journal payload: %w", err)
			}
		}
		if t, err := time.Parse(domain.TimeLayout, at); err == nil {
			c.At = t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (j *SQLite) Close() error {
	return j.db.Close()
}
