package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrSinkClosed is returned by operations on a closed sink.
var ErrSinkClosed = errors.New("audit sink is closed")

// SQLiteSink persists audit records to SQLite.
// It is suitable for single-process production use.
type SQLiteSink struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteSink creates a new SQLite audit sink. The path should be a file
// path (e.g., "./audit.db") or ":memory:" for testing.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_name TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			required_scope TEXT NOT NULL,
			granted_scopes TEXT NOT NULL,
			dropped_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_audit_event_name
		ON audit_records(event_name)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Write implements Sink.
func (s *SQLiteSink) Write(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	scopes, err := json.Marshal(rec.GrantedScopes)
	if err != nil {
		return fmt.Errorf("encode granted scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_records (event_name, actor_id, required_scope, granted_scopes, dropped_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.EventName, rec.ActorID, rec.RequiredScope, string(scopes),
		rec.DroppedAt.UTC().Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// List returns up to limit records for an event name, newest first.
// An empty eventName matches all records.
func (s *SQLiteSink) List(ctx context.Context, eventName string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrSinkClosed
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT event_name, actor_id, required_scope, granted_scopes, dropped_at
		FROM audit_records
	`
	args := []any{}
	if eventName != "" {
		query += " WHERE event_name = ?"
		args = append(args, eventName)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var scopes, droppedAt string
		if err := rows.Scan(&rec.EventName, &rec.ActorID, &rec.RequiredScope, &scopes, &droppedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if scopes != "" && scopes != "null" {
			if err := json.Unmarshal([]byte(scopes), &rec.GrantedScopes); err != nil {
				return nil, fmt.Errorf("decode granted scopes: %w", err)
			}
		}
		rec.DroppedAt, _ = time.Parse(time.RFC3339Nano, droppedAt)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrSinkClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
