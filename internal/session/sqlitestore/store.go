// Package sqlitestore is a durable catalog of sessions: one row per
// session (its JSONL log path, title, and timestamps) backing the
// list_sessions and stop_session core operations (§6.2) without having to
// scan the filesystem or keep every Session resident in memory.
//
// The per-session conversation tree itself stays on disk as the
// line-delimited log internal/session.AppendLogWriter/Load already
// implement (§6.4); this store only indexes which sessions exist.
//
// Grounded on haasonsaas-nexus's internal/sessions/cockroach.go
// (CockroachStore's Create/Get/Update/Delete/List shape and prepared-
// statement style), adapted from Postgres/CockroachDB to modernc.org/
// sqlite — a single-file embedded database matching the rest of this
// component's local-process persistence model, with the chat-platform
// fields (agent_id, channel, channel_id) dropped since this spec has no
// multi-channel delivery surface.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one catalogued session.
type Record struct {
	ID        string
	LogPath   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is a sqlite-backed session catalog.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the sqlite database at path, creating
// the sessions table on first use.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite serializes writers; avoid SQLITE_BUSY churn

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			log_path   TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new catalog row for a just-started session.
func (s *Store) Create(ctx context.Context, r Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, log_path, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.LogPath, r.Title, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: create %s: %w", r.ID, err)
	}
	return nil
}

// Touch bumps updated_at (and title, if non-empty) for id. Called after
// every turn so list_sessions can order by recency.
func (s *Store) Touch(ctx context.Context, id, title string) error {
	if title == "" {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ?, title = ? WHERE id = ?`, time.Now(), title, id)
	return err
}

// Get returns the catalog row for id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, log_path, title, created_at, updated_at FROM sessions WHERE id = ?`, id)
	var r Record
	if err := row.Scan(&r.ID, &r.LogPath, &r.Title, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, fmt.Errorf("sqlitestore: session not found: %s", id)
		}
		return Record{}, fmt.Errorf("sqlitestore: get %s: %w", id, err)
	}
	return r, nil
}

// List returns every catalogued session, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, log_path, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.LogPath, &r.Title, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes id from the catalog (the JSONL log itself is left on
// disk; callers decide separately whether to unlink it).
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", id, err)
	}
	return nil
}
