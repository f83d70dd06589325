// Package store persists snippets and the expansion history in SQLite.
// The snippet table is the durable source the settings surface edits;
// the in-memory registry is rebuilt from it wholesale on every change.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"expandd/internal/snippet"
)

// Schema for the expandd store. "trigger" is a reserved word in SQLite,
// hence the quoting.
const schema = `
CREATE TABLE IF NOT EXISTS snippets (
    id          TEXT PRIMARY KEY,
    "trigger"   TEXT NOT NULL UNIQUE,
    content     TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS expansions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ns  INTEGER NOT NULL,
    "trigger"     TEXT NOT NULL,
    content_len   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_expansions_timestamp ON expansions(timestamp_ns);
`

// Expansion is one recorded expansion. Content itself is not stored,
// only its length; snippet content can hold anything the user types.
type Expansion struct {
	ID         int64
	Time       time.Time
	Trigger    string
	ContentLen int
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertSnippet inserts or updates one snippet. Trigger conflicts follow
// the registry's last-write-wins rule: an existing snippet owning the
// same trigger is removed first.
func (s *Store) UpsertSnippet(sn snippet.Snippet) error {
	if err := sn.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM snippets WHERE "trigger" = ? AND id != ?`, sn.Trigger, sn.ID); err != nil {
		return fmt.Errorf("evict trigger owner: %w", err)
	}

	now := time.Now().UnixNano()
	_, err = tx.Exec(`
		INSERT INTO snippets (id, "trigger", content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET "trigger" = excluded."trigger", content = excluded.content, updated_at = excluded.updated_at`,
		sn.ID, sn.Trigger, sn.Content, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert snippet: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteSnippet removes a snippet by ID. Deleting an unknown ID is not
// an error.
func (s *Store) DeleteSnippet(id string) error {
	if _, err := s.db.Exec(`DELETE FROM snippets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete snippet: %w", err)
	}
	return nil
}

// ListSnippets returns every stored snippet ordered by trigger.
func (s *Store) ListSnippets() ([]snippet.Snippet, error) {
	rows, err := s.db.Query(`SELECT id, "trigger", content FROM snippets ORDER BY "trigger" ASC`)
	if err != nil {
		return nil, fmt.Errorf("query snippets: %w", err)
	}
	defer rows.Close()

	var out []snippet.Snippet
	for rows.Next() {
		var sn snippet.Snippet
		if err := rows.Scan(&sn.ID, &sn.Trigger, &sn.Content); err != nil {
			return nil, fmt.Errorf("scan snippet: %w", err)
		}
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snippets: %w", err)
	}
	return out, nil
}

// GetSnippet retrieves one snippet by ID; nil when absent.
func (s *Store) GetSnippet(id string) (*snippet.Snippet, error) {
	var sn snippet.Snippet
	err := s.db.QueryRow(`SELECT id, "trigger", content FROM snippets WHERE id = ?`, id).
		Scan(&sn.ID, &sn.Trigger, &sn.Content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snippet: %w", err)
	}
	return &sn, nil
}

// ReplaceSnippets swaps the stored set wholesale in one transaction.
// This is the settings-save path: the UI always writes the full set.
func (s *Store) ReplaceSnippets(snippets []snippet.Snippet) error {
	for _, sn := range snippets {
		if err := sn.Validate(); err != nil {
			return fmt.Errorf("snippet %q: %w", sn.ID, err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM snippets`); err != nil {
		return fmt.Errorf("clear snippets: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO snippets (id, "trigger", content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, sn := range snippets {
		if _, err := stmt.Exec(sn.ID, sn.Trigger, sn.Content, now, now); err != nil {
			return fmt.Errorf("insert snippet %q: %w", sn.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RecordExpansion appends one expansion to the history.
func (s *Store) RecordExpansion(trigger string, contentLen int, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO expansions (timestamp_ns, "trigger", content_len)
		VALUES (?, ?, ?)`,
		at.UnixNano(), trigger, contentLen,
	)
	if err != nil {
		return fmt.Errorf("record expansion: %w", err)
	}
	return nil
}

// RecentExpansions returns the latest expansions, newest first.
func (s *Store) RecentExpansions(limit int) ([]Expansion, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp_ns, "trigger", content_len
		FROM expansions
		ORDER BY timestamp_ns DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query expansions: %w", err)
	}
	defer rows.Close()

	var out []Expansion
	for rows.Next() {
		var e Expansion
		var ns int64
		if err := rows.Scan(&e.ID, &ns, &e.Trigger, &e.ContentLen); err != nil {
			return nil, fmt.Errorf("scan expansion: %w", err)
		}
		e.Time = time.Unix(0, ns)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expansions: %w", err)
	}
	return out, nil
}

// CountExpansions returns the total number of recorded expansions.
func (s *Store) CountExpansions() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM expansions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count expansions: %w", err)
	}
	return n, nil
}

// PruneExpansions deletes history older than the cutoff and returns the
// number of rows removed.
func (s *Store) PruneExpansions(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM expansions WHERE timestamp_ns < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune expansions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
