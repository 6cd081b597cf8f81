// Package storage holds durable implementations of the backend stores.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/podc/assistant-widget/internal/model/flag"
)

// SQLiteFlagStore implements flag.Store on a SQLite database.
type SQLiteFlagStore struct {
	db *sql.DB
}

// NewSQLiteFlagStore opens (or creates) the database at path and makes sure
// the schema exists. Parent directories are created as needed.
func NewSQLiteFlagStore(path string) (*SQLiteFlagStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteFlagStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Printf("[store] sqlite flag store ready path=%s", path)
	return s, nil
}

func (s *SQLiteFlagStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS flags (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			user_prompt TEXT NOT NULL,
			flagged_text TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_flags_timestamp
			ON flags(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save inserts a flag.
func (s *SQLiteFlagStore) Save(ctx context.Context, f flag.Flag) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flags (id, timestamp, user_prompt, flagged_text) VALUES (?, ?, ?, ?)`,
		f.ID, f.Timestamp, f.UserPrompt, f.FlaggedText,
	)
	if err != nil {
		return fmt.Errorf("inserting flag: %w", err)
	}
	return nil
}

// List returns every flag, newest timestamp first.
func (s *SQLiteFlagStore) List(ctx context.Context) ([]flag.Flag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, user_prompt, flagged_text FROM flags ORDER BY timestamp DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying flags: %w", err)
	}
	defer rows.Close()

	flags := []flag.Flag{}
	for rows.Next() {
		var f flag.Flag
		if err := rows.Scan(&f.ID, &f.Timestamp, &f.UserPrompt, &f.FlaggedText); err != nil {
			return nil, fmt.Errorf("scanning flag: %w", err)
		}
		flags = append(flags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating flags: %w", err)
	}
	return flags, nil
}

// Close releases the database handle.
func (s *SQLiteFlagStore) Close() error {
	return s.db.Close()
}
