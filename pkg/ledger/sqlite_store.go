package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS invocations (
		tool TEXT PRIMARY KEY,
		last_emotion TEXT NOT NULL,
		last_invoked INTEGER NOT NULL,
		agent TEXT NOT NULL
	);
`

// SQLiteStore keeps one row per tool
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path and creates the schema
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load returns every stored row
func (s *SQLiteStore) Load() (map[string]Record, error) {
	rows, err := s.db.Query("SELECT tool, last_emotion, last_invoked, agent FROM invocations")
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	records := make(map[string]Record)
	for rows.Next() {
		var rec Record
		var invoked int64
		if err := rows.Scan(&rec.Tool, &rec.LastEmotion, &invoked, &rec.Agent); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		rec.LastInvokedAt = time.UnixMilli(invoked).UTC()
		records[rec.Tool] = rec
	}
	return records, rows.Err()
}

// Append upserts records in order inside one transaction
func (s *SQLiteStore) Append(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO invocations (tool, last_emotion, last_invoked, agent)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tool) DO UPDATE SET
			last_emotion = excluded.last_emotion,
			last_invoked = excluded.last_invoked,
			agent = excluded.agent
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(rec.Tool, rec.LastEmotion, rec.LastInvokedAt.UnixMilli(), rec.Agent); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", rec.Tool, err)
		}
	}

	return tx.Commit()
}

// Compact replaces the table contents and reclaims space
func (s *SQLiteStore) Compact(records map[string]Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM invocations"); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}
	for _, rec := range records {
		if _, err := tx.Exec(
			"INSERT INTO invocations (tool, last_emotion, last_invoked, agent) VALUES (?, ?, ?, ?)",
			rec.Tool, rec.LastEmotion, rec.LastInvokedAt.UnixMilli(), rec.Agent,
		); err != nil {
			return fmt.Errorf("failed to insert %s: %w", rec.Tool, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit compaction: %w", err)
	}

	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum ledger: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
