package db

import (
	"fmt"
)

// Migrate runs all database migrations
func (db *DB) Migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001},
		{2, migration002},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

const migration001 = `
-- Key-value settings (session tokens, retention override)
CREATE TABLE settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

INSERT INTO settings (key, value) VALUES ('retention_days', '30');

-- One row per upload invocation
CREATE TABLE upload_runs (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    file_name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'running',
    stage TEXT NOT NULL DEFAULT 'idle',
    progress INTEGER DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    current_page INTEGER DEFAULT 0,
    total_pages INTEGER DEFAULT 0,
    audio_generated INTEGER DEFAULT 0,
    audio_failed INTEGER DEFAULT 0,
    audio_skipped INTEGER DEFAULT 0,
    audio_duration REAL DEFAULT 0,
    book_id INTEGER,
    error_message TEXT,
    started_at DATETIME NOT NULL,
    completed_at DATETIME
);

CREATE INDEX idx_upload_runs_status ON upload_runs(status);
CREATE INDEX idx_upload_runs_started_at ON upload_runs(started_at);
`

const migration002 = `
-- Local listening position per book, pushed to the backend by the sync job
CREATE TABLE listening_progress (
    book_id INTEGER PRIMARY KEY,
    page_number INTEGER NOT NULL DEFAULT 1,
    position REAL NOT NULL DEFAULT 0,
    listened_time REAL NOT NULL DEFAULT 0,
    volume REAL NOT NULL DEFAULT 1,
    revision INTEGER NOT NULL DEFAULT 1,
    synced BOOLEAN NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL
);

CREATE INDEX idx_listening_progress_synced ON listening_progress(synced);
`
