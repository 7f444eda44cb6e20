package storage

import (
	"fmt"
	"time"
)

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 1

// initSchema creates the required tables if they don't exist.
func (s *SQLiteStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// migrateToV1 creates the stream_audit table.
func (s *SQLiteStore) migrateToV1() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	const auditTable = `
		CREATE TABLE IF NOT EXISTS stream_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			operation TEXT NOT NULL,
			channel TEXT NOT NULL,
			client_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_stream_audit_channel ON stream_audit(channel);
	`
	if _, err := tx.Exec(auditTable); err != nil {
		return fmt.Errorf("create stream_audit: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		1, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}
