// Package storage persists the stream delivery audit in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	// SQLite driver - imported for side effects (registers the driver).
	// modernc.org/sqlite is pure Go, so the host builds without CGO.
	_ "modernc.org/sqlite"

	hostErrors "github.com/channelhost/host/internal/errors"
	"github.com/channelhost/host/internal/log"
)

// SQLiteStore holds the audit database. All access goes through mu.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewSQLiteStore opens or creates a SQLite database at the given path and
// applies the schema. Use ":memory:" in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := log.WithComponent("storage")
	logger.Info().Str("path", path).Msg("opening database")

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, hostErrors.Wrap(hostErrors.CodeStorageOpenFailed, "open database", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, hostErrors.Wrap(hostErrors.CodeStorageOpenFailed, "ping database", err)
	}

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, hostErrors.Wrap(hostErrors.CodeStorageOpenFailed, "init schema", err)
	}

	logger.Info().Int("schema_version", currentSchemaVersion).Msg("database ready")
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info().Msg("closing database")
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
