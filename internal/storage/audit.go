package storage

import (
	"fmt"
	"time"

	hostErrors "github.com/channelhost/host/internal/errors"
)

// Audit operations.
const (
	OpListen = "listen"
	OpCancel = "cancel"
	OpEvent  = "event"
)

// AuditEntry is one durable record of stream activity.
type AuditEntry struct {
	ID        int64
	Operation string
	Channel   string
	ClientID  string
	Kind      string // event kind for OpEvent rows
	Code      string // error code for unavailable events
	At        time.Time
}

// SaveAndPruneAudit inserts an entry and prunes the oldest rows beyond
// maxRows in a single transaction. maxRows <= 0 keeps everything.
func (s *SQLiteStore) SaveAndPruneAudit(entry *AuditEntry, maxRows int) error {
	if entry == nil {
		return hostErrors.New(hostErrors.CodeStorageSaveFailed, "audit entry cannot be nil")
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return hostErrors.Wrap(hostErrors.CodeStorageSaveFailed, "begin transaction", err)
	}
	defer tx.Rollback()

	const insertQuery = `
		INSERT INTO stream_audit (operation, channel, client_id, kind, code, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := tx.Exec(insertQuery,
		entry.Operation,
		entry.Channel,
		entry.ClientID,
		entry.Kind,
		entry.Code,
		entry.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return hostErrors.Wrap(hostErrors.CodeStorageSaveFailed, "insert audit", err)
	}

	if maxRows > 0 {
		const pruneQuery = `
			DELETE FROM stream_audit
			WHERE id NOT IN (SELECT id FROM stream_audit ORDER BY id DESC LIMIT ?)
		`
		if _, err := tx.Exec(pruneQuery, maxRows); err != nil {
			return hostErrors.Wrap(hostErrors.CodeStorageSaveFailed, "prune audit", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return hostErrors.Wrap(hostErrors.CodeStorageSaveFailed, "commit audit", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListAudit returns entries newest first. limit <= 0 returns all rows.
func (s *SQLiteStore) ListAudit(limit int) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, operation, channel, client_id, kind, code, at
		FROM stream_audit
		ORDER BY id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, hostErrors.Wrap(hostErrors.CodeStorageQueryFailed, "query audit", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			entry AuditEntry
			atStr string
		)
		if err := rows.Scan(&entry.ID, &entry.Operation, &entry.Channel, &entry.ClientID, &entry.Kind, &entry.Code, &atStr); err != nil {
			return nil, hostErrors.Wrap(hostErrors.CodeStorageQueryFailed, "scan audit row", err)
		}
		t, err := time.Parse(time.RFC3339Nano, atStr)
		if err != nil {
			return nil, fmt.Errorf("parse audit at: %w", err)
		}
		entry.At = t
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, hostErrors.Wrap(hostErrors.CodeStorageQueryFailed, "iterate audit rows", err)
	}

	return entries, nil
}

// ProbeAuditWrite verifies the audit table is writable by inserting and
// deleting a row inside one transaction. Startup fails fast if it errors.
func (s *SQLiteStore) ProbeAuditWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return hostErrors.Wrap(hostErrors.CodeStorageSaveFailed, "begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO stream_audit (operation, channel, at) VALUES (?, ?, ?)`,
		"startup_probe", "", time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return hostErrors.Wrap(hostErrors.CodeStorageSaveFailed, "insert probe row", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return hostErrors.Wrap(hostErrors.CodeStorageSaveFailed, "last insert id", err)
	}
	if _, err := tx.Exec("DELETE FROM stream_audit WHERE id = ?", id); err != nil {
		return hostErrors.Wrap(hostErrors.CodeStorageSaveFailed, "delete probe row", err)
	}
	return tx.Commit()
}
