// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"

	"github.com/jllopis/capkernel/pkg/resilience"
)

// SQLiteStore persists audit events in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and prepares the schema.
// The caller owns the returned *sql.DB.
func OpenSQLite(path string) (*SQLiteStore, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, err
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

// NewSQLiteStore creates a SQLite-backed audit store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Record stores a single audit event.
func (s *SQLiteStore) Record(ctx context.Context, event Event) error {
	detail, err := encodeDetail(event.Detail)
	if err != nil {
		return err
	}
	at := normalizeTime(event.At)
	return resilience.StoreRetry.Do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO kernel_audit_events (
				session_id, event_type, capability, class, detail_json, recorded_at
			) VALUES (?, ?, ?, ?, ?, ?)
		`,
			event.SessionID,
			string(event.Type),
			event.Capability,
			event.Class,
			string(detail),
			at,
		)
		return err
	})
}

// List returns audit events matching the filter, oldest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT session_id, event_type, capability, class, detail_json, recorded_at
		FROM kernel_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.SessionID != "" {
		addFilter("session_id = ?", filter.SessionID)
	}
	if filter.Type != "" {
		addFilter("event_type = ?", string(filter.Type))
	}
	if filter.Capability != "" {
		addFilter("capability = ?", filter.Capability)
	}
	if !filter.Since.IsZero() {
		addFilter("recorded_at >= ?", filter.Since.UTC())
	}
	query += where + " ORDER BY recorded_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event      Event
			eventType  string
			detailJSON sql.NullString
			recorded   sql.NullTime
		)
		if err := rows.Scan(
			&event.SessionID,
			&eventType,
			&event.Capability,
			&event.Class,
			&detailJSON,
			&recorded,
		); err != nil {
			return nil, err
		}
		event.Type = EventType(eventType)
		if detailJSON.Valid {
			if detail, err := decodeDetail([]byte(detailJSON.String)); err == nil {
				event.Detail = detail
			}
		}
		if recorded.Valid {
			event.At = recorded.Time.UTC()
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kernel_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL,
			capability TEXT NOT NULL DEFAULT '',
			class TEXT NOT NULL DEFAULT '',
			detail_json TEXT,
			recorded_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_kernel_audit_session ON kernel_audit_events(session_id);
		CREATE INDEX IF NOT EXISTS idx_kernel_audit_type ON kernel_audit_events(event_type);
	`)
	return err
}
