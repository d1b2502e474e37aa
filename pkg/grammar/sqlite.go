// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package grammar

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/capkernel/pkg/resilience"
)

// SQLiteCatalog persists grammar snapshots in SQLite. Each row keeps the
// grammar's JSON encoding, so contract metadata survives verbatim, and the
// fingerprint of its canonical form.
type SQLiteCatalog struct {
	db *sql.DB
}

// OpenSQLiteCatalog opens (or creates) the database at path. The caller
// owns the returned *sql.DB.
func OpenSQLiteCatalog(path string) (*SQLiteCatalog, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, err
	}
	catalog, err := NewSQLiteCatalog(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return catalog, db, nil
}

// NewSQLiteCatalog creates a SQLite-backed catalog and ensures schema.
func NewSQLiteCatalog(db *sql.DB) (*SQLiteCatalog, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteCatalog{db: db}, nil
}

// Put validates g and upserts its snapshot.
func (c *SQLiteCatalog) Put(ctx context.Context, g *Grammar) error {
	body, err := MarshalJSON(g, false)
	if err != nil {
		return err
	}
	key, err := versionKey(g.Version)
	if err != nil {
		return err
	}
	fingerprint, err := Fingerprint(g)
	if err != nil {
		return err
	}
	storedAt := time.Now().UTC()
	return resilience.StoreRetry.Do(ctx, func() error {
		_, err := c.db.ExecContext(ctx, `
			INSERT INTO grammar_snapshots (name, version_key, version, fingerprint, body_json, stored_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(name, version_key) DO UPDATE SET
				version = excluded.version,
				fingerprint = excluded.fingerprint,
				body_json = excluded.body_json,
				stored_at = excluded.stored_at
		`, g.Name, key, g.Version, fingerprint, string(body), storedAt)
		return err
	})
}

// Get loads a snapshot, or NOT_FOUND.
func (c *SQLiteCatalog) Get(ctx context.Context, name, version string) (*Grammar, error) {
	key, err := versionKey(version)
	if err != nil {
		return nil, err
	}
	var body string
	err = c.db.QueryRowContext(ctx,
		`SELECT body_json FROM grammar_snapshots WHERE name = ? AND version_key = ?`,
		name, key,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snapshotNotFound(name, version)
	}
	if err != nil {
		return nil, err
	}
	return ParseJSON([]byte(body))
}

// Versions lists the stored versions of name.
func (c *SQLiteCatalog) Versions(ctx context.Context, name string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT version FROM grammar_snapshots WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortVersions(out)
	return out, nil
}

// FingerprintOf returns the stored fingerprint of a snapshot.
func (c *SQLiteCatalog) FingerprintOf(ctx context.Context, name, version string) (string, error) {
	key, err := versionKey(version)
	if err != nil {
		return "", err
	}
	var fp string
	err = c.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM grammar_snapshots WHERE name = ? AND version_key = ?`,
		name, key,
	).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", snapshotNotFound(name, version)
	}
	return fp, err
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS grammar_snapshots (
			name TEXT NOT NULL,
			version_key TEXT NOT NULL,
			version TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			body_json TEXT NOT NULL,
			stored_at TIMESTAMP NOT NULL,
			PRIMARY KEY (name, version_key)
		);
	`)
	return err
}
