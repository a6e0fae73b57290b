// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog persists Hash and FileRecord rows (spec §3) to a SQLite
// database and serves the lookups the batch writer and incremental decider
// need. Every exported method returns plain values, never live rows or
// handles tied to a connection, so results can cross goroutine boundaries
// freely (spec §4.3).
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/kraklabs/filecat/internal/model"
)

const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS hashes (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	size    INTEGER NOT NULL,
	md5     TEXT NOT NULL,
	sha1    TEXT NOT NULL,
	sha256  TEXT NOT NULL,
	UNIQUE(md5, sha1, sha256)
);

CREATE TABLE IF NOT EXISTS file_records (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	hash_id      INTEGER NOT NULL REFERENCES hashes(id),
	name         TEXT NOT NULL,
	path         TEXT NOT NULL UNIQUE,
	machine      TEXT NOT NULL,
	created      TEXT NOT NULL,
	modified     TEXT NOT NULL,
	scanned      TEXT NOT NULL,
	operation    TEXT NOT NULL,
	is_archived  INTEGER NOT NULL DEFAULT 0,
	archive_path TEXT
);

CREATE INDEX IF NOT EXISTS idx_file_records_hash_id ON file_records(hash_id);
CREATE INDEX IF NOT EXISTS idx_file_records_name ON file_records(name);
CREATE INDEX IF NOT EXISTS idx_file_records_path ON file_records(path);

CREATE TABLE IF NOT EXISTS catalog_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// RetryPolicy configures the exponential backoff used to retry a write that
// fails with a transient "database is locked" error, per spec §4.3.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Factor   float64
}

// DefaultRetryPolicy matches the backoff suggested in spec §4.3: 5 attempts
// starting at 0.5s, doubling each time.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Initial: 500 * time.Millisecond, Factor: 2}

// Store is the catalog's SQLite-backed implementation of spec §4.3.
//
// A single *sql.DB is shared by all callers; database/sql already pools
// connections and serializes writers for us, so the "one writer" contract is
// enforced by SQLite's own locking plus our retry policy rather than an
// explicit mutex.
type Store struct {
	db     *sql.DB
	retry  RetryPolicy
	logger *slog.Logger
}

// Open opens (creating if necessary) a SQLite catalog at path, enables WAL
// journaling for concurrent readers with a single writer, and ensures the
// schema exists.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	// SQLite allows only one writer at a time regardless of connection pool
	// size; keep a generous reader pool but let the retry policy, not
	// contention on a single *sql.DB connection, absorb writer conflicts.
	db.SetMaxOpenConns(8)

	s := &Store{db: db, retry: DefaultRetryPolicy, logger: logger}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("catalog: create schema: %w", err)
	}
	_, err := s.db.Exec(
		`INSERT INTO catalog_meta(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO NOTHING`,
		fmt.Sprintf("%d", schemaVersion),
	)
	if err != nil {
		return fmt.Errorf("catalog: record schema version: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query and confirms the catalog's schema version
// matches what this build expects. Used at startup; a failure here is the
// spec §6 exit-code-3 condition.
func (s *Store) HealthCheck(ctx context.Context) error {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM catalog_meta WHERE key = 'schema_version'`).Scan(&v)
	if err != nil {
		return fmt.Errorf("catalog: health check: %w", err)
	}
	if v != fmt.Sprintf("%d", schemaVersion) {
		return fmt.Errorf("catalog: health check: schema version %s does not match %d", v, schemaVersion)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LookupByPath returns the record observed at path, if any.
func (s *Store) LookupByPath(ctx context.Context, path string) (model.FileRecord, model.Hash, bool, error) {
	rec, hash, err := s.scanJoinedRow(s.db.QueryRowContext(ctx, lookupByPathQuery, path))
	if err == sql.ErrNoRows {
		return model.FileRecord{}, model.Hash{}, false, nil
	}
	if err != nil {
		return model.FileRecord{}, model.Hash{}, false, fmt.Errorf("catalog: lookup by path: %w", err)
	}
	return rec, hash, true, nil
}

// LookupByPaths is the batched form of LookupByPath: it looks up a whole set
// of paths in one query. Paths with no record are absent from the map. The
// batch writer and the scan workers do not call it; workers look paths up
// one at a time with LookupByPath.
func (s *Store) LookupByPaths(ctx context.Context, paths []string) (map[string]Entry, error) {
	out := make(map[string]Entry, len(paths))
	if len(paths) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(paths))
	args := make([]any, len(paths))
	for i, p := range paths {
		placeholders[i] = "?"
		args[i] = p
	}
	query := strings.Replace(lookupByPathsQuery, "%PLACEHOLDERS%", strings.Join(placeholders, ","), 1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: lookup by paths: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, hash, err := s.scanJoinedRows(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: lookup by paths: scan: %w", err)
		}
		out[rec.Path] = Entry{Record: rec, Hash: hash}
	}
	return out, rows.Err()
}

// Entry pairs a FileRecord with the Hash it references, as returned by the
// batched lookups.
type Entry struct {
	Record model.FileRecord
	Hash   model.Hash
}

const joinedColumns = `
	f.id, f.hash_id, f.name, f.path, f.machine, f.created, f.modified, f.scanned,
	f.operation, f.is_archived, f.archive_path,
	h.id, h.size, h.md5, h.sha1, h.sha256
`

const lookupByPathQuery = `
SELECT` + joinedColumns + `
FROM file_records f JOIN hashes h ON h.id = f.hash_id
WHERE f.path = ?
`

const lookupByPathsQuery = `
SELECT` + joinedColumns + `
FROM file_records f JOIN hashes h ON h.id = f.hash_id
WHERE f.path IN (%PLACEHOLDERS%)
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanJoinedRow(row *sql.Row) (model.FileRecord, model.Hash, error) {
	return scanJoined(row)
}

func (s *Store) scanJoinedRows(rows *sql.Rows) (model.FileRecord, model.Hash, error) {
	return scanJoined(rows)
}

func scanJoined(sc rowScanner) (model.FileRecord, model.Hash, error) {
	var (
		rec         model.FileRecord
		hash        model.Hash
		created     string
		modified    string
		scanned     string
		isArchived  int
		archivePath sql.NullString
	)
	err := sc.Scan(
		&rec.ID, &rec.HashID, &rec.Name, &rec.Path, &rec.Machine, &created, &modified, &scanned,
		&rec.Operation, &isArchived, &archivePath,
		&hash.ID, &hash.Size, &hash.MD5, &hash.SHA1, &hash.SHA256,
	)
	if err != nil {
		return model.FileRecord{}, model.Hash{}, err
	}
	rec.Created, _ = time.Parse(time.RFC3339Nano, created)
	rec.Modified, _ = time.Parse(time.RFC3339Nano, modified)
	rec.Scanned, _ = time.Parse(time.RFC3339Nano, scanned)
	rec.IsArchived = isArchived != 0
	rec.ArchivePath = archivePath.String
	return rec, hash, nil
}
