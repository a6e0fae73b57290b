// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kraklabs/filecat/internal/model"
)

// UpsertResult summarizes one call to UpsertBatch, per spec §4.3/§4.7.
type UpsertResult struct {
	Inserted    int
	Updated     int
	FailedPaths []string
}

// UpsertBatch persists a chunk of pending records in one transaction,
// following the flush algorithm of spec §4.7:
//
//  1. collect the distinct (md5,sha1,sha256) triples in the chunk
//  2. look up which already have hash ids
//  3. insert the novel triples and capture their ids
//  4. insert ADD records, update MOD records by path
//  5. commit
//
// Steps 2-4 run one statement per triple or record inside the single
// transaction; they are not combined into multi-row statements.
//  6. on failure, roll back and retry the chunk one record at a time,
//     isolating failures into FailedPaths
//
// Transient "database is locked" errors are retried with backoff before the
// single-record fallback is attempted.
func (s *Store) UpsertBatch(ctx context.Context, records []model.PendingRecord) (UpsertResult, error) {
	if len(records) == 0 {
		return UpsertResult{}, nil
	}

	result, err := s.withRetry(ctx, func() (UpsertResult, error) {
		return s.upsertChunk(ctx, records)
	})
	if err == nil {
		return result, nil
	}

	// The whole-chunk transaction failed even after retrying transient
	// errors; isolate the failure to individual records so one bad record
	// does not sink the rest of the chunk (spec §4.7 step 6).
	s.logger.Warn("catalog.upsert.chunk_failed", "size", len(records), "err", err)
	return s.upsertOneByOne(ctx, records), nil
}

func (s *Store) withRetry(ctx context.Context, fn func() (UpsertResult, error)) (UpsertResult, error) {
	wait := s.retry.Initial
	var lastErr error
	for attempt := 1; attempt <= s.retry.Attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isTransient(err) {
			return UpsertResult{}, err
		}
		s.logger.Debug("catalog.upsert.retry", "attempt", attempt, "wait", wait, "err", err)
		select {
		case <-ctx.Done():
			return UpsertResult{}, ctx.Err()
		case <-time.After(wait):
		}
		wait = time.Duration(float64(wait) * s.retry.Factor)
	}
	return UpsertResult{}, lastErr
}

func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

func (s *Store) upsertChunk(ctx context.Context, records []model.PendingRecord) (UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	hashIDs, err := resolveHashIDs(ctx, tx, records)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("resolve hash ids: %w", err)
	}

	var result UpsertResult
	for _, rec := range records {
		hashID, ok := hashIDs[rec.Triple()]
		if !ok {
			return UpsertResult{}, fmt.Errorf("no hash id resolved for path %s", rec.Path)
		}
		switch rec.Operation {
		case model.OpAdd:
			if err := insertFileRecord(ctx, tx, rec, hashID); err != nil {
				return UpsertResult{}, fmt.Errorf("insert %s: %w", rec.Path, err)
			}
			result.Inserted++
		case model.OpMod:
			if err := updateFileRecord(ctx, tx, rec, hashID); err != nil {
				return UpsertResult{}, fmt.Errorf("update %s: %w", rec.Path, err)
			}
			result.Updated++
		default:
			return UpsertResult{}, fmt.Errorf("unknown operation %q for %s", rec.Operation, rec.Path)
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// resolveHashIDs implements spec §4.7 steps 1-3: find existing hash ids for
// the chunk's distinct triples, insert whichever are novel, and return a
// complete triple -> id map for the chunk.
func resolveHashIDs(ctx context.Context, tx *sql.Tx, records []model.PendingRecord) (map[[3]string]int64, error) {
	distinct := map[[3]string]int64{}
	order := make([][3]string, 0, len(records))
	for _, rec := range records {
		t := rec.Triple()
		if _, seen := distinct[t]; !seen {
			distinct[t] = rec.Size
			order = append(order, t)
		}
	}

	ids := make(map[[3]string]int64, len(distinct))

	// Step 2: look up existing ids, one query per distinct triple.
	for _, t := range order {
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM hashes WHERE md5 = ? AND sha1 = ? AND sha256 = ?`,
			t[0], t[1], t[2],
		).Scan(&id)
		switch {
		case err == nil:
			ids[t] = id
		case errors.Is(err, sql.ErrNoRows):
			// resolved below
		default:
			return nil, err
		}
	}

	// Step 3: insert the novel triples and capture their assigned ids.
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO hashes(size, md5, sha1, sha256) VALUES (?, ?, ?, ?)
		 ON CONFLICT(md5, sha1, sha256) DO NOTHING`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, t := range order {
		if _, ok := ids[t]; ok {
			continue
		}
		size := distinct[t]
		res, err := stmt.ExecContext(ctx, size, t[0], t[1], t[2])
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if n, nerr := res.RowsAffected(); err != nil || nerr != nil || n == 0 {
			// No row was inserted: ON CONFLICT DO NOTHING means another
			// writer already stored this triple, so LastInsertId does not
			// name it; re-query.
			if qerr := tx.QueryRowContext(ctx,
				`SELECT id FROM hashes WHERE md5 = ? AND sha1 = ? AND sha256 = ?`,
				t[0], t[1], t[2],
			).Scan(&id); qerr != nil {
				return nil, qerr
			}
		}
		ids[t] = id
	}

	return ids, nil
}

func insertFileRecord(ctx context.Context, tx *sql.Tx, rec model.PendingRecord, hashID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO file_records
			(hash_id, name, path, machine, created, modified, scanned, operation, is_archived, archive_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		hashID, rec.Name, rec.Path, rec.Machine,
		rec.Created.UTC().Format(time.RFC3339Nano),
		rec.Modified.UTC().Format(time.RFC3339Nano),
		rec.Scanned.UTC().Format(time.RFC3339Nano),
		string(rec.Operation), boolToInt(rec.IsArchived), nullableString(rec.ArchivePath),
	)
	return err
}

func updateFileRecord(ctx context.Context, tx *sql.Tx, rec model.PendingRecord, hashID int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE file_records
		 SET hash_id = ?, name = ?, machine = ?, modified = ?, scanned = ?, operation = ?,
		     is_archived = ?, archive_path = ?
		 WHERE path = ?`,
		hashID, rec.Name, rec.Machine,
		rec.Modified.UTC().Format(time.RFC3339Nano),
		rec.Scanned.UTC().Format(time.RFC3339Nano),
		string(rec.Operation), boolToInt(rec.IsArchived), nullableString(rec.ArchivePath),
		rec.Path,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MOD implies a prior record; if it vanished between the decider's
		// read and this write, fall back to an insert so the sighting is
		// not lost.
		return insertFileRecord(ctx, tx, rec, hashID)
	}
	return nil
}

// upsertOneByOne is the spec §4.7 step-6 fallback: each record gets its own
// transaction, and ones that still fail are isolated into FailedPaths
// without aborting the rest.
func (s *Store) upsertOneByOne(ctx context.Context, records []model.PendingRecord) UpsertResult {
	var result UpsertResult
	for _, rec := range records {
		r, err := s.upsertChunk(ctx, []model.PendingRecord{rec})
		if err != nil {
			s.logger.Error("catalog.upsert.record_failed", "path", rec.Path, "err", err)
			result.FailedPaths = append(result.FailedPaths, rec.Path)
			continue
		}
		result.Inserted += r.Inserted
		result.Updated += r.Updated
	}
	return result
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
