// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"fmt"
	"strings"
)

// Statistics is a point-in-time snapshot of catalog size, per spec §4.3.
type Statistics struct {
	HashCount       int64
	FileRecordCount int64
	TotalBytes      int64
}

// Statistics returns aggregate counts over the whole catalog. It is a plain
// value, safe to read concurrently with an in-progress scan (spec §8
// "concurrent scan and scrape").
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM hashes`).
		Scan(&stats.HashCount, &stats.TotalBytes)
	if err != nil {
		return Statistics{}, fmt.Errorf("catalog: statistics: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_records`).Scan(&stats.FileRecordCount)
	if err != nil {
		return Statistics{}, fmt.Errorf("catalog: statistics: %w", err)
	}
	return stats, nil
}

// SearchHit is one path returned by Search.
type SearchHit struct {
	Path    string
	Name    string
	Machine string
	Size    int64
}

// Search returns FileRecords whose path contains query as a substring,
// ordered by path, capped at limit rows.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.path, f.name, f.machine, h.size
		 FROM file_records f JOIN hashes h ON h.id = f.hash_id
		 WHERE f.path LIKE '%' || ? || '%'
		 ORDER BY f.path
		 LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.Path, &h.Name, &h.Machine, &h.Size); err != nil {
			return nil, fmt.Errorf("catalog: search: scan: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// TreeNode summarizes one path prefix under a Tree query.
type TreeNode struct {
	Prefix    string
	FileCount int64
	Bytes     int64
}

// Tree groups file records by their path prefix up to the next "/" after
// root, giving a one-level directory listing view over the catalog.
func (s *Store) Tree(ctx context.Context, root string) ([]TreeNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.path, h.size FROM file_records f JOIN hashes h ON h.id = f.hash_id
		 WHERE f.path LIKE ? || '%'`, root)
	if err != nil {
		return nil, fmt.Errorf("catalog: tree: %w", err)
	}
	defer rows.Close()

	agg := map[string]*TreeNode{}
	var order []string
	for rows.Next() {
		var path string
		var size int64
		if err := rows.Scan(&path, &size); err != nil {
			return nil, fmt.Errorf("catalog: tree: scan: %w", err)
		}
		prefix := nextSegment(root, path)
		node, ok := agg[prefix]
		if !ok {
			node = &TreeNode{Prefix: prefix}
			agg[prefix] = node
			order = append(order, prefix)
		}
		node.FileCount++
		node.Bytes += size
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]TreeNode, 0, len(order))
	for _, p := range order {
		out = append(out, *agg[p])
	}
	return out, nil
}

func nextSegment(root, path string) string {
	rest := strings.TrimPrefix(path, root)
	rest = strings.TrimPrefix(rest, "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return root + "/" + rest[:i]
	}
	return path
}

// DuplicateGroup is a set of FileRecords that all share one Hash.
type DuplicateGroup struct {
	MD5    string
	SHA1   string
	SHA256 string
	Size   int64
	Paths  []string
}

// Duplicates returns every hash referenced by at least minCount file
// records, which is the deduplication query spec §1 lists as a core
// capability of the catalog.
func (s *Store) Duplicates(ctx context.Context, minCount int) ([]DuplicateGroup, error) {
	if minCount < 2 {
		minCount = 2
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT h.id, h.md5, h.sha1, h.sha256, h.size
		 FROM hashes h
		 JOIN file_records f ON f.hash_id = h.id
		 GROUP BY h.id
		 HAVING COUNT(f.id) >= ?`, minCount)
	if err != nil {
		return nil, fmt.Errorf("catalog: duplicates: %w", err)
	}

	type seed struct {
		id                int64
		md5, sha1, sha256 string
		size              int64
	}
	var seeds []seed
	for rows.Next() {
		var sd seed
		if err := rows.Scan(&sd.id, &sd.md5, &sd.sha1, &sd.sha256, &sd.size); err != nil {
			rows.Close()
			return nil, fmt.Errorf("catalog: duplicates: scan: %w", err)
		}
		seeds = append(seeds, sd)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	groups := make([]DuplicateGroup, 0, len(seeds))
	for _, sd := range seeds {
		pathRows, err := s.db.QueryContext(ctx, `SELECT path FROM file_records WHERE hash_id = ? ORDER BY path`, sd.id)
		if err != nil {
			return nil, fmt.Errorf("catalog: duplicates: paths: %w", err)
		}
		var paths []string
		for pathRows.Next() {
			var p string
			if err := pathRows.Scan(&p); err != nil {
				pathRows.Close()
				return nil, err
			}
			paths = append(paths, p)
		}
		pathRows.Close()
		if err := pathRows.Err(); err != nil {
			return nil, err
		}

		groups = append(groups, DuplicateGroup{
			MD5: sd.md5, SHA1: sd.sha1, SHA256: sd.sha256, Size: sd.size, Paths: paths,
		})
	}
	return groups, nil
}
