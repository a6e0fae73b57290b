// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package walker produces a deterministic, finite stream of candidate file
// paths from a root directory (spec §4.5). It is single-threaded by design:
// concurrency in the pipeline lives in the worker pool that consumes its
// output, not in the walk itself.
package walker

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/kraklabs/filecat/internal/ignore"
)

// Candidate is one file the walker has decided is worth handing to a worker.
type Candidate struct {
	Path    string
	Size    int64
	ModTime int64 // unix nanoseconds, to keep this struct comparable and cheap to copy
}

// Signals lets the walker report progress to the coordinator without taking
// a dependency on the metrics package.
type Signals struct {
	// DirEntered is called once for every directory actually descended into.
	DirEntered func(path string)
	// TraversalError is called for a filesystem error that does not abort
	// the walk (permission denied, vanished directory): spec §7's
	// TraversalError, counted under scope=dir_iter.
	TraversalError func(path string, err error)
}

// Walk walks root depth-first, yielding absolute file paths to out in
// lexicographic order within each directory. It honors m (spec §4.1),
// never follows symlinks, and skips non-regular files silently. out is
// closed when the walk finishes or ctx is canceled.
func Walk(ctx context.Context, root string, m *ignore.Matcher, sig Signals, out chan<- Candidate) {
	defer close(out)
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	walkDir(ctx, root, m, sig, out)
}

func walkDir(ctx context.Context, dir string, m *ignore.Matcher, sig Signals, out chan<- Candidate) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if sig.TraversalError != nil {
			sig.TraversalError(dir, err)
		}
		return
	}
	if sig.DirEntered != nil {
		sig.DirEntered(dir)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if m.Excluded(path, true) {
				continue
			}
			walkDir(ctx, path, m, sig, out)
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if sig.TraversalError != nil {
				sig.TraversalError(path, err)
			}
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue // symlinks are never followed
		}
		if !info.Mode().IsRegular() {
			continue // devices, sockets, FIFOs skipped silently
		}
		if m.Excluded(path, false) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case out <- Candidate{Path: path, Size: info.Size(), ModTime: info.ModTime().UnixNano()}:
		}
	}
}
