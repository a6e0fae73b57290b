// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors classifies the scan's failure modes per the error kinds
// of spec §7 and turns a fatal one into a process exit with the matching
// code from spec §6.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
)

// Scope tags the metrics counter an error is rolled up under. Values match
// the cardinality bound of spec §6 exactly: scan_file, scan_archive,
// worker, dir_iter, db_flush, archive_read, archive_skip.
type Scope string

const (
	ScopeDirIter     Scope = "dir_iter"
	ScopeScanFile    Scope = "scan_file"
	ScopeScanArchive Scope = "scan_archive"
	ScopeWorker      Scope = "worker"
	ScopeDBFlush     Scope = "db_flush"
	ScopeArchiveRead Scope = "archive_read"
	ScopeArchiveSkip Scope = "archive_skip"
)

// Kind names one of the error kinds of spec §7.
type Kind string

const (
	KindTraversal        Kind = "TraversalError"
	KindRead             Kind = "ReadError"
	KindArchiveSkip      Kind = "ArchiveSkip"
	KindArchiveRead      Kind = "ArchiveReadError"
	KindWriteTransient   Kind = "WriteTransientError"
	KindWriteFatal       Kind = "WriteFatalError"
	KindInterruptRequest Kind = "InterruptRequested"
	KindInit             Kind = "InitError"
	KindHealthCheck      Kind = "HealthCheckError"
)

// ScanError is the error type returned by scan-pipeline code. Summary is
// shown to the user; Detail and Suggestion add context; Scope drives the
// metrics counter; Cause is the wrapped underlying error, if any.
type ScanError struct {
	Kind       Kind
	Scope      Scope
	Summary    string
	Detail     string
	Suggestion string
	Cause      error
}

func (e *ScanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Summary, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Summary)
}

func (e *ScanError) Unwrap() error { return e.Cause }

func newError(kind Kind, scope Scope, summary, detail, suggestion string, cause error) *ScanError {
	return &ScanError{Kind: kind, Scope: scope, Summary: summary, Detail: detail, Suggestion: suggestion, Cause: cause}
}

// NewTraversalError wraps a filesystem error hit while walking a directory.
func NewTraversalError(path string, cause error) *ScanError {
	return newError(KindTraversal, ScopeDirIter, "Cannot read directory",
		fmt.Sprintf("failed to list %s", path), "Check permissions on the scan root", cause)
}

// NewReadError wraps an I/O failure hit while hashing a regular file.
func NewReadError(path string, cause error) *ScanError {
	return newError(KindRead, ScopeScanFile, "Cannot read file",
		fmt.Sprintf("failed to hash %s", path), "", cause)
}

// NewArchiveSkip reports an archive excluded by a size gate or an
// unsupported format. It carries no cause: skips are not failures.
func NewArchiveSkip(path, reason string) *ScanError {
	return newError(KindArchiveSkip, ScopeArchiveSkip, "Archive skipped", reason, "", nil)
}

// NewArchiveReadError wraps a failure enumerating or streaming an entry
// inside an otherwise openable archive.
func NewArchiveReadError(path string, cause error) *ScanError {
	return newError(KindArchiveRead, ScopeArchiveRead, "Cannot read archive entry",
		fmt.Sprintf("failed while reading %s", path), "", cause)
}

// NewWriteTransientError wraps a retryable catalog write failure, e.g. a
// locked database. Callers see this only once C3's retry budget (§4.3) is
// exhausted.
func NewWriteTransientError(cause error) *ScanError {
	return newError(KindWriteTransient, ScopeDBFlush, "Catalog write failed after retries",
		"the database stayed locked past the retry budget", "Check for other processes holding the catalog file", cause)
}

// NewWriteFatalError wraps a non-retryable catalog write failure such as a
// constraint violation. It attaches to a single record; the scan continues.
func NewWriteFatalError(path string, cause error) *ScanError {
	return newError(KindWriteFatal, ScopeDBFlush, "Catalog write rejected",
		fmt.Sprintf("record for %s could not be written", path), "", cause)
}

// NewInterruptRequested marks a signal-driven shutdown. Not itself fatal;
// the coordinator uses it to decide on exit code 2.
func NewInterruptRequested(signal string) *ScanError {
	return newError(KindInterruptRequest, ScopeDBFlush, "Interrupted",
		fmt.Sprintf("received %s", signal), "", nil)
}

// NewInitError wraps a fatal startup failure (config, catalog open).
func NewInitError(summary, detail, suggestion string, cause error) *ScanError {
	return newError(KindInit, "", summary, detail, suggestion, cause)
}

// NewHealthCheckError wraps a fatal catalog health-check failure at start.
func NewHealthCheckError(cause error) *ScanError {
	return newError(KindHealthCheck, "", "Catalog health check failed",
		"the catalog database did not respond to a liveness query", "Inspect or recreate the database file", cause)
}

// ExitCode maps a fatal error to the process exit code of spec §6: 1 for a
// generic init failure, 2 for an interrupt, 3 for a failed health check.
// Any other error defaults to 1.
func (e *ScanError) ExitCode() int {
	switch e.Kind {
	case KindInterruptRequest:
		return 2
	case KindHealthCheck:
		return 3
	default:
		return 1
	}
}

type jsonError struct {
	Kind       Kind   `json:"kind"`
	Summary    string `json:"summary"`
	Detail     string `json:"detail,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// FatalError prints err (as JSON when jsonMode is set, else human-readable
// text to stderr) and exits the process with the matching code. It never
// returns.
func FatalError(err error, jsonMode bool) {
	se, ok := err.(*ScanError)
	if !ok {
		se = newError(KindInit, "", err.Error(), "", "", nil)
	}

	if jsonMode {
		payload := jsonError{Kind: se.Kind, Summary: se.Summary, Detail: se.Detail, Suggestion: se.Suggestion}
		enc, _ := json.Marshal(payload)
		fmt.Fprintln(os.Stderr, string(enc))
	} else {
		fmt.Fprintf(os.Stderr, "error: %s\n", se.Summary)
		if se.Detail != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", se.Detail)
		}
		if se.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", se.Suggestion)
		}
		if se.Cause != nil {
			fmt.Fprintf(os.Stderr, "  cause: %v\n", se.Cause)
		}
	}

	os.Exit(se.ExitCode())
}
