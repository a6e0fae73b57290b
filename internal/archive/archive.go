// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package archive implements transparent descent into container formats
// (spec §4.4): ZIP, TAR (plus its compressed variants), and RAR each expose
// the same Reader/Entry contract so the scan coordinator never needs to
// know which one it is holding.
package archive

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsupported is returned by Registry.Open when no Opener is registered
// for the path's extension, and wrapped by OpenRar when the RAR decoder
// cannot read the archive. The coordinator records any Opener failure as a
// skip, not an error (spec §4.4/§7).
var ErrUnsupported = errors.New("archive: unsupported")

// Entry is one file inside an archive. OpenStream may be called at most
// once; directories and zero-byte metadata entries are never yielded by a
// Reader.
type Entry struct {
	InternalPath string // always "/"-separated, regardless of host OS
	Size         int64
	ModTime      time.Time
	OpenStream   func() (io.ReadCloser, error)
}

// Reader enumerates the entries of one opened archive.
type Reader interface {
	// Entries returns the archive's entries in the reader's natural order.
	Entries() ([]Entry, error)
	Close() error
}

// Opener opens an archive at path for reading.
type Opener func(path string) (Reader, error)

// Registry maps a file extension to the Opener that handles it. Unknown
// extensions are treated as regular files by the caller, not by the
// registry itself.
type Registry struct {
	openers map[string]Opener
}

// NewRegistry builds the default registry wiring the three format handlers
// of spec §4.4.
func NewRegistry() *Registry {
	r := &Registry{openers: map[string]Opener{}}
	r.Register(".zip", OpenZip)
	for _, ext := range []string{".tar", ".tar.gz", ".tgz", ".tar.bz2", ".tbz2"} {
		r.Register(ext, OpenTar)
	}
	r.Register(".rar", OpenRar)
	return r
}

// Register associates an extension (including the leading dot) with an
// Opener.
func (r *Registry) Register(ext string, open Opener) {
	r.openers[ext] = open
}

// Lookup returns the Opener for path's extension, and whether one exists.
// Multi-part extensions like ".tar.gz" are matched before the single final
// extension.
func (r *Registry) Lookup(path string) (Opener, bool) {
	lower := strings.ToLower(path)
	for _, ext := range []string{".tar.gz", ".tar.bz2"} {
		if strings.HasSuffix(lower, ext) {
			if open, ok := r.openers[ext]; ok {
				return open, true
			}
		}
	}
	open, ok := r.openers[strings.ToLower(filepath.Ext(lower))]
	return open, ok
}

// Open dispatches to the registered Opener for path's extension.
func (r *Registry) Open(path string) (Reader, error) {
	open, ok := r.Lookup(path)
	if !ok {
		return nil, ErrUnsupported
	}
	return open(path)
}

// toSlash normalizes an internal archive path to use "/" regardless of the
// host OS, per spec §6's virtual path rule.
func toSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
