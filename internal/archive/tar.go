// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// tarReader handles plain .tar as well as its gzip and bzip2 compressed
// variants. Content is never buffered in memory: Entries() makes one
// metadata-only pass, and each Entry's OpenStream reopens the underlying
// file and re-decompresses from the start, fast-forwarding to the matching
// header. This keeps memory use O(1) regardless of archive size, at the
// cost of re-decompressing a compressed archive once per entry opened —
// acceptable since entries are consumed in the reader's natural order.
type tarReader struct {
	path       string
	compressed compression
}

type compression int

const (
	compressionNone compression = iota
	compressionGzip
	compressionBzip2
)

// OpenTar opens a .tar, .tar.gz/.tgz, or .tar.bz2/.tbz2 archive.
func OpenTar(path string) (Reader, error) {
	c := detectTarCompression(path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open tar %s: %w", path, err)
	}
	f.Close()
	return &tarReader{path: path, compressed: c}, nil
}

func detectTarCompression(path string) compression {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return compressionGzip
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return compressionBzip2
	default:
		return compressionNone
	}
}

func (t *tarReader) open() (*os.File, *tar.Reader, io.Closer, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, nil, nil, err
	}
	switch t.compressed {
	case compressionGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, nil, err
		}
		return f, tar.NewReader(gz), gz, nil
	case compressionBzip2:
		return f, tar.NewReader(bzip2.NewReader(f)), nil, nil
	default:
		return f, tar.NewReader(f), nil, nil
	}
}

func (t *tarReader) Entries() ([]Entry, error) {
	f, tr, mid, err := t.open()
	if err != nil {
		return nil, fmt.Errorf("archive: read tar %s: %w", t.path, err)
	}
	defer f.Close()
	if mid != nil {
		defer mid.Close()
	}

	var entries []Entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, fmt.Errorf("archive: tar entry header: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || hdr.Size == 0 {
			continue
		}
		name := toSlash(hdr.Name)
		entries = append(entries, Entry{
			InternalPath: name,
			Size:         hdr.Size,
			ModTime:      hdr.ModTime,
			OpenStream:   t.streamOpener(name),
		})
	}
	return entries, nil
}

func (t *tarReader) streamOpener(name string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		f, tr, mid, err := t.open()
		if err != nil {
			return nil, err
		}
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				f.Close()
				if mid != nil {
					mid.Close()
				}
				return nil, fmt.Errorf("archive: tar entry %s not found on reopen", name)
			}
			if err != nil {
				f.Close()
				if mid != nil {
					mid.Close()
				}
				return nil, err
			}
			if toSlash(hdr.Name) == name {
				return &tarEntryReader{tr: tr, file: f, mid: mid}, nil
			}
		}
	}
}

// tarEntryReader adapts a positioned *tar.Reader plus its backing file (and
// optional decompressor) into a single io.ReadCloser.
type tarEntryReader struct {
	tr   *tar.Reader
	file *os.File
	mid  io.Closer
}

func (r *tarEntryReader) Read(p []byte) (int, error) { return r.tr.Read(p) }

func (r *tarEntryReader) Close() error {
	if r.mid != nil {
		_ = r.mid.Close()
	}
	return r.file.Close()
}

func (t *tarReader) Close() error { return nil }
