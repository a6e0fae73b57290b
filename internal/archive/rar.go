// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"fmt"
	"io"

	rardecode "github.com/nwaples/rardecode/v2"
)

// rarReader reads RAR archives via rardecode, which implements the format
// natively (no external unrar binary required) for the non-solid,
// non-encrypted archives this indexer expects to encounter. Archives it
// cannot parse surface as ErrUnsupported, which the coordinator treats as a
// skip rather than an error, per spec §4.4.
type rarReader struct {
	path string
}

// OpenRar opens a RAR archive for streaming entry reads. It does not keep
// the underlying decoder open between calls: like the tar reader, each
// entry's OpenStream reopens the archive and fast-forwards, bounding memory
// use independent of archive size.
func OpenRar(path string) (Reader, error) {
	rc, err := rardecode.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open rar %s: %v", ErrUnsupported, path, err)
	}
	rc.Close()
	return &rarReader{path: path}, nil
}

func (r *rarReader) Entries() ([]Entry, error) {
	rc, err := rardecode.OpenReader(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	defer rc.Close()

	var entries []Entry
	for {
		hdr, err := rc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, fmt.Errorf("archive: rar entry header: %w", err)
		}
		if hdr.IsDir || hdr.UnPackedSize == 0 {
			continue
		}
		name := toSlash(hdr.Name)
		entries = append(entries, Entry{
			InternalPath: name,
			Size:         hdr.UnPackedSize,
			ModTime:      hdr.ModificationTime,
			OpenStream:   r.streamOpener(name),
		})
	}
	return entries, nil
}

func (r *rarReader) streamOpener(name string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		rc, err := rardecode.OpenReader(r.path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		for {
			hdr, err := rc.Next()
			if err == io.EOF {
				rc.Close()
				return nil, fmt.Errorf("archive: rar entry %s not found on reopen", name)
			}
			if err != nil {
				rc.Close()
				return nil, err
			}
			if toSlash(hdr.Name) == name {
				return &rarEntryReader{rc: rc}, nil
			}
		}
	}
}

type rarEntryReader struct {
	rc *rardecode.ReadCloser
}

func (r *rarEntryReader) Read(p []byte) (int, error) { return r.rc.Read(p) }
func (r *rarEntryReader) Close() error               { return r.rc.Close() }

func (r *rarReader) Close() error { return nil }
