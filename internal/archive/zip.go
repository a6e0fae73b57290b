// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"archive/zip"
	"fmt"
	"io"
)

type zipReader struct {
	rc *zip.ReadCloser
}

// OpenZip opens a ZIP archive for streaming entry reads.
func OpenZip(path string) (Reader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open zip %s: %w", path, err)
	}
	return &zipReader{rc: rc}, nil
}

func (z *zipReader) Entries() ([]Entry, error) {
	entries := make([]Entry, 0, len(z.rc.File))
	for _, f := range z.rc.File {
		if f.FileInfo().IsDir() || f.UncompressedSize64 == 0 {
			continue
		}
		f := f
		entries = append(entries, Entry{
			InternalPath: toSlash(f.Name),
			Size:         int64(f.UncompressedSize64),
			ModTime:      f.Modified,
			OpenStream: func() (io.ReadCloser, error) {
				return f.Open()
			},
		})
	}
	return entries, nil
}

func (z *zipReader) Close() error {
	return z.rc.Close()
}
