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

// Package hashx computes the (size, md5, sha1, sha256) identity spec §4.2
// requires from a single pass over a byte stream.
package hashx

import (
	"crypto/md5"  //nolint:gosec // required digest, not used for security
	"crypto/sha1" //nolint:gosec // required digest, not used for security
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// bufSize is the read buffer used while draining the stream. Tunable but not
// observable to callers, per spec §4.2.
const bufSize = 256 * 1024

// ErrSizeMismatch is returned when the caller supplied an expected size and
// the observed byte count differs.
var ErrSizeMismatch = errors.New("hashx: size mismatch")

// Digest is the normalized content identity of spec §3.
type Digest struct {
	Size   int64
	MD5    string
	SHA1   string
	SHA256 string
}

// Sum reads r to completion and returns its digest. If expected is
// non-negative, the observed size is checked against it and ErrSizeMismatch
// is returned on a mismatch (the digest is still computed and returned
// alongside the error so callers can log it).
func Sum(r io.Reader, expected int64) (Digest, error) {
	md5h := md5.New()  //nolint:gosec
	sha1h := sha1.New() //nolint:gosec
	sha256h := sha256.New()

	w := io.MultiWriter(md5h, sha1h, sha256h)

	buf := make([]byte, bufSize)
	n, err := io.CopyBuffer(w, r, buf)
	if err != nil {
		return Digest{}, fmt.Errorf("hashx: read stream: %w", err)
	}

	d := Digest{
		Size:   n,
		MD5:    hex.EncodeToString(md5h.Sum(nil)),
		SHA1:   hex.EncodeToString(sha1h.Sum(nil)),
		SHA256: hex.EncodeToString(sha256h.Sum(nil)),
	}

	if expected >= 0 && n != expected {
		return d, fmt.Errorf("%w: expected %d, got %d", ErrSizeMismatch, expected, n)
	}
	return d, nil
}
