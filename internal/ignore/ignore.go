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

// Package ignore decides whether a path is excluded from a scan. Rules are
// loaded once from a flat text file and the matcher is otherwise a pure
// function of its inputs: no I/O, no mutable state.
package ignore

import (
	"bufio"
	"io"
	"strings"
)

// rule is one parsed line of an ignore file.
type rule struct {
	raw      string
	isSubstr bool // contains "/": matched as a substring of the path
}

// Matcher decides whether a path should be excluded from a scan.
//
// Two rule kinds, per line of the loaded file:
//   - a rule without "/" is a name rule: matches a directory whose basename
//     equals the rule exactly.
//   - a rule containing "/" is a substring rule: matches any path whose
//     string form contains the rule.
//
// Independent of loaded rules, a directory whose basename starts with "."
// or "_" is always excluded.
type Matcher struct {
	rules []rule
}

// New builds a Matcher from already-parsed rule strings, skipping blank
// lines and comments. Used directly by tests; Load is the file-backed entry
// point used by the coordinator.
func New(lines []string) *Matcher {
	m := &Matcher{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m.rules = append(m.rules, rule{
			raw:      line,
			isSubstr: strings.Contains(line, "/"),
		})
	}
	return m
}

// Load reads an ignore file and builds a Matcher from it. An empty Matcher
// (which excludes nothing beyond the unconditional dot/underscore rule) is
// returned when r is nil, matching the "disabled" state of spec §6.
func Load(r io.Reader) (*Matcher, error) {
	if r == nil {
		return New(nil), nil
	}
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return New(lines), nil
}

// Excluded reports whether path should be skipped by the walker.
//
// path is evaluated in whatever form the caller has it in (absolute or
// relative); substring rules match against that exact string, so callers
// should be consistent about which form they pass across a single scan.
func (m *Matcher) Excluded(path string, isDir bool) bool {
	if isDir && hasDotOrUnderscorePrefix(path) {
		return true
	}
	if m == nil {
		return false
	}
	for _, r := range m.rules {
		if r.isSubstr {
			if strings.Contains(path, r.raw) {
				return true
			}
			continue
		}
		if isDir && basename(path) == r.raw {
			return true
		}
	}
	return false
}

// basename returns the final path component without relying on the host
// path separator, since callers may pass either OS or virtual archive paths.
func basename(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func hasDotOrUnderscorePrefix(path string) bool {
	b := basename(path)
	return strings.HasPrefix(b, ".") || strings.HasPrefix(b, "_")
}
