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
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package envfile writes the KEY=value record that tells the application
// bundler where each built binding lives.
package envfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPrefix is prepended to the architecture to form a record key.
const DefaultPrefix = "VITE_BETTER_SQLITE3_BINDING_"

// Record is one assignment line.
type Record struct {
	Key   string
	Value string
}

func (r Record) String() string {
	return r.Key + "=" + r.Value
}

// Key builds the architecture-qualified variable name, e.g.
// VITE_BETTER_SQLITE3_BINDING_x64. The architecture keeps its case.
func Key(prefix, arch string) string {
	return prefix + arch
}

// RelativePath returns target relative to root using forward slashes, so
// the value is identical on every host. target must live under root.
func RelativePath(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", target, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", target, root)
	}
	return filepath.ToSlash(rel), nil
}

// Write replaces path with one line per record. Earlier content is never
// merged.
func Write(path string, records []Record) error {
	var b strings.Builder
	for _, r := range records {
		b.WriteString(r.String())
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
