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

// Package artifact holds the helpers shared by the download and build
// stages: placeholder expansion for URLs and file names, copying a binary
// into the output directory, and content digests for the run report.
//
// Placeholders are written {{name}}:
//
//	{{binding}}  binding library version, e.g. 9.2.2
//	{{abi}}      native-module ABI version, e.g. 119
//	{{runtime}}  host runtime version, e.g. 28.1.0
//	{{os}}       target platform, e.g. linux
//	{{arch}}     target architecture, e.g. x64
//	{{module}}   binding module name, e.g. better-sqlite3
package artifact

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// Vars are the values substituted into templates.
type Vars struct {
	Binding string
	ABI     string
	Runtime string
	OS      string
	Arch    string
	Module  string
}

// Expand substitutes every known placeholder in tmpl. Unknown placeholders
// are left as they are.
func Expand(tmpl string, v Vars) string {
	return strings.NewReplacer(
		"{{binding}}", v.Binding,
		"{{abi}}", v.ABI,
		"{{runtime}}", v.Runtime,
		"{{os}}", v.OS,
		"{{arch}}", v.Arch,
		"{{module}}", v.Module,
	).Replace(tmpl)
}

// Copy copies src to dst, creating dst's directory and replacing any
// existing file. The copy is executable so the runtime can dlopen it.
func Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

// Digest returns the hex BLAKE3-256 digest of the file at path. It is
// reported for diagnostics only; nothing compares it against a reference.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
