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

// Package manifest reads the version pins nativebind needs from a
// project's package.json.
//
// The runtime version comes from devDependencies.electron and the binding
// version from dependencies["better-sqlite3"]. Range prefixes such as "^" and
// "~" are stripped so the pins can be substituted into URLs and toolchain
// arguments. Comments and trailing commas are tolerated.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// FileName is the manifest file looked up in the project root.
const FileName = "package.json"

// Package is the subset of package.json nativebind reads.
type Package struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Pins holds the resolved runtime and binding versions.
type Pins struct {
	Runtime string
	Binding string
}

// Parse decodes package.json bytes.
func Parse(data []byte) (*Package, error) {
	var pkg Package
	if err := json.Unmarshal(jsonc.ToJSON(data), &pkg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	return &pkg, nil
}

// Load reads and parses <projectDir>/package.json.
func Load(projectDir string) (*Package, error) {
	path := filepath.Join(projectDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data)
}

// Pins extracts the runtime pin from devDependencies[runtimeModule] and the
// binding pin from dependencies[bindingModule]. Either falls back to the
// other dependency map when absent from its usual one.
func (p *Package) Pins(runtimeModule, bindingModule string) (Pins, error) {
	runtime := lookup(runtimeModule, p.DevDependencies, p.Dependencies)
	if runtime == "" {
		return Pins{}, fmt.Errorf("%s does not declare %s in devDependencies", FileName, runtimeModule)
	}
	binding := lookup(bindingModule, p.Dependencies, p.DevDependencies)
	if binding == "" {
		return Pins{}, fmt.Errorf("%s does not declare %s in dependencies", FileName, bindingModule)
	}
	return Pins{Runtime: runtime, Binding: binding}, nil
}

func lookup(name string, maps ...map[string]string) string {
	for _, m := range maps {
		if v, ok := m[name]; ok {
			if s := StripRange(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// StripRange removes semver range operators from a dependency spec:
// "^28.1.0" -> "28.1.0", "~9.2.2" -> "9.2.2", ">=1.0.0" -> "1.0.0".
func StripRange(spec string) string {
	s := strings.TrimSpace(spec)
	s = strings.ReplaceAll(s, "^", "")
	s = strings.TrimLeft(s, "~>=<v ")
	return s
}
