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

package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePackage = `{
  // desktop shell
  "name": "notes-app",
  "dependencies": {
    "better-sqlite3": "^9.2.2",
  },
  "devDependencies": {
    "electron": "^28.1.0",
    "vite": "^5.0.0"
  }
}`

func TestParseAndPins(t *testing.T) {
	pkg, err := Parse([]byte(samplePackage))
	require.NoError(t, err)
	assert.Equal(t, "notes-app", pkg.Name)

	pins, err := pkg.Pins("electron", "better-sqlite3")
	require.NoError(t, err)
	assert.Equal(t, Pins{Runtime: "28.1.0", Binding: "9.2.2"}, pins)
}

func TestPins_Missing(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{
			name:    "no runtime",
			json:    `{"dependencies": {"better-sqlite3": "9.2.2"}}`,
			wantErr: "does not declare electron",
		},
		{
			name:    "no binding",
			json:    `{"devDependencies": {"electron": "28.1.0"}}`,
			wantErr: "does not declare better-sqlite3",
		},
		{
			name:    "empty spec",
			json:    `{"devDependencies": {"electron": "^"}, "dependencies": {"better-sqlite3": "9.2.2"}}`,
			wantErr: "does not declare electron",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := Parse([]byte(tt.json))
			require.NoError(t, err)
			_, err = pkg.Pins("electron", "better-sqlite3")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPins_FallbackMaps(t *testing.T) {
	pkg, err := Parse([]byte(`{"dependencies": {"electron": "28.0.0", "better-sqlite3": "9.0.0"}}`))
	require.NoError(t, err)

	pins, err := pkg.Pins("electron", "better-sqlite3")
	require.NoError(t, err)
	assert.Equal(t, "28.0.0", pins.Runtime)
}

func TestStripRange(t *testing.T) {
	tests := map[string]string{
		"^28.1.0": "28.1.0",
		"~9.2.2":  "9.2.2",
		">=1.0.0": "1.0.0",
		" 2.0.0 ": "2.0.0",
		"28.1.0":  "28.1.0",
		"^^1.2.3": "1.2.3",
		"v1.0.0":  "1.0.0",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripRange(in), "StripRange(%q)", in)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(samplePackage), 0o644))

	pkg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "^28.1.0", pkg.DevDependencies["electron"])

	_, err = Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading")
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`{"name": `))
	require.Error(t, err)
}
