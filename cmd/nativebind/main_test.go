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

package main

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/nativebind/internal/errors"
	"github.com/kraklabs/nativebind/internal/ui"
	"github.com/kraklabs/nativebind/pkg/provision"
	"github.com/kraklabs/nativebind/pkg/target"
)

var linuxX64 = target.Target{OS: "linux", Arch: target.X64}

const releasesJSON = `[
  {"version": "28.1.0", "modules": "119"},
  {"version": "27.0.0", "modules": "118"}
]`

const packageJSON = `{
  // comments are tolerated
  "name": "app",
  "dependencies": {"better-sqlite3": "^9.2.2"},
  "devDependencies": {"electron": "^28.1.0"},
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quietUI(t *testing.T) {
	t.Helper()
	ui.SetQuiet(true)
	t.Cleanup(func() { ui.SetQuiet(false) })
}

func noEnv(string) string { return "" }

func archive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	content := []byte("\x7fELF binding")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "build/", Mode: 0o755, Typeflag: tar.TypeDir}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "build/Release/", Mode: 0o755, Typeflag: tar.TypeDir}))
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "build/Release/better_sqlite3.node", Mode: 0o755, Size: int64(len(content)), Typeflag: tar.TypeReg,
	}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// project is a temporary app directory wired to a fake release index and
// download host.
type project struct {
	root      string
	downloads []string
	archives  bool
}

func newProject(t *testing.T, archives bool) *project {
	t.Helper()
	p := &project{root: t.TempDir(), archives: archives}
	body := archive(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/releases.json" {
			_, _ = io.WriteString(w, releasesJSON)
			return
		}
		p.downloads = append(p.downloads, r.URL.Path)
		if !p.archives {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	cfg := fmt.Sprintf(`releases_url: %s/releases.json
download_url: %s/v{{binding}}/better-sqlite3-v{{binding}}-electron-v{{abi}}-{{os}}-{{arch}}.tar.gz
metadata_timeout: 5s
`, server.URL, server.URL)
	require.NoError(t, os.WriteFile(filepath.Join(p.root, ConfigFileName), []byte(cfg), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(p.root, "package.json"), []byte(packageJSON), 0o644))
	return p
}

func (p *project) flags() cliFlags {
	return cliFlags{ProjectDir: p.root}
}

// fakeToolchain leaves a binary where electron-rebuild would.
type fakeToolchain struct {
	root  string
	calls [][]string
	fail  bool
}

func (f *fakeToolchain) Run(_ context.Context, dir, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{dir, name}, args...))
	if f.fail {
		return fmt.Errorf("exit status 1")
	}
	out := filepath.Join(f.root, "node_modules", "better-sqlite3", "build", "Release")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(out, "better_sqlite3.node"), []byte("built"), 0o755)
}

func useToolchain(t *testing.T, tc *fakeToolchain) {
	t.Helper()
	toolchainRunner = tc
	t.Cleanup(func() { toolchainRunner = nil })
}

func TestSkipRequested(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{"0", false},
		{"false", false},
		{"yes", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			getenv := func(key string) string {
				if key == SkipEnv {
					return tt.value
				}
				return ""
			}
			assert.Equal(t, tt.want, skipRequested(getenv))
		})
	}
}

func TestExecute_SkipTouchesNothing(t *testing.T) {
	quietUI(t)
	root := t.TempDir()

	report, err := execute(context.Background(), cliFlags{ProjectDir: root},
		func(string) string { return "1" }, linuxX64, discardLogger())
	require.NoError(t, err)
	assert.Nil(t, report)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, f cliFlags)
		wantErr bool
	}{
		{
			name: "defaults",
			args: nil,
			check: func(t *testing.T, f cliFlags) {
				assert.False(t, f.Targets.Any())
				assert.Equal(t, ".", f.ProjectDir)
				assert.False(t, f.Quiet)
			},
		},
		{
			name: "targets",
			args: []string{"--arm64", "--x64"},
			check: func(t *testing.T, f cliFlags) {
				assert.Equal(t, target.Selection{X64: true, ARM64: true}, f.Targets)
			},
		},
		{
			name: "json implies quiet",
			args: []string{"--json"},
			check: func(t *testing.T, f cliFlags) {
				assert.True(t, f.JSON)
				assert.True(t, f.Quiet)
			},
		},
		{
			name: "verbose counts",
			args: []string{"-vv", "--no-color", "--metrics-file", "m.prom"},
			check: func(t *testing.T, f cliFlags) {
				assert.Equal(t, 2, f.Verbose)
				assert.True(t, f.NoColor)
				assert.Equal(t, "m.prom", f.MetricsFile)
			},
		},
		{name: "unknown flag", args: []string{"--ia32"}, wantErr: true},
		{name: "positional argument", args: []string{"x64"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseFlags(tt.args, io.Discard)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, f)
		})
	}
}

func TestParseFlags_Help(t *testing.T) {
	var buf bytes.Buffer
	_, err := parseFlags([]string{"--help"}, &buf)
	require.Error(t, err)
	assert.Contains(t, buf.String(), SkipEnv)
	assert.Contains(t, buf.String(), "--arm64")
}

func TestExecute_HostOnlyDownload(t *testing.T) {
	quietUI(t)
	p := newProject(t, true)
	tc := &fakeToolchain{root: p.root}
	useToolchain(t, tc)

	report, err := execute(context.Background(), p.flags(), noEnv, linuxX64, discardLogger())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	out := report.Outcomes[0]
	assert.Equal(t, linuxX64, out.Target)
	assert.Equal(t, provision.StatusDownloaded, out.Status)
	assert.Equal(t, filepath.Join(p.root, "dist-native", "better_sqlite3_linux_x64.node"), out.Artifact)
	assert.Equal(t, provision.Versions{Runtime: "28.1.0", ABI: "119", Binding: "9.2.2"}, report.Versions)
	assert.Equal(t, []string{"/v9.2.2/better-sqlite3-v9.2.2-electron-v119-linux-x64.tar.gz"}, p.downloads)
	assert.Empty(t, tc.calls)

	_, err = os.Stat(filepath.Join(p.root, "tmp", "better-sqlite3", "build"))
	assert.True(t, os.IsNotExist(err), "extracted tree should be removed")
	_, err = os.Stat(filepath.Join(p.root, ".env"))
	assert.True(t, os.IsNotExist(err), "downloads do not write the env record")
}

func TestExecute_BuildFallbackInOrder(t *testing.T) {
	quietUI(t)
	p := newProject(t, false)
	tc := &fakeToolchain{root: p.root}
	useToolchain(t, tc)

	f := p.flags()
	f.Targets = target.Selection{X64: true, ARM64: true}
	report, err := execute(context.Background(), f, noEnv, linuxX64, discardLogger())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)

	for i, arch := range []string{target.X64, target.ARM64} {
		assert.Equal(t, arch, report.Outcomes[i].Target.Arch)
		assert.Equal(t, provision.StatusBuilt, report.Outcomes[i].Status)
		assert.NotEmpty(t, report.Outcomes[i].DownloadError)
	}

	require.Len(t, tc.calls, 2)
	assert.Equal(t, []string{
		p.root, "npx", "--no-install", "electron-rebuild",
		"--version", "28.1.0", "--arch", "x64", "--module-dir", p.root,
		"--only", "better-sqlite3", "--force",
	}, tc.calls[0])
	assert.Contains(t, tc.calls[1], "arm64")

	env, err := os.ReadFile(filepath.Join(p.root, ".env"))
	require.NoError(t, err)
	assert.Equal(t,
		"VITE_BETTER_SQLITE3_BINDING_x64=dist-native/better_sqlite3-x64.node\n"+
			"VITE_BETTER_SQLITE3_BINDING_arm64=dist-native/better_sqlite3-arm64.node\n",
		string(env))
}

func TestExecute_SoftFailuresExitClean(t *testing.T) {
	quietUI(t)
	p := newProject(t, false)
	useToolchain(t, &fakeToolchain{root: p.root, fail: true})

	metrics := filepath.Join(p.root, "nativebind.prom")
	f := p.flags()
	f.MetricsFile = metrics
	report, err := execute(context.Background(), f, noEnv, linuxX64, discardLogger())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, provision.StatusFailed, report.Outcomes[0].Status)
	assert.Equal(t, "toolchain", string(report.Outcomes[0].Kind))

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `nativebind_targets_total{status="failed"} 1`)
}

func TestExecute_FatalErrors(t *testing.T) {
	quietUI(t)

	t.Run("runtime not listed", func(t *testing.T) {
		p := newProject(t, true)
		f := p.flags()
		f.RuntimeVersion = "99.0.0"
		_, err := execute(context.Background(), f, noEnv, linuxX64, discardLogger())

		var ue *errors.UserError
		require.True(t, stderrors.As(err, &ue))
		assert.Equal(t, errors.ExitNotFound, ue.ExitCode)
		assert.Empty(t, p.downloads, "no target is attempted")
	})

	t.Run("missing package.json", func(t *testing.T) {
		_, err := execute(context.Background(), cliFlags{ProjectDir: t.TempDir()}, noEnv, linuxX64, discardLogger())

		var ue *errors.UserError
		require.True(t, stderrors.As(err, &ue))
		assert.Equal(t, errors.ExitConfig, ue.ExitCode)
	})

	t.Run("explicit config missing", func(t *testing.T) {
		p := newProject(t, true)
		f := p.flags()
		f.ConfigPath = filepath.Join(p.root, "absent.yaml")
		_, err := execute(context.Background(), f, noEnv, linuxX64, discardLogger())

		var ue *errors.UserError
		require.True(t, stderrors.As(err, &ue))
		assert.Equal(t, errors.ExitConfig, ue.ExitCode)
	})
}

func TestPrintReport_JSON(t *testing.T) {
	report := &provision.Report{
		Versions: provision.Versions{Runtime: "28.1.0", ABI: "119", Binding: "9.2.2"},
		Outcomes: []provision.Outcome{{Target: linuxX64, Status: provision.StatusDownloaded, Artifact: "a.node"}},
	}

	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, report, true))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "119", decoded["versions"].(map[string]any)["abi"])
	assert.True(t, strings.HasPrefix(buf.String(), "{\n  "))
}

// captureUI points ui output at a buffer with colors off.
func captureUI(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	ui.InitColors(true)
	ui.Out = &buf
	t.Cleanup(func() {
		ui.SetQuiet(false)
		ui.InitColors(false)
	})
	return &buf
}

func TestPrintReport_Human(t *testing.T) {
	versions := provision.Versions{Runtime: "28.1.0", ABI: "119", Binding: "9.2.2"}

	t.Run("all provisioned", func(t *testing.T) {
		buf := captureUI(t)
		report := &provision.Report{
			Versions: versions,
			Outcomes: []provision.Outcome{{Target: linuxX64, Status: provision.StatusDownloaded, Artifact: "a.node"}},
		}
		require.NoError(t, printReport(io.Discard, report, false))

		out := buf.String()
		assert.True(t, strings.HasPrefix(out, "nativebind\n==========\n"))
		assert.Contains(t, out, "electron 28.1.0, abi 119, better-sqlite3 9.2.2")
		assert.Contains(t, out, "✓ linux-x64 downloaded a.node")
		assert.Contains(t, out, "✓ native bindings ready")
	})

	t.Run("with failures", func(t *testing.T) {
		buf := captureUI(t)
		report := &provision.Report{
			Versions: versions,
			Outcomes: []provision.Outcome{{
				Target: linuxX64, Status: provision.StatusFailed,
				Stage: "build", Kind: errors.KindToolchain, Error: "exit status 1",
			}},
		}
		require.NoError(t, printReport(io.Discard, report, false))

		out := buf.String()
		assert.Contains(t, out, "✗ linux-x64 failed at build (toolchain): exit status 1")
		assert.Contains(t, out, "1 of 1 targets failed")
		assert.NotContains(t, out, "ready")
	})
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	assert.True(t, newLogger(io.Discard, GlobalFlags{Verbose: 1}).Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger(io.Discard, GlobalFlags{}).Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger(io.Discard, GlobalFlags{Quiet: true, Verbose: 2}).Enabled(ctx, slog.LevelInfo))
}
