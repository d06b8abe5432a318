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

// Package fetch implements the download stage: it pulls a precompiled
// binding archive from the artifact host, unpacks it in a scratch
// directory, and copies the binding into the output directory.
//
// Every failure is returned as an *errors.StageError so the caller can fall
// back to building from source. Downloads are not verified against any
// checksum or signature.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kraklabs/nativebind/internal/errors"
	"github.com/kraklabs/nativebind/pkg/artifact"
)

// Defaults for the better-sqlite3 release layout.
const (
	DefaultURLTemplate = "https://github.com/JoshuaWise/better-sqlite3/releases/download/v{{binding}}/better-sqlite3-v{{binding}}-electron-v{{abi}}-{{os}}-{{arch}}.tar.gz"
	DefaultInnerPath   = "build/Release/better_sqlite3.node"
	DefaultArtifact    = "better_sqlite3_{{os}}_{{arch}}.node"
)

// Stage names reported in StageError.Stage.
const (
	StageDownload = "download"
	StageExtract  = "extract"
	StageCopy     = "copy"
	StageCleanup  = "cleanup"
)

// ProgressFunc returns a writer that observes the downloaded bytes, or nil
// for no progress output. total is -1 when the server sends no length. The
// writer is closed once the body has been read, successfully or not.
type ProgressFunc func(total int64, description string) io.WriteCloser

// Config describes where archives come from and where their contents go.
type Config struct {
	// URLTemplate is expanded with artifact.Expand.
	URLTemplate string

	// TmpDir holds the downloaded archive and its extracted tree.
	TmpDir string

	// OutputDir receives the binding.
	OutputDir string

	// InnerPath locates the binding inside the archive, slash separated.
	InnerPath string

	// ArtifactName is the output file name template.
	ArtifactName string
}

func (c Config) withDefaults() Config {
	if c.URLTemplate == "" {
		c.URLTemplate = DefaultURLTemplate
	}
	if c.InnerPath == "" {
		c.InnerPath = DefaultInnerPath
	}
	if c.ArtifactName == "" {
		c.ArtifactName = DefaultArtifact
	}
	return c
}

// Fetcher runs the download stage.
type Fetcher struct {
	cfg        Config
	HTTPClient *http.Client
	Progress   ProgressFunc
	logger     *slog.Logger
}

// New creates a Fetcher. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		cfg:        cfg.withDefaults(),
		HTTPClient: &http.Client{},
		logger:     logger,
	}
}

// URL returns the archive URL for vars.
func (f *Fetcher) URL(vars artifact.Vars) string {
	return artifact.Expand(f.cfg.URLTemplate, vars)
}

// Fetch downloads, extracts, copies and cleans up, in that order, and
// returns the path of the binding in the output directory.
func (f *Fetcher) Fetch(ctx context.Context, vars artifact.Vars) (string, error) {
	label := vars.OS + "-" + vars.Arch
	url := f.URL(vars)
	archive := filepath.Join(f.cfg.TmpDir, path.Base(url))

	if err := os.MkdirAll(f.cfg.TmpDir, 0o755); err != nil {
		return "", errors.NewStageError(errors.KindFilesystem, StageDownload, label, err)
	}

	f.logger.Info("fetch.download.start", "target", label, "url", url)
	if err := f.download(ctx, url, archive, label); err != nil {
		return "", err
	}

	tree := filepath.Join(f.cfg.TmpDir, topLevel(f.cfg.InnerPath))
	if err := os.RemoveAll(tree); err != nil {
		return "", errors.NewStageError(errors.KindFilesystem, StageExtract, label, err)
	}

	f.logger.Debug("fetch.extract.start", "target", label, "archive", archive)
	if err := ExtractTarGz(archive, f.cfg.TmpDir); err != nil {
		return "", errors.NewStageError(errors.KindExtraction, StageExtract, label, err)
	}

	src := filepath.Join(f.cfg.TmpDir, filepath.FromSlash(f.cfg.InnerPath))
	dst := filepath.Join(f.cfg.OutputDir, artifact.Expand(f.cfg.ArtifactName, vars))
	if err := artifact.Copy(src, dst); err != nil {
		return "", errors.NewStageError(errors.KindFilesystem, StageCopy, label, err)
	}

	if err := os.RemoveAll(tree); err != nil {
		return "", errors.NewStageError(errors.KindFilesystem, StageCleanup, label, err)
	}

	f.logger.Info("fetch.done", "target", label, "artifact", dst)
	return dst, nil
}

func (f *Fetcher) download(ctx context.Context, url, dest, label string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.NewStageError(errors.KindNetwork, StageDownload, label, err)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return errors.NewStageError(errors.KindNetwork, StageDownload, label, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewStageError(errors.KindNetwork, StageDownload, label,
			fmt.Errorf("HTTP %d from %s", resp.StatusCode, url))
	}

	out, err := os.Create(dest)
	if err != nil {
		return errors.NewStageError(errors.KindFilesystem, StageDownload, label, err)
	}

	var w io.Writer = out
	if f.Progress != nil {
		if p := f.Progress(resp.ContentLength, "downloading "+label); p != nil {
			defer func() { _ = p.Close() }()
			w = io.MultiWriter(out, p)
		}
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		_ = out.Close()
		return errors.NewStageError(errors.KindNetwork, StageDownload, label, err)
	}
	if err := out.Close(); err != nil {
		return errors.NewStageError(errors.KindFilesystem, StageDownload, label, err)
	}
	return nil
}

// topLevel returns the first element of a slash-separated path.
func topLevel(p string) string {
	p = strings.TrimPrefix(path.Clean(p), "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}
