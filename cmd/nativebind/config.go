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
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/nativebind/pkg/abi"
	"github.com/kraklabs/nativebind/pkg/envfile"
	"github.com/kraklabs/nativebind/pkg/fetch"
	"github.com/kraklabs/nativebind/pkg/rebuild"
)

// ConfigFileName is looked up in the project directory when --config is
// not given. Its absence is not an error.
const ConfigFileName = ".nativebind.yaml"

// Config is the optional .nativebind.yaml file. Relative paths are
// resolved against the project directory.
type Config struct {
	OutputDir string `yaml:"output_dir"`
	TmpDir    string `yaml:"tmp_dir"`
	EnvFile   string `yaml:"env_file"`
	EnvPrefix string `yaml:"env_prefix"`

	// Module is the binding's package name; RuntimeModule the host runtime's.
	Module        string `yaml:"module"`
	RuntimeModule string `yaml:"runtime_module"`

	ReleasesURL     string        `yaml:"releases_url"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	UserAgent       string        `yaml:"user_agent"`

	DownloadURL      string `yaml:"download_url"`
	InnerPath        string `yaml:"inner_path"`
	DownloadArtifact string `yaml:"download_artifact"`

	RebuildCommand []string `yaml:"rebuild_command"`
	ProducedPath   string   `yaml:"produced_path"`
	BuildArtifact  string   `yaml:"build_artifact"`
	Force          bool     `yaml:"force"`
}

// DefaultConfig returns the better-sqlite3 + Electron layout.
func DefaultConfig() Config {
	return Config{
		OutputDir:        "dist-native",
		TmpDir:           filepath.Join("tmp", "better-sqlite3"),
		EnvFile:          ".env",
		EnvPrefix:        envfile.DefaultPrefix,
		Module:           "better-sqlite3",
		RuntimeModule:    "electron",
		ReleasesURL:      abi.DefaultReleasesURL,
		MetadataTimeout:  abi.DefaultTimeout,
		UserAgent:        "nativebind/" + version,
		DownloadURL:      fetch.DefaultURLTemplate,
		InnerPath:        fetch.DefaultInnerPath,
		DownloadArtifact: fetch.DefaultArtifact,
		RebuildCommand:   append([]string(nil), rebuild.DefaultCommand...),
		ProducedPath:     rebuild.DefaultProducedPath,
		BuildArtifact:    rebuild.DefaultArtifact,
		Force:            true,
	}
}

// LoadConfig reads path over DefaultConfig. When required is false a
// missing file yields the defaults.
func LoadConfig(path string, required bool) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !required && stderrors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings no run could succeed with.
func (c Config) Validate() error {
	switch {
	case c.OutputDir == "":
		return fmt.Errorf("output_dir must not be empty")
	case c.EnvFile == "":
		return fmt.Errorf("env_file must not be empty")
	case c.Module == "":
		return fmt.Errorf("module must not be empty")
	case c.ReleasesURL == "":
		return fmt.Errorf("releases_url must not be empty")
	case c.MetadataTimeout < 0:
		return fmt.Errorf("metadata_timeout must not be negative")
	}
	return nil
}

// Abs resolves p against root unless it is already absolute.
func Abs(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
