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

// Package rebuild implements the build stage: it compiles the binding from
// source with the runtime's rebuild toolchain and copies the result into
// the output directory.
package rebuild

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kraklabs/nativebind/internal/errors"
	"github.com/kraklabs/nativebind/pkg/artifact"
)

// Defaults for better-sqlite3 built with electron-rebuild.
var DefaultCommand = []string{"npx", "--no-install", "electron-rebuild"}

const (
	DefaultProducedPath = "node_modules/{{module}}/build/Release/better_sqlite3.node"
	DefaultArtifact     = "better_sqlite3-{{arch}}.node"
)

// Stage names reported in StageError.Stage.
const (
	StageBuild = "build"
	StageCopy  = "copy"
)

// Config is the toolchain configuration for one target. It is a value type;
// NewConfig copies the module list so callers cannot change it afterwards.
type Config struct {
	ProjectRoot    string
	BuildPath      string
	RuntimeVersion string
	Arch           string
	OnlyModules    []string
	Force          bool
}

// NewConfig returns a Config owning its own copy of modules.
func NewConfig(projectRoot, buildPath, runtimeVersion, arch string, modules []string, force bool) Config {
	return Config{
		ProjectRoot:    projectRoot,
		BuildPath:      buildPath,
		RuntimeVersion: runtimeVersion,
		Arch:           arch,
		OnlyModules:    append([]string(nil), modules...),
		Force:          force,
	}
}

// Args renders the toolchain arguments.
func (c Config) Args() []string {
	args := []string{
		"--version", c.RuntimeVersion,
		"--arch", c.Arch,
		"--module-dir", c.ProjectRoot,
	}
	if len(c.OnlyModules) > 0 {
		args = append(args, "--only", strings.Join(c.OnlyModules, ","))
	}
	if c.Force {
		args = append(args, "--force")
	}
	return args
}

// Runner executes an external command in dir.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ExecRunner runs commands with os/exec, streaming their output.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

// Builder runs the build stage.
type Builder struct {
	// Command is the toolchain executable followed by fixed arguments.
	Command []string

	// ProducedPath is where the toolchain leaves the binary, relative to
	// the project root. It is expanded with artifact.Expand.
	ProducedPath string

	// OutputDir receives the copied binary.
	OutputDir string

	// ArtifactName is the output file name template.
	ArtifactName string

	Runner Runner
	logger *slog.Logger
}

// New creates a Builder writing into outputDir. A nil logger uses
// slog.Default().
func New(outputDir string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		Command:      append([]string(nil), DefaultCommand...),
		ProducedPath: DefaultProducedPath,
		OutputDir:    outputDir,
		ArtifactName: DefaultArtifact,
		Runner:       ExecRunner{Stdout: os.Stderr, Stderr: os.Stderr},
		logger:       logger,
	}
}

// Build runs the toolchain once for cfg and copies the produced binary.
// It returns the path of the copy.
func (b *Builder) Build(ctx context.Context, cfg Config, vars artifact.Vars) (string, error) {
	label := vars.OS + "-" + cfg.Arch
	if len(b.Command) == 0 {
		return "", errors.NewStageError(errors.KindToolchain, StageBuild, label, fmt.Errorf("no rebuild command configured"))
	}

	args := append(append([]string(nil), b.Command[1:]...), cfg.Args()...)
	b.logger.Info("rebuild.start",
		"target", label,
		"runtime", cfg.RuntimeVersion,
		"modules", strings.Join(cfg.OnlyModules, ","),
		"command", b.Command[0],
	)
	if err := b.Runner.Run(ctx, cfg.BuildPath, b.Command[0], args...); err != nil {
		return "", errors.NewStageError(errors.KindToolchain, StageBuild, label, err)
	}

	src := filepath.Join(cfg.ProjectRoot, filepath.FromSlash(artifact.Expand(b.ProducedPath, vars)))
	dst := filepath.Join(b.OutputDir, artifact.Expand(b.ArtifactName, vars))
	b.logger.Debug("rebuild.copy", "from", src, "to", dst)
	if err := artifact.Copy(src, dst); err != nil {
		return "", errors.NewStageError(errors.KindFilesystem, StageCopy, label, err)
	}
	return dst, nil
}
