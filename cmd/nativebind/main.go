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

// Package main implements the nativebind CLI, which places a native
// better-sqlite3 binding built for the project's Electron ABI into
// dist-native/ and records its path in .env.
//
// Usage:
//
//	nativebind                    Provision the host architecture
//	nativebind --x64 --arm64      Provision x64, then arm64
//	SKIP_REBUILD=1 nativebind     Do nothing and exit 0
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/mattn/go-isatty"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/nativebind/internal/errors"
	"github.com/kraklabs/nativebind/internal/output"
	"github.com/kraklabs/nativebind/internal/ui"
	"github.com/kraklabs/nativebind/pkg/abi"
	"github.com/kraklabs/nativebind/pkg/fetch"
	"github.com/kraklabs/nativebind/pkg/manifest"
	"github.com/kraklabs/nativebind/pkg/provision"
	"github.com/kraklabs/nativebind/pkg/rebuild"
	"github.com/kraklabs/nativebind/pkg/target"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// SkipEnv disables the whole run when set to a true value.
const SkipEnv = "SKIP_REBUILD"

// GlobalFlags are the output flags shared by every code path.
type GlobalFlags struct {
	JSON    bool
	Quiet   bool
	NoColor bool
	Verbose int
}

type cliFlags struct {
	GlobalFlags
	Targets        target.Selection
	ConfigPath     string
	ProjectDir     string
	RuntimeVersion string
	BindingVersion string
	MetricsFile    string
	ShowVersion    bool
}

// toolchainRunner overrides the rebuild runner; tests set it.
var toolchainRunner rebuild.Runner

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("nativebind", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.BoolVar(&f.Targets.X64, "x64", false, "Provision the x64 binding")
	fs.BoolVar(&f.Targets.ARM64, "arm64", false, "Provision the arm64 binding")
	fs.BoolVar(&f.Targets.ARM, "arm", false, "Provision the arm binding")
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file (default: <project>/"+ConfigFileName+")")
	fs.StringVar(&f.ProjectDir, "project-dir", ".", "Project root containing package.json")
	fs.StringVar(&f.RuntimeVersion, "runtime-version", "", "Electron version (default: from package.json)")
	fs.StringVar(&f.BindingVersion, "binding-version", "", "better-sqlite3 version (default: from package.json)")
	fs.StringVar(&f.MetricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format to this path")
	fs.BoolVar(&f.JSON, "json", false, "Print the run report as JSON")
	fs.BoolVarP(&f.Quiet, "quiet", "q", false, "Suppress non-error output")
	fs.CountVarP(&f.Verbose, "verbose", "v", "Increase log verbosity")
	fs.BoolVar(&f.NoColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&f.ShowVersion, "version", false, "Show version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `nativebind - native binding provisioner

Places a better-sqlite3 binding compiled for the project's Electron ABI in
dist-native/, downloading a prebuilt archive or falling back to
electron-rebuild, and records the path in .env.

Usage:
  nativebind [options]

Options:
%s
Environment Variables:
  %s       Skip provisioning entirely when true (1, true, TRUE)
  NO_COLOR           Disable colored output

Examples:
  nativebind                 Provision the host architecture
  nativebind --x64 --arm64   Provision both, x64 first
  nativebind --json          Print the run report as JSON
`, fs.FlagUsages(), SkipEnv)
	}

	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if f.JSON {
		f.Quiet = true
	}
	return f, nil
}

// skipRequested reports whether SkipEnv holds a true value.
func skipRequested(getenv func(string) string) bool {
	skip, err := strconv.ParseBool(getenv(SkipEnv))
	return err == nil && skip
}

func newLogger(w io.Writer, globals GlobalFlags) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case globals.Quiet:
		level = slog.LevelWarn
	case globals.Verbose > 0:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// execute runs one provisioning pass. It returns a nil report when the run
// was skipped. Only fatal failures are returned as errors.
func execute(ctx context.Context, f cliFlags, getenv func(string) string, host target.Target, logger *slog.Logger) (*provision.Report, error) {
	if skipRequested(getenv) {
		ui.Infof("%s is set, skipping native binding provisioning", SkipEnv)
		return nil, nil
	}

	root, err := filepath.Abs(f.ProjectDir)
	if err != nil {
		return nil, errors.NewInputError(
			"Invalid project directory",
			err.Error(),
			"Pass an existing directory with --project-dir",
		)
	}

	configPath, required := filepath.Join(root, ConfigFileName), false
	if f.ConfigPath != "" {
		configPath, required = f.ConfigPath, true
	}
	cfg, err := LoadConfig(configPath, required)
	if err != nil {
		return nil, errors.NewConfigError(
			"Cannot load configuration",
			err.Error(),
			"Fix or remove "+configPath,
			err,
		)
	}

	pins, err := resolvePins(root, cfg, f)
	if err != nil {
		return nil, err
	}

	outDir := Abs(root, cfg.OutputDir)
	ui.KeyValue("projectDir", root)
	ui.KeyValue("binDir", outDir)

	resolver := abi.NewResolver(cfg.ReleasesURL, cfg.MetadataTimeout)
	if cfg.UserAgent != "" {
		resolver.UserAgent = cfg.UserAgent
	}

	fetcher := fetch.New(fetch.Config{
		URLTemplate:  cfg.DownloadURL,
		TmpDir:       Abs(root, cfg.TmpDir),
		OutputDir:    outDir,
		InnerPath:    cfg.InnerPath,
		ArtifactName: cfg.DownloadArtifact,
	}, logger)
	fetcher.Progress = NewProgressConfig(f.GlobalFlags).DownloadProgress()

	builder := rebuild.New(outDir, logger)
	builder.Command = cfg.RebuildCommand
	builder.ProducedPath = cfg.ProducedPath
	builder.ArtifactName = cfg.BuildArtifact
	if toolchainRunner != nil {
		builder.Runner = toolchainRunner
	}

	prov := provision.New(provision.Options{
		ProjectRoot: root,
		OutputDir:   outDir,
		EnvFile:     Abs(root, cfg.EnvFile),
		EnvPrefix:   cfg.EnvPrefix,
		Module:      cfg.Module,
		Force:       cfg.Force,
	}, resolver, fetcher, builder, logger)

	report, err := prov.Run(ctx, pins, f.Targets.Resolve(host))

	if f.MetricsFile != "" {
		if werr := prov.Metrics().WriteTextfile(Abs(root, f.MetricsFile)); werr != nil {
			logger.Warn("metrics.write.failed", "path", f.MetricsFile, "err", werr)
		}
	}
	return report, err
}

// resolvePins takes each version from its flag when given and from
// package.json otherwise.
func resolvePins(root string, cfg Config, f cliFlags) (manifest.Pins, error) {
	pins := manifest.Pins{
		Runtime: manifest.StripRange(f.RuntimeVersion),
		Binding: manifest.StripRange(f.BindingVersion),
	}
	if pins.Runtime != "" && pins.Binding != "" {
		return pins, nil
	}

	fix := "Run nativebind from the project root or pass --project-dir"
	pkg, err := manifest.Load(root)
	if err != nil {
		return pins, errors.NewConfigError("Cannot read package.json", err.Error(), fix, err)
	}
	declared, err := pkg.Pins(cfg.RuntimeModule, cfg.Module)
	if err != nil {
		return pins, errors.NewConfigError(
			"Cannot determine versions",
			err.Error(),
			"Add the dependency to package.json or pass --runtime-version and --binding-version",
			err,
		)
	}
	if pins.Runtime == "" {
		pins.Runtime = declared.Runtime
	}
	if pins.Binding == "" {
		pins.Binding = declared.Binding
	}
	return pins, nil
}

func printReport(w io.Writer, report *provision.Report, jsonOutput bool) error {
	if jsonOutput {
		return output.JSONTo(w, report)
	}

	ui.Header("nativebind")
	ui.Infof("electron %s, abi %s, better-sqlite3 %s",
		report.Versions.Runtime, report.Versions.ABI, report.Versions.Binding)
	for _, o := range report.Outcomes {
		switch o.Status {
		case provision.StatusDownloaded:
			ui.Successf("%s downloaded %s", o.Target, ui.DimText(o.Artifact))
		case provision.StatusBuilt:
			ui.Successf("%s built %s", o.Target, ui.DimText(o.Artifact))
		default:
			ui.Errorf("%s failed at %s (%s): %s", o.Target, o.Stage, o.Kind, o.Error)
		}
	}
	if n := report.Count(provision.StatusFailed); n > 0 {
		ui.Warningf("%d of %d targets failed; see the log above", n, len(report.Outcomes))
		return nil
	}
	ui.Success("native bindings ready")
	return nil
}

func main() {
	f, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			os.Exit(errors.ExitSuccess)
		}
		errors.FatalError(errors.NewInputError("Invalid arguments", err.Error(), "Run nativebind --help"), false)
	}

	if f.ShowVersion {
		fmt.Printf("nativebind version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(errors.ExitSuccess)
	}

	ui.InitColors(f.NoColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()))
	ui.SetQuiet(f.Quiet)
	logger := newLogger(os.Stderr, f.GlobalFlags)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	report, err := execute(ctx, f, os.Getenv, target.Host(), logger)
	stop()
	if err != nil {
		errors.FatalError(err, f.JSON)
	}

	if report != nil {
		if err := printReport(os.Stdout, report, f.JSON); err != nil {
			errors.FatalError(errors.NewInternalError("Cannot print report", err.Error(), "", err), false)
		}
	}
}
