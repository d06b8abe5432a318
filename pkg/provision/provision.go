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

package provision

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kraklabs/nativebind/internal/errors"
	"github.com/kraklabs/nativebind/pkg/abi"
	"github.com/kraklabs/nativebind/pkg/artifact"
	"github.com/kraklabs/nativebind/pkg/envfile"
	"github.com/kraklabs/nativebind/pkg/manifest"
	"github.com/kraklabs/nativebind/pkg/rebuild"
	"github.com/kraklabs/nativebind/pkg/target"
)

// Status is the tag of a per-target Outcome.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusBuilt      Status = "built"
	StatusFailed     Status = "failed"
)

// StageRecord names the env record write in outcomes and metrics.
const StageRecord = "record"

// Resolver maps a runtime version to its ABI version.
type Resolver interface {
	Resolve(ctx context.Context, runtimeVersion string) (string, error)
}

// Downloader is the download stage.
type Downloader interface {
	Fetch(ctx context.Context, vars artifact.Vars) (string, error)
}

// Compiler is the build stage.
type Compiler interface {
	Build(ctx context.Context, cfg rebuild.Config, vars artifact.Vars) (string, error)
}

// Versions is the version triple of a run.
type Versions struct {
	Runtime string `json:"runtime"`
	ABI     string `json:"abi"`
	Binding string `json:"binding"`
}

// Outcome is the result of provisioning one target.
type Outcome struct {
	Target   target.Target `json:"target"`
	Status   Status        `json:"status"`
	Artifact string        `json:"artifact,omitempty"`
	Record   string        `json:"record,omitempty"`
	Digest   string        `json:"digest,omitempty"`

	// Set when Status is StatusFailed.
	Kind  errors.Kind `json:"kind,omitempty"`
	Stage string      `json:"stage,omitempty"`
	Error string      `json:"error,omitempty"`

	// Why the download stage was skipped over, when it was.
	DownloadError string `json:"download_error,omitempty"`

	Duration time.Duration `json:"duration_ns"`
}

// Report summarizes a run.
type Report struct {
	Versions Versions  `json:"versions"`
	EnvFile  string    `json:"env_file"`
	Outcomes []Outcome `json:"outcomes"`
}

// Count returns the number of outcomes with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Options configure a Provisioner.
type Options struct {
	// ProjectRoot is the project directory; env record values are relative to it.
	ProjectRoot string

	// BuildPath is the working directory of the rebuild toolchain.
	// Defaults to ProjectRoot.
	BuildPath string

	// OutputDir receives artifacts. It is created at the start of a run.
	OutputDir string

	// EnvFile is the env record path.
	EnvFile string

	// EnvPrefix prefixes the architecture in record keys.
	EnvPrefix string

	// Module is the one native module the toolchain is restricted to.
	Module string

	// Force makes the toolchain rebuild even when it thinks the module is current.
	Force bool
}

// Provisioner runs the pipeline.
type Provisioner struct {
	opts     Options
	resolver Resolver
	fetcher  Downloader
	builder  Compiler
	metrics  *Metrics
	logger   *slog.Logger
}

// New creates a Provisioner. A nil logger uses slog.Default().
func New(opts Options, resolver Resolver, fetcher Downloader, builder Compiler, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BuildPath == "" {
		opts.BuildPath = opts.ProjectRoot
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = envfile.DefaultPrefix
	}
	if opts.Module == "" {
		opts.Module = "better-sqlite3"
	}
	return &Provisioner{
		opts:     opts,
		resolver: resolver,
		fetcher:  fetcher,
		builder:  builder,
		metrics:  NewMetrics(),
		logger:   logger,
	}
}

// Metrics returns the run's collectors.
func (p *Provisioner) Metrics() *Metrics {
	return p.metrics
}

// ResolveVersions completes pins with the ABI version. Failures are fatal
// *errors.UserError values.
func (p *Provisioner) ResolveVersions(ctx context.Context, pins manifest.Pins) (Versions, error) {
	p.logger.Info("provision.abi.resolve.start", "runtime", pins.Runtime)

	moduleVersion, err := p.resolver.Resolve(ctx, pins.Runtime)
	if err != nil {
		p.logger.Error("provision.abi.resolve.failed", "runtime", pins.Runtime, "err", err)
		if stderrors.Is(err, abi.ErrNotListed) {
			p.metrics.recordResolution("not_listed")
			return Versions{}, errors.NewNotFoundError(
				"Cannot find Electron module version",
				fmt.Sprintf("Electron %s is not listed in the release index", pins.Runtime),
				"Check devDependencies.electron in package.json or pass --runtime-version",
			)
		}
		p.metrics.recordResolution("unavailable")
		return Versions{}, errors.NewNetworkError(
			"Cannot get Electron releases",
			"The release index could not be fetched or decoded",
			"Check your network connection, or set releases_url in .nativebind.yaml",
			err,
		)
	}

	p.metrics.recordResolution("ok")
	p.logger.Info("provision.abi.resolve.done", "runtime", pins.Runtime, "abi", moduleVersion)
	return Versions{Runtime: pins.Runtime, ABI: moduleVersion, Binding: pins.Binding}, nil
}

// Run resolves versions and provisions each target in order. The returned
// error is non-nil only for fatal failures.
func (p *Provisioner) Run(ctx context.Context, pins manifest.Pins, targets []target.Target) (*Report, error) {
	versions, err := p.ResolveVersions(ctx, pins)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		p.logger.Warn("provision.outdir.failed", "dir", p.opts.OutputDir, "err", err)
	}

	report := &Report{Versions: versions, EnvFile: p.opts.EnvFile}
	var records []envfile.Record

	for _, t := range targets {
		out := p.Provision(ctx, versions, t)

		if out.Status == StatusBuilt {
			records = append(records, envfile.Record{Key: envfile.Key(p.opts.EnvPrefix, t.Arch), Value: out.Record})
			if err := envfile.Write(p.opts.EnvFile, records); err != nil {
				records = records[:len(records)-1]
				stageErr := errors.NewStageError(errors.KindFilesystem, StageRecord, t.String(), err)
				p.recordSoft("provision.record.failed", t, stageErr)
				p.fail(&out, stageErr)
			} else {
				p.logger.Info("provision.record.written", "file", p.opts.EnvFile, "key", records[len(records)-1].Key)
			}
		}

		p.metrics.recordTarget(out.Status)
		report.Outcomes = append(report.Outcomes, out)
	}

	p.logger.Info("provision.done",
		"downloaded", report.Count(StatusDownloaded),
		"built", report.Count(StatusBuilt),
		"failed", report.Count(StatusFailed),
	)
	return report, nil
}

// Provision runs the download stage and, only if it failed, the build
// stage for one target. It never writes the env record.
func (p *Provisioner) Provision(ctx context.Context, v Versions, t target.Target) Outcome {
	start := time.Now()
	out := Outcome{Target: t}

	vars := artifact.Vars{
		Binding: v.Binding,
		ABI:     v.ABI,
		Runtime: v.Runtime,
		OS:      t.OS,
		Arch:    t.Arch,
		Module:  p.opts.Module,
	}

	stageStart := time.Now()
	dst, err := p.fetcher.Fetch(ctx, vars)
	p.metrics.observeStage("download", stageStart)
	if err == nil {
		out.Status = StatusDownloaded
		out.Artifact = dst
		out.Digest = p.digest(dst)
		p.logger.Info("provision.download.done", "target", t.String(), "artifact", dst)
		return p.finish(out, start)
	}

	out.DownloadError = err.Error()
	p.recordSoft("provision.download.failed", t, err)

	cfg := rebuild.NewConfig(p.opts.ProjectRoot, p.opts.BuildPath, v.Runtime, t.Arch, []string{p.opts.Module}, p.opts.Force)
	stageStart = time.Now()
	dst, err = p.builder.Build(ctx, cfg, vars)
	p.metrics.observeStage("build", stageStart)
	if err != nil {
		p.recordSoft("provision.build.failed", t, err)
		p.fail(&out, err)
		return p.finish(out, start)
	}

	rel, err := envfile.RelativePath(p.opts.ProjectRoot, dst)
	if err != nil {
		stageErr := errors.NewStageError(errors.KindFilesystem, StageRecord, t.String(), err)
		p.recordSoft("provision.record.failed", t, stageErr)
		p.fail(&out, stageErr)
		return p.finish(out, start)
	}

	out.Status = StatusBuilt
	out.Artifact = dst
	out.Record = rel
	out.Digest = p.digest(dst)
	p.logger.Info("provision.build.done", "target", t.String(), "artifact", dst, "record", rel)
	return p.finish(out, start)
}

func (p *Provisioner) finish(out Outcome, start time.Time) Outcome {
	out.Duration = time.Since(start)
	return out
}

func (p *Provisioner) fail(out *Outcome, err error) {
	out.Status = StatusFailed
	out.Error = err.Error()
	out.Kind = errors.KindOf(err)
	var se *errors.StageError
	if stderrors.As(err, &se) {
		out.Stage = se.Stage
	}
}

func (p *Provisioner) recordSoft(event string, t target.Target, err error) {
	stage, kind := "", errors.KindOf(err)
	var se *errors.StageError
	if stderrors.As(err, &se) {
		stage = se.Stage
	}
	p.metrics.recordFailure(stage, kind)
	p.logger.Warn(event, "target", t.String(), "stage", stage, "kind", string(kind), "err", err)
}

// digest is informational; a failure leaves it empty.
func (p *Provisioner) digest(path string) string {
	d, err := artifact.Digest(path)
	if err != nil {
		p.logger.Debug("provision.digest.failed", "path", path, "err", err)
		return ""
	}
	return d
}
