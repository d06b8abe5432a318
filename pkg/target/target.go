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

// Package target names the platform variants a native binding is built for.
//
// Identifiers follow the host runtime's conventions rather than Go's:
// GOOS "windows" is "win32", GOARCH "amd64" is "x64", "386" is "ia32".
package target

import (
	"fmt"
	"runtime"
)

// Arch identifiers accepted on the command line.
const (
	X64   = "x64"
	ARM64 = "arm64"
	ARM   = "arm"
	IA32  = "ia32"
)

// Target is an (operating system, architecture) pair.
type Target struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}

func (t Target) String() string {
	return t.OS + "-" + t.Arch
}

var platforms = map[string]string{
	"windows": "win32",
	"darwin":  "darwin",
	"linux":   "linux",
	"freebsd": "freebsd",
	"openbsd": "openbsd",
	"netbsd":  "netbsd",
	"aix":     "aix",
	"solaris": "sunos",
	"illumos": "sunos",
	"android": "android",
}

var archs = map[string]string{
	"amd64":   X64,
	"arm64":   ARM64,
	"arm":     ARM,
	"386":     IA32,
	"ppc64":   "ppc64",
	"ppc64le": "ppc64",
	"s390x":   "s390x",
	"riscv64": "riscv64",
	"loong64": "loong64",
}

// Platform maps a Go GOOS value to the runtime's platform identifier.
// Unknown values pass through unchanged.
func Platform(goos string) string {
	if p, ok := platforms[goos]; ok {
		return p
	}
	return goos
}

// Arch maps a Go GOARCH value to the runtime's architecture identifier.
// Unknown values pass through unchanged.
func Arch(goarch string) string {
	if a, ok := archs[goarch]; ok {
		return a
	}
	return goarch
}

// Host returns the target of the running process.
func Host() Target {
	return Target{OS: Platform(runtime.GOOS), Arch: Arch(runtime.GOARCH)}
}

// Selection records which architecture flags were passed.
type Selection struct {
	X64   bool
	ARM64 bool
	ARM   bool
}

// Any reports whether at least one architecture was requested.
func (s Selection) Any() bool {
	return s.X64 || s.ARM64 || s.ARM
}

// Resolve returns the targets to provision on host, in order x64, arm64,
// arm. With no flags set the host's own target is the only one.
func (s Selection) Resolve(host Target) []Target {
	if !s.Any() {
		return []Target{host}
	}
	var out []Target
	if s.X64 {
		out = append(out, Target{OS: host.OS, Arch: X64})
	}
	if s.ARM64 {
		out = append(out, Target{OS: host.OS, Arch: ARM64})
	}
	if s.ARM {
		out = append(out, Target{OS: host.OS, Arch: ARM})
	}
	return out
}

// Validate rejects targets with an empty component.
func (t Target) Validate() error {
	if t.OS == "" || t.Arch == "" {
		return fmt.Errorf("incomplete target %q", t.String())
	}
	return nil
}
