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

// Package provision makes sure a native binding matched to the host
// runtime's ABI exists for every requested target.
//
// # Pipeline
//
// A run resolves the ABI version once, then walks the targets in order.
// Each target goes through a two-stage pipeline:
//
//	download ──ok──► Downloaded
//	    │
//	  failed (network | extraction | filesystem)
//	    ▼
//	build ────ok──► Built  (env record rewritten)
//	    │
//	  failed (toolchain | filesystem)
//	    ▼
//	Failed
//
// The build stage only runs when the download stage failed, and at most once
// per target. Nothing is retried.
//
// # Errors
//
// Only ABI resolution is fatal: Run returns an *errors.UserError and no
// target is attempted. Per-target failures are recorded in the Outcome and
// logged, and Run still returns a nil error.
//
// # Quick Start
//
//	p := provision.New(provision.Options{
//	    ProjectRoot: root,
//	    OutputDir:   filepath.Join(root, "dist-native"),
//	    EnvFile:     filepath.Join(root, ".env"),
//	}, abi.NewResolver("", 0), fetcher, builder, logger)
//
//	report, err := p.Run(ctx, manifest.Pins{Runtime: "28.1.0", Binding: "9.2.2"}, targets)
//	if err != nil {
//	    errors.FatalError(err, false)
//	}
package provision
