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
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides human-facing output helpers for the nativebind CLI.
//
// Colors respect the --no-color flag and the NO_COLOR environment variable,
// and are disabled automatically when stdout is not a TTY.
//
// Color usage:
//   - Red: target failures
//   - Yellow: soft stage failures that fall through to the next stage
//   - Green: artifacts materialized
//   - Cyan: progress and resolved values
//   - Dim: paths
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Pre-configured color instances for consistent CLI output.
var (
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Green  = color.New(color.FgGreen)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// Out is where every helper writes. Quiet mode points it at io.Discard.
var Out io.Writer = os.Stdout

// InitColors configures global color output based on the noColor flag.
func InitColors(noColor bool) {
	color.NoColor = noColor
}

// SetQuiet silences all helpers when quiet is true.
func SetQuiet(quiet bool) {
	if quiet {
		Out = io.Discard
		return
	}
	Out = os.Stdout
}

// Success prints a green message with a checkmark prefix.
func Success(msg string) {
	_, _ = Green.Fprintln(Out, "✓ "+msg)
}

// Successf prints a formatted green message with a checkmark prefix.
func Successf(format string, args ...any) {
	_, _ = Green.Fprintf(Out, "✓ "+format+"\n", args...)
}

// Warningf prints a formatted yellow message with a warning symbol prefix.
//
// Example output: "⚠ x64 download failed (network): HTTP 404"
func Warningf(format string, args ...any) {
	_, _ = Yellow.Fprintf(Out, "⚠ "+format+"\n", args...)
}

// Errorf prints a formatted red message with an X prefix.
func Errorf(format string, args ...any) {
	_, _ = Red.Fprintf(Out, "✗ "+format+"\n", args...)
}

// Infof prints a formatted cyan message with an info symbol prefix.
func Infof(format string, args ...any) {
	_, _ = Cyan.Fprintf(Out, "ℹ "+format+"\n", args...)
}

// Header prints a bold header with an underline separator.
func Header(text string) {
	_, _ = Bold.Fprintln(Out, text)
	fmt.Fprintln(Out, strings.Repeat("=", len(text)))
}

// Label returns a bold-formatted label string for inline use.
func Label(text string) string {
	return Bold.Sprint(text)
}

// DimText returns a dim-formatted string, used for paths.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// KeyValue prints an aligned "label value" line, e.g. "projectDir  /src/app".
func KeyValue(label, value string) {
	fmt.Fprintf(Out, "  %-14s %s\n", Label(label), DimText(value))
}
