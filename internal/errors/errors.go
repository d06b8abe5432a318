// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package errors provides the two error tiers used by nativebind.
//
// Fatal errors are UserError values. They carry what went wrong, why it
// happened, and how to fix it, plus the exit code the CLI terminates with.
// Only problems that make every target impossible to provision are fatal:
// an unreadable package manifest, a broken config file, or a runtime version
// whose ABI cannot be resolved.
//
// Soft errors are StageError values. They name the pipeline stage that
// failed and a failure Kind, and never change the process exit status:
//
//	err := errors.NewStageError(errors.KindExtraction, "extract", "x64", cause)
//	logger.Warn("provision.download.failed", "stage", err.Stage, "kind", err.Kind, "err", err.Err)
//
// # Exit Codes
//
//   - ExitSuccess (0): Successful execution, including runs where some targets failed
//   - ExitConfig (1): Configuration or manifest errors
//   - ExitNetwork (3): Version-mapping service unreachable or malformed
//   - ExitInput (4): Invalid command-line input
//   - ExitNotFound (6): Runtime version absent from the version mapping
//   - ExitInternal (10): Internal errors (bugs, panics)
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Exit codes for different error categories.
const (
	// ExitSuccess indicates successful execution.
	ExitSuccess = 0

	// ExitConfig indicates configuration errors (missing/invalid config or manifest).
	ExitConfig = 1

	// ExitNetwork indicates network or API errors (connection failed, timeout).
	ExitNetwork = 3

	// ExitInput indicates invalid user input (bad arguments, validation errors).
	ExitInput = 4

	// ExitNotFound indicates resource not found errors.
	ExitNotFound = 6

	// ExitInternal indicates internal errors (bugs, unexpected panics).
	ExitInternal = 10
)

// UserError represents a fatal error with structured context for end users.
type UserError struct {
	// Message describes what went wrong in user-friendly language.
	Message string

	// Cause explains why the error occurred.
	Cause string

	// Fix provides an actionable suggestion on how to resolve the error.
	Fix string

	// ExitCode is the exit code used when exiting due to this error.
	ExitCode int

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *UserError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a configuration error with exit code ExitConfig.
//
// Example:
//
//	return NewConfigError(
//	    "Cannot read package.json",
//	    "The file does not exist in the project directory",
//	    "Run nativebind from the project root or pass --project-dir",
//	    err,
//	)
func NewConfigError(msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitConfig, Err: err}
}

// NewNetworkError creates a network error with exit code ExitNetwork.
func NewNetworkError(msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitNetwork, Err: err}
}

// NewInputError creates an input validation error with exit code ExitInput.
// Input errors do not wrap an underlying error.
func NewInputError(msg, cause, fix string) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitInput}
}

// NewNotFoundError creates a not found error with exit code ExitNotFound.
func NewNotFoundError(msg, cause, fix string) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitNotFound}
}

// NewInternalError creates an internal error with exit code ExitInternal.
func NewInternalError(msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitInternal, Err: err}
}

// Kind classifies a soft, per-target failure.
type Kind string

const (
	// KindNetwork covers transport errors and non-2xx responses.
	KindNetwork Kind = "network"

	// KindExtraction covers corrupt or unreadable archives.
	KindExtraction Kind = "extraction"

	// KindFilesystem covers missing inner files, copy and cleanup failures.
	KindFilesystem Kind = "filesystem"

	// KindToolchain covers failures of the external rebuild command.
	KindToolchain Kind = "toolchain"
)

// StageError is a recoverable failure of one pipeline stage for one target.
type StageError struct {
	Kind   Kind
	Stage  string
	Target string
	Err    error
}

// NewStageError builds a StageError.
func NewStageError(kind Kind, stage, target string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Target: target, Err: err}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s failed (%s)", e.Target, e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s %s failed (%s): %v", e.Target, e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first StageError in err's chain, or ""
// when there is none.
func KindOf(err error) Kind {
	var se *StageError
	if stderrors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Color definitions for fatal error formatting.
var (
	colorFatal = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// FatalMarker prefixes every fatal error so it stands apart from the
// per-target warnings that precede it in the log.
const FatalMarker = "✗ FATAL"

// Format returns a formatted error message for terminal display.
//
// Example output:
//
//	✗ FATAL: Cannot resolve Electron ABI version
//	Cause: 99.0.0 is not listed in releases.json
//	Fix:   Check devDependencies.electron in package.json
//
// Empty Cause or Fix fields are omitted. The global color.NoColor state is
// restored before returning.
func (e *UserError) Format(noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorFatal.Sprint(FatalMarker + ": "))
	out.WriteString(e.Message)
	out.WriteString("\n")

	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}

	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}

	return out.String()
}

// ErrorJSON represents fatal error information in JSON format.
type ErrorJSON struct {
	Error    string `json:"error"`
	Cause    string `json:"cause,omitempty"`
	Fix      string `json:"fix,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ToJSON converts the UserError to a JSON-serializable structure.
func (e *UserError) ToJSON() ErrorJSON {
	return ErrorJSON{
		Error:    e.Message,
		Cause:    e.Cause,
		Fix:      e.Fix,
		ExitCode: e.ExitCode,
	}
}

// exit is swapped out by tests.
var exit = os.Exit

// FatalError prints the error and exits with the appropriate code.
//
// UserError values are printed with Format (or ToJSON in JSON mode) and exit
// with their own code. Anything else exits with ExitInternal.
func FatalError(err error, jsonOutput bool) {
	if err == nil {
		return
	}

	var ue *UserError
	if stderrors.As(err, &ue) {
		if jsonOutput {
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			_ = enc.Encode(ue.ToJSON())
		} else {
			fmt.Fprint(os.Stderr, ue.Format(false))
		}
		exit(ue.ExitCode)
		return
	}

	fmt.Fprintf(os.Stderr, "%s: %v\n", FatalMarker, err)
	exit(ExitInternal)
}
