// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package output writes machine-readable results for --json mode.
//
// Human-readable progress goes through the ui package; fatal errors go
// through the errors package. This package only encodes the final run
// report:
//
//	if err := output.JSONTo(os.Stdout, report); err != nil {
//	    errors.FatalError(err, true)
//	}
package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONTo writes data as pretty-printed JSON (2-space indent) to w.
func JSONTo(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("JSON encoding failed: %w", err)
	}
	return nil
}
