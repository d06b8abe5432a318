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

// Package abi resolves a host runtime version to the native-module ABI
// version ("modules") its binaries must be compiled against.
//
// The mapping comes from a release index served over HTTP as a JSON array:
//
//	[{"version": "28.1.0", "modules": "119", ...}, ...]
//
// The first record whose version contains the requested runtime version
// wins. Resolution happens once per run and its result is passed explicitly
// to every later stage.
package abi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultReleasesURL is the Electron release index.
const DefaultReleasesURL = "https://releases.electronjs.org/releases.json"

// DefaultTimeout bounds the release index request.
const DefaultTimeout = 120 * time.Second

// ErrNotListed is returned when no release record matches the runtime version.
var ErrNotListed = errors.New("runtime version not listed in release index")

// ErrUnavailable wraps every failure to obtain a usable release index.
var ErrUnavailable = errors.New("release index unavailable")

// Release is one record of the release index.
type Release struct {
	Version string `json:"version"`
	Modules string `json:"modules"`
}

// Resolver queries the release index.
type Resolver struct {
	URL        string
	UserAgent  string
	HTTPClient *http.Client
}

// NewResolver creates a Resolver whose HTTP client gives up after timeout.
// Zero values select DefaultReleasesURL and DefaultTimeout.
func NewResolver(url string, timeout time.Duration) *Resolver {
	if url == "" {
		url = DefaultReleasesURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		URL:        url,
		UserAgent:  "nativebind",
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Releases fetches and decodes the full release index.
func (r *Resolver) Releases(ctx context.Context) ([]Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var releases []Release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if len(releases) == 0 {
		return nil, fmt.Errorf("%w: empty release list", ErrUnavailable)
	}
	return releases, nil
}

// Resolve returns the ABI version for runtimeVersion.
//
// Errors wrap ErrUnavailable when the index cannot be fetched or decoded,
// and ErrNotListed when it has no matching record.
func (r *Resolver) Resolve(ctx context.Context, runtimeVersion string) (string, error) {
	releases, err := r.Releases(ctx)
	if err != nil {
		return "", err
	}
	return Lookup(releases, runtimeVersion)
}

// Lookup finds the first record whose version contains runtimeVersion. A
// matching record without a modules field counts as not listed.
func Lookup(releases []Release, runtimeVersion string) (string, error) {
	if runtimeVersion == "" {
		return "", fmt.Errorf("%w: empty runtime version", ErrNotListed)
	}
	for _, rel := range releases {
		if !strings.Contains(rel.Version, runtimeVersion) {
			continue
		}
		if rel.Modules == "" {
			return "", fmt.Errorf("%w: %s has no modules version", ErrNotListed, rel.Version)
		}
		return rel.Modules, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotListed, runtimeVersion)
}
