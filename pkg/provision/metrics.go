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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kraklabs/nativebind/internal/errors"
)

// Metrics holds the Prometheus collectors for one provisioning run. Each
// Provisioner owns a private registry so runs never share counters.
type Metrics struct {
	once     sync.Once
	registry *prometheus.Registry

	// Targets by final status.
	targets *prometheus.CounterVec

	// Soft failures by stage and kind.
	stageFailures *prometheus.CounterVec

	// Resolutions of the ABI version, by result.
	resolutions *prometheus.CounterVec

	// Durations
	stageDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.init()
	return m
}

func (m *Metrics) init() {
	m.once.Do(func() {
		m.registry = prometheus.NewRegistry()

		m.targets = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "nativebind_targets_total", Help: "Targets attempted, by final status"}, []string{"status"})
		m.stageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "nativebind_stage_failures_total", Help: "Soft stage failures, by stage and kind"}, []string{"stage", "kind"})
		m.resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "nativebind_abi_resolutions_total", Help: "ABI version lookups, by result"}, []string{"result"})

		buckets := []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}
		m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "nativebind_stage_seconds", Help: "Duration of download and build stages", Buckets: buckets}, []string{"stage"})

		m.registry.MustRegister(m.targets, m.stageFailures, m.resolutions, m.stageDuration)
	})
}

// Registry exposes the collectors, e.g. for a textfile export.
func (m *Metrics) Registry() *prometheus.Registry {
	m.init()
	return m.registry
}

// WriteTextfile writes the current values in the Prometheus text format,
// suitable for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry())
}

func (m *Metrics) recordTarget(s Status) {
	m.init()
	m.targets.WithLabelValues(string(s)).Inc()
}

func (m *Metrics) recordResolution(result string) {
	m.init()
	m.resolutions.WithLabelValues(result).Inc()
}

func (m *Metrics) recordFailure(stage string, kind errors.Kind) {
	m.init()
	m.stageFailures.WithLabelValues(stage, string(kind)).Inc()
}

func (m *Metrics) observeStage(stage string, start time.Time) {
	m.init()
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
