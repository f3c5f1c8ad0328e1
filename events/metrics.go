// Copyright 2024-2025 The asynchttp Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink exposes lifecycle events as Prometheus metrics: request
// outcomes as counters and open connections as a gauge, labeled by host.
type MetricsSink struct {
	succeeded *prometheus.CounterVec
	failed    *prometheus.CounterVec
	open      *prometheus.GaugeVec
}

// NewMetricsSink creates a sink and registers its collectors with reg.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	s := &MetricsSink{
		succeeded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asynchttp_requests_succeeded_total",
				Help: "Completed requests by host",
			},
			[]string{"host"},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asynchttp_requests_failed_total",
				Help: "Failed requests by host and cause",
			},
			[]string{"host", "cause"},
		),
		open: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "asynchttp_open_connections",
				Help: "Currently open connections by host",
			},
			[]string{"host"},
		),
	}
	for _, c := range []prometheus.Collector{s.succeeded, s.failed, s.open} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

var _ Sink = (*MetricsSink)(nil)

// Event implements Sink.
func (s *MetricsSink) Event(evt Event) {
	switch evt.Type {
	case ConnectionOpened:
		s.open.WithLabelValues(evt.Host).Inc()
	case ConnectionClosed:
		s.open.WithLabelValues(evt.Host).Dec()
	case RequestSucceeded:
		s.succeeded.WithLabelValues(evt.Host).Inc()
	case RequestFailed:
		s.failed.WithLabelValues(evt.Host, evt.Cause.String()).Inc()
	}
}
