// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Package metrics defines the Prometheus instrumentation for the tracking
// server. All collectors live on a Registry instance so tests can create
// isolated registries instead of fighting over the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sailtrack"

// Metrics holds every collector the server exports.
type Metrics struct {
	registry *prometheus.Registry

	// PacketsReceived counts raw packets seen per transport (udp, http,
	// owntracks) before any validation.
	PacketsReceived *prometheus.CounterVec

	// PacketsAccepted counts packets that passed validation and auth and
	// were handed to the position store.
	PacketsAccepted *prometheus.CounterVec

	// PacketsRejected counts rejected packets by transport and reason
	// (malformed, auth, rate_limited, unknown_event, archived_event,
	// payload_too_large, duplicate).
	PacketsRejected *prometheus.CounterVec

	// AuthFailures counts tracker password failures per event id.
	AuthFailures *prometheus.CounterVec

	// QueueDrops counts packets dropped because a worker queue was full.
	QueueDrops prometheus.Counter

	// SourceThrottled counts UDP datagrams dropped by the per-source limiter.
	SourceThrottled prometheus.Counter

	// SnapshotWrites observes snapshot write latency in seconds.
	SnapshotWrites prometheus.Histogram

	// SnapshotErrors counts failed snapshot writes.
	SnapshotErrors prometheus.Counter

	// LogAppendErrors counts failed daily-log appends.
	LogAppendErrors prometheus.Counter

	// TrackedPositions gauges live positions held in memory per event.
	TrackedPositions *prometheus.GaugeVec

	// WebsocketClients gauges connected live-stream clients.
	WebsocketClients prometheus.Gauge

	// HTTPRequests counts API requests by method, route pattern and status.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration observes API request latency by route pattern.
	HTTPDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with its own registry, including the
// standard Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PacketsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Raw tracker packets received, before validation.",
		}, []string{"transport"}),
		PacketsAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_accepted_total",
			Help:      "Tracker packets validated, authenticated and stored.",
		}, []string{"transport"}),
		PacketsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_rejected_total",
			Help:      "Tracker packets rejected, by reason.",
		}, []string{"transport", "reason"}),
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Tracker password authentication failures per event.",
		}, []string{"eid"}),
		QueueDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drops_total",
			Help:      "Packets dropped because a worker queue was full.",
		}),
		SourceThrottled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_throttled_total",
			Help:      "UDP datagrams dropped by the per-source rate limiter.",
		}),
		SnapshotWrites: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_write_seconds",
			Help:      "Latency of atomic snapshot writes.",
			Buckets:   prometheus.DefBuckets,
		}),
		SnapshotErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_errors_total",
			Help:      "Snapshot writes that failed and will be retried.",
		}),
		LogAppendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_append_errors_total",
			Help:      "Daily track log appends that failed.",
		}),
		TrackedPositions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_positions",
			Help:      "Live positions currently held in memory, per event.",
		}, []string{"eid"}),
		WebsocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected live position stream clients.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "API request latency by route.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}, []string{"method", "route"}),
	}
}

// Handler returns the HTTP handler serving this registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
