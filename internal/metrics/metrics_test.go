// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	m := New()

	m.PacketsReceived.WithLabelValues("udp").Inc()
	m.PacketsReceived.WithLabelValues("udp").Inc()
	m.PacketsRejected.WithLabelValues("udp", "malformed").Inc()
	m.QueueDrops.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PacketsReceived.WithLabelValues("udp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsRejected.WithLabelValues("udp", "malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDrops))
}

func TestIsolatedRegistries(t *testing.T) {
	a := New()
	b := New()

	a.SourceThrottled.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.SourceThrottled))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SourceThrottled))
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.TrackedPositions.WithLabelValues("1").Set(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "sailtrack_tracked_positions")
}
