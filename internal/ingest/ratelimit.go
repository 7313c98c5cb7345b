// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package ingest

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/sailtrack/internal/metrics"
)

// Per-source sustained packet budget. Trackers send at most one packet a
// second; 10/s with a burst of 30 leaves room for batch flushes while a
// flooding source is cut off before it reaches the JSON parser.
const (
	sourceRate  = rate.Limit(10)
	sourceBurst = 30

	limiterIdle  = 5 * time.Minute
	limiterSweep = 4096
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// SourceLimiter applies a token bucket per source IP on the UDP path.
type SourceLimiter struct {
	mu      sync.Mutex
	sources map[string]*limiterEntry
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSourceLimiter creates the limiter. Pass nil metrics to skip the
// throttle counter.
func NewSourceLimiter(m *metrics.Metrics) *SourceLimiter {
	return &SourceLimiter{
		sources: make(map[string]*limiterEntry),
		metrics: m,
		now:     time.Now,
	}
}

// Allow reports whether a datagram from ip may proceed.
func (s *SourceLimiter) Allow(ip string) bool {
	s.mu.Lock()
	entry, ok := s.sources[ip]
	if !ok {
		entry = &limiterEntry{lim: rate.NewLimiter(sourceRate, sourceBurst)}
		s.sources[ip] = entry
		s.sweepLocked()
	}
	entry.lastSeen = s.now()
	s.mu.Unlock()

	if entry.lim.Allow() {
		return true
	}
	if s.metrics != nil {
		s.metrics.SourceThrottled.Inc()
	}
	return false
}

// sweepLocked evicts idle sources once the map grows large, amortized
// over insertions.
func (s *SourceLimiter) sweepLocked() {
	if len(s.sources) < limiterSweep {
		return
	}
	cutoff := s.now().Add(-limiterIdle)
	for ip, entry := range s.sources {
		if entry.lastSeen.Before(cutoff) {
			delete(s.sources, ip)
		}
	}
}
