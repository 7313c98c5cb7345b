// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package event

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/tomtom215/sailtrack/internal/packet"
)

// Failure cache parameters: maxFailures failures within failureWindow
// block the (source, eid) pair for blockDuration without any password
// comparison.
const (
	maxFailures    = 5
	failureWindow  = 60 * time.Second
	blockDuration  = 5 * time.Minute
	cacheSweepSize = 4096
)

type failKey struct {
	source string
	eid    int
}

type failRecord struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

// FailureCache tracks tracker auth failures per (source address, event) so
// a flood of bad passwords from one source cannot brute-force an event or
// burn CPU on comparisons.
type FailureCache struct {
	mu      sync.Mutex
	records map[failKey]*failRecord
	now     func() time.Time
}

// NewFailureCache creates an empty cache.
func NewFailureCache() *FailureCache {
	return &FailureCache{
		records: make(map[failKey]*failRecord),
		now:     time.Now,
	}
}

// Blocked reports whether the pair is currently rate-limited.
func (c *FailureCache) Blocked(source string, eid int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[failKey{source, eid}]
	if !ok {
		return false
	}
	return c.now().Before(rec.blockedUntil)
}

// Failure records one auth failure and returns true when the pair just
// crossed the threshold and is now blocked.
func (c *FailureCache) Failure(source string, eid int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key := failKey{source, eid}
	rec, ok := c.records[key]
	if !ok || now.Sub(rec.windowStart) > failureWindow {
		rec = &failRecord{windowStart: now}
		c.records[key] = rec
		c.sweepLocked(now)
	}
	rec.count++
	if rec.count >= maxFailures {
		rec.blockedUntil = now.Add(blockDuration)
		return true
	}
	return false
}

// Success clears the failure record for the pair.
func (c *FailureCache) Success(source string, eid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, failKey{source, eid})
}

// sweepLocked drops expired records once the map grows large. Amortized
// over insertions so the cache stays bounded under address churn.
func (c *FailureCache) sweepLocked(now time.Time) {
	if len(c.records) < cacheSweepSize {
		return
	}
	for key, rec := range c.records {
		if now.Sub(rec.windowStart) > failureWindow && now.After(rec.blockedUntil) {
			delete(c.records, key)
		}
	}
}

// passwordsEqual compares two shared secrets in constant time.
func passwordsEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// AuthenticateTracker checks a tracker upload password against the event,
// consulting the failure cache first. A nil return means authenticated.
// The rate-limit check runs before the password comparison, so blocked
// sources cost no comparison work.
func (r *Registry) AuthenticateTracker(cache *FailureCache, eid int, pwd, source string) *packet.Error {
	ev, ok := r.Lookup(eid)
	if !ok {
		return packet.Reject(packet.ReasonUnknownEvent, "unknown event %d", eid)
	}
	if ev.Archived {
		return packet.Reject(packet.ReasonArchivedEvent, "event %d is archived", eid)
	}

	r.mu.RLock()
	want := ev.TrackerPassword
	r.mu.RUnlock()

	if want == "" {
		return nil
	}

	if cache.Blocked(source, eid) {
		return packet.Reject(packet.ReasonRateLimited, "too many failed attempts, retry later")
	}
	if !passwordsEqual(pwd, want) {
		cache.Failure(source, eid)
		return packet.Reject(packet.ReasonAuth, "invalid tracker password")
	}
	cache.Success(source, eid)
	return nil
}

// AuthenticateAdmin checks the per-event admin password, falling back to
// the global admin password when the event has none.
func (r *Registry) AuthenticateAdmin(eid int, pwd string) bool {
	ev, ok := r.Lookup(eid)
	if !ok {
		return false
	}
	r.mu.RLock()
	want := ev.AdminPassword
	global := r.adminPassword
	r.mu.RUnlock()

	if want == "" {
		want = global
	}
	if want == "" {
		return false
	}
	return passwordsEqual(pwd, want)
}

// AuthenticateOwnTracks checks the OwnTracks Basic auth password: the
// event's owntracks password when set, otherwise its admin password.
func (r *Registry) AuthenticateOwnTracks(eid int, pwd string) bool {
	ev, ok := r.Lookup(eid)
	if !ok {
		return false
	}
	r.mu.RLock()
	want := ev.OwnTracksPassword
	r.mu.RUnlock()

	if want == "" {
		return r.AuthenticateAdmin(eid, pwd)
	}
	return passwordsEqual(pwd, want)
}

// AuthenticateManager checks the management API password. An empty
// configured password disables the management API entirely.
func (r *Registry) AuthenticateManager(pwd string) bool {
	r.mu.RLock()
	want := r.managerPassword
	r.mu.RUnlock()

	if want == "" {
		return false
	}
	return passwordsEqual(pwd, want)
}
