// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package track

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/tomtom215/sailtrack/internal/event"
	"github.com/tomtom215/sailtrack/internal/logging"
	"github.com/tomtom215/sailtrack/internal/metrics"
	"github.com/tomtom215/sailtrack/internal/packet"
)

// StoreOptions configure the position store.
type StoreOptions struct {
	// StaticDir is the web data root. Multi-event state lives under
	// per-eid subdirectories; the single implicit event uses the root
	// itself.
	StaticDir string

	// LogDir overrides the track log location. Per-event subdirectories
	// are appended in multi-event mode.
	LogDir string

	NoLogs     bool
	NoSnapshot bool
	LogSync    bool

	Metrics *metrics.Metrics
}

// Store manages one Tracker, Users and Course per event. Trackers are
// created lazily on first use. Lock order is registry, then store, then
// the per-event documents; nothing here calls back into the registry
// while holding the store mutex.
type Store struct {
	registry *event.Registry
	opts     StoreOptions

	mu       sync.Mutex
	trackers map[int]*Tracker
	users    map[int]*Users
	courses  map[int]*Course
}

// NewStore creates the store over the given registry.
func NewStore(registry *event.Registry, opts StoreOptions) *Store {
	return &Store{
		registry: registry,
		opts:     opts,
		trackers: make(map[int]*Tracker),
		users:    make(map[int]*Users),
		courses:  make(map[int]*Course),
	}
}

// EventDir returns the data directory for an event.
func (s *Store) EventDir(eid int) string {
	if !s.registry.Multi() {
		return s.opts.StaticDir
	}
	return filepath.Join(s.opts.StaticDir, strconv.Itoa(eid))
}

func (s *Store) eventLogDir(eid int) string {
	if s.opts.LogDir == "" {
		return ""
	}
	if !s.registry.Multi() {
		return s.opts.LogDir
	}
	return filepath.Join(s.opts.LogDir, strconv.Itoa(eid))
}

// Tracker returns the tracker for eid, creating it on first use.
// The event must exist in the registry.
func (s *Store) Tracker(eid int) (*Tracker, error) {
	ev, ok := s.registry.Lookup(eid)
	if !ok {
		return nil, fmt.Errorf("unknown event %d", eid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.trackers[eid]; ok {
		return t, nil
	}
	t := NewTracker(TrackerOptions{
		EID:        eid,
		Dir:        s.EventDir(eid),
		LogDir:     s.eventLogDir(eid),
		Location:   ev.Location(),
		NoLogs:     s.opts.NoLogs,
		NoSnapshot: s.opts.NoSnapshot,
		LogSync:    s.opts.LogSync,
		Metrics:    s.opts.Metrics,
	})
	s.trackers[eid] = t
	return t, nil
}

// Users returns the override store for eid.
func (s *Store) Users(eid int) *Users {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[eid]; ok {
		return u
	}
	u := NewUsers(filepath.Join(s.EventDir(eid), UsersFile))
	s.users[eid] = u
	return u
}

// Course returns the course store for eid.
func (s *Store) Course(eid int) *Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.courses[eid]; ok {
		return c
	}
	c := NewCourse(filepath.Join(s.EventDir(eid), CourseFile))
	s.courses[eid] = c
	return c
}

// Accept routes an authenticated packet to its event tracker, resolving
// the user override first.
func (s *Store) Accept(p *packet.Packet) (AcceptResult, error) {
	t, err := s.Tracker(p.EID)
	if err != nil {
		return AcceptResult{}, err
	}
	ov := s.Users(p.EID).Get(p.ID)
	return t.Accept(p, ov, s.registry.AssistEnabledFor(p.EID)), nil
}

// active returns the instantiated trackers.
func (s *Store) active() map[int]*Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]*Tracker, len(s.trackers))
	for eid, t := range s.trackers {
		out[eid] = t
	}
	return out
}

// FlushDirty writes the snapshot of every dirty tracker and returns the
// snapshots written, keyed by eid. Write failures are logged; the dirty
// flag stays set so the next tick retries.
func (s *Store) FlushDirty(force bool) map[int]*Snapshot {
	written := make(map[int]*Snapshot)
	for eid, t := range s.active() {
		snap, err := t.WriteSnapshot(force)
		if err != nil {
			logging.Err(err).Int("eid", eid).Msg("snapshot write failed")
			continue
		}
		if snap != nil {
			written[eid] = snap
		}
	}
	return written
}

// MidnightSweep runs the per-event midnight clear.
func (s *Store) MidnightSweep() {
	for eid, t := range s.active() {
		if _, err := t.MidnightClear(); err != nil {
			logging.Err(err).Int("eid", eid).Msg("midnight clear failed")
		}
	}
}

// ClearTracks clears one event's live state and rotates its log.
func (s *Store) ClearTracks(eid int) error {
	t, err := s.Tracker(eid)
	if err != nil {
		return err
	}
	return t.ClearTracks()
}

// DropEvent closes and forgets an event's state and removes its data
// directory. Called after the registry entry is deleted.
func (s *Store) DropEvent(eid int) error {
	s.mu.Lock()
	t := s.trackers[eid]
	delete(s.trackers, eid)
	delete(s.users, eid)
	delete(s.courses, eid)
	s.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			logging.Err(err).Int("eid", eid).Msg("closing dropped event tracker")
		}
	}
	dir := s.EventDir(eid)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove event dir %s: %w", dir, err)
	}
	return nil
}

// Close flushes and closes every tracker. Used at shutdown.
func (s *Store) Close() error {
	var firstErr error
	for eid, t := range s.active() {
		if err := t.Close(); err != nil {
			logging.Err(err).Int("eid", eid).Msg("tracker close failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// WarmStart instantiates trackers for every registered event so snapshot
// restore happens before ingest begins.
func (s *Store) WarmStart() {
	start := time.Now()
	for _, eid := range s.registry.EIDs() {
		if _, err := s.Tracker(eid); err != nil {
			logging.Err(err).Int("eid", eid).Msg("warm start failed")
		}
	}
	logging.Debug().Dur("took", time.Since(start)).Msg("position store warm start")
}
