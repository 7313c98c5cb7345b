// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package track

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sailtrack/internal/atomicfile"
	"github.com/tomtom215/sailtrack/internal/logging"
	"github.com/tomtom215/sailtrack/internal/metrics"
	"github.com/tomtom215/sailtrack/internal/packet"
)

// SnapshotFile is the current-positions document name.
const SnapshotFile = "current_positions.json"

// TrackerOptions configure one per-event tracker.
type TrackerOptions struct {
	EID int

	// Dir is the event's data directory.
	Dir string

	// LogDir overrides where daily logs go. Empty means Dir/logs.
	LogDir string

	// Location drives daily log naming and the midnight clear.
	Location *time.Location

	NoLogs     bool
	NoSnapshot bool

	// LogSync fsyncs each log append.
	LogSync bool

	Metrics *metrics.Metrics
}

// Tracker holds the live state of one event. All methods are safe for
// concurrent use; a single mutex guards the maps, the dirty flag and the
// open log handle.
type Tracker struct {
	opts TrackerOptions
	loc  *time.Location

	mu        sync.Mutex
	positions map[string]*Position
	lastTs    map[string]float64
	dirty     bool

	logFile *os.File
	logDate string

	clearDate string

	now func() time.Time
}

// AcceptResult reports what happened to a packet.
type AcceptResult struct {
	// Stored is false for duplicates and auth-check packets.
	Stored bool
	// Duplicate means the client timestamp did not advance.
	Duplicate bool
}

// logLine is one JSONL record: the sanitized packet plus server fields.
type logLine struct {
	*packet.Packet
	Name string `json:"name,omitempty"`
	Recv int64  `json:"recv"`
}

// NewTracker creates the tracker and loads any existing snapshot so
// positions survive a restart.
func NewTracker(opts TrackerOptions) *Tracker {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	t := &Tracker{
		opts:      opts,
		loc:       loc,
		positions: make(map[string]*Position),
		lastTs:    make(map[string]float64),
		now:       time.Now,
	}
	t.loadSnapshot()
	t.clearDate = t.now().In(loc).Format("2006_01_02")
	return t
}

// Accept processes a sanitized, authenticated packet. Override name/role
// and the hidden flag come from ov; assistEnabled comes from the event.
// A log append failure is counted and logged but does not fail the
// packet: the position update and the ACK still happen.
func (t *Tracker) Accept(p *packet.Packet, ov Override, assistEnabled bool) AcceptResult {
	if p.AuthCheck {
		return AcceptResult{}
	}

	recv := t.now().Unix()

	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.lastTs[p.ID]; ok && p.Ts <= last {
		return AcceptResult{Duplicate: true}
	}
	t.lastTs[p.ID] = p.Ts

	pos := positionFromPacket(p, recv)
	if ov.Name != "" {
		pos.Name = ov.Name
	}
	if ov.Role != "" {
		pos.Role = ov.Role
	}
	pos.hidden = ov.Hidden
	if !assistEnabled || p.Stopped {
		pos.Ast = false
	}

	t.positions[p.ID] = pos
	t.dirty = true
	if m := t.opts.Metrics; m != nil {
		m.TrackedPositions.WithLabelValues(fmt.Sprint(t.opts.EID)).Set(float64(len(t.positions)))
	}

	if !t.opts.NoLogs {
		if err := t.logPacketLocked(p, pos.Name, recv); err != nil {
			logging.Err(err).Int("eid", t.opts.EID).Str("id", p.ID).Msg("track log append failed")
			if m := t.opts.Metrics; m != nil {
				m.LogAppendErrors.Inc()
			}
		}
	}

	return AcceptResult{Stored: true}
}

// Positions returns a copy of the live position map, hidden entries
// included. Callers filter as needed.
func (t *Tracker) Positions() map[string]*Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*Position, len(t.positions))
	for id, pos := range t.positions {
		cp := *pos
		out[id] = &cp
	}
	return out
}

// Dirty reports and clears the dirty flag when reset is true.
func (t *Tracker) Dirty(reset bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.dirty
	if reset {
		t.dirty = false
	}
	return d
}

// BuildSnapshot assembles the snapshot document, excluding hidden
// trackers.
func (t *Tracker) BuildSnapshot() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buildSnapshotLocked()
}

func (t *Tracker) buildSnapshotLocked() *Snapshot {
	now := t.now()
	snap := &Snapshot{
		Updated:    now.Unix(),
		UpdatedISO: now.UTC().Format(time.RFC3339),
		Sailors:    make(map[string]*Position, len(t.positions)),
	}
	for id, pos := range t.positions {
		if pos.hidden {
			continue
		}
		cp := *pos
		snap.Sailors[id] = &cp
	}
	return snap
}

// WriteSnapshot writes the snapshot when the state is dirty, or always
// when force is set. Returns the written snapshot, or nil when skipped.
// A write failure leaves the dirty flag set so the next tick retries.
func (t *Tracker) WriteSnapshot(force bool) (*Snapshot, error) {
	if t.opts.NoSnapshot {
		return nil, nil
	}

	t.mu.Lock()
	if !t.dirty && !force {
		t.mu.Unlock()
		return nil, nil
	}
	snap := t.buildSnapshotLocked()
	t.dirty = false
	t.mu.Unlock()

	// marshal and write outside the lock so ingest never waits on disk
	start := time.Now()
	err := atomicfile.WriteJSON(filepath.Join(t.opts.Dir, SnapshotFile), snap)
	if m := t.opts.Metrics; m != nil {
		m.SnapshotWrites.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
		if m := t.opts.Metrics; m != nil {
			m.SnapshotErrors.Inc()
		}
		return nil, fmt.Errorf("write snapshot eid %d: %w", t.opts.EID, err)
	}
	return snap, nil
}

// loadSnapshot restores positions from a previous run. A missing or
// unreadable snapshot starts empty; it is live data, not a registry.
func (t *Tracker) loadSnapshot() {
	if t.opts.NoSnapshot {
		return
	}
	data, err := os.ReadFile(filepath.Join(t.opts.Dir, SnapshotFile))
	if err != nil {
		return
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logging.Err(err).Int("eid", t.opts.EID).Msg("ignoring unreadable snapshot")
		return
	}
	for id, pos := range snap.Sailors {
		if pos == nil {
			continue
		}
		pos.ID = id
		t.positions[id] = pos
		t.lastTs[id] = pos.Ts
	}
	if len(t.positions) > 0 {
		logging.Info().Int("eid", t.opts.EID).Int("positions", len(t.positions)).Msg("restored positions from snapshot")
	}
}

// ClearTracks rotates today's log aside, drops all live positions and
// forces a fresh (empty) snapshot.
func (t *Tracker) ClearTracks() error {
	t.mu.Lock()
	if t.logFile != nil {
		t.logFile.Close() //nolint:errcheck,gosec
		t.logFile = nil
	}
	logPath := t.logPathLocked(t.now().In(t.loc))
	t.positions = make(map[string]*Position)
	t.lastTs = make(map[string]float64)
	t.logDate = ""
	if m := t.opts.Metrics; m != nil {
		m.TrackedPositions.WithLabelValues(fmt.Sprint(t.opts.EID)).Set(0)
	}
	t.mu.Unlock()

	if _, err := atomicfile.Rotate(logPath); err != nil {
		return fmt.Errorf("rotate track log: %w", err)
	}
	if _, err := t.WriteSnapshot(true); err != nil {
		return err
	}
	return nil
}

// MidnightClear drops positions when the event-local date has changed
// since the last clear. Called periodically by the maintenance service so
// each morning starts with an empty map.
func (t *Tracker) MidnightClear() (bool, error) {
	today := t.now().In(t.loc).Format("2006_01_02")
	t.mu.Lock()
	if t.clearDate == today {
		t.mu.Unlock()
		return false, nil
	}
	t.clearDate = today
	t.positions = make(map[string]*Position)
	t.lastTs = make(map[string]float64)
	if m := t.opts.Metrics; m != nil {
		m.TrackedPositions.WithLabelValues(fmt.Sprint(t.opts.EID)).Set(0)
	}
	t.mu.Unlock()

	logging.Info().Int("eid", t.opts.EID).Str("date", today).Msg("midnight clear")
	_, err := t.WriteSnapshot(true)
	return true, err
}

// Close flushes the snapshot and closes the log handle.
func (t *Tracker) Close() error {
	_, snapErr := t.WriteSnapshot(true)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.logFile != nil {
		if err := t.logFile.Sync(); err != nil {
			logging.Err(err).Int("eid", t.opts.EID).Msg("log sync on close failed")
		}
		if err := t.logFile.Close(); err != nil {
			return fmt.Errorf("close track log: %w", err)
		}
		t.logFile = nil
	}
	return snapErr
}

func (t *Tracker) logDir() string {
	if t.opts.LogDir != "" {
		return t.opts.LogDir
	}
	return filepath.Join(t.opts.Dir, "logs")
}

func (t *Tracker) logPathLocked(day time.Time) string {
	return filepath.Join(t.logDir(), day.Format("2006_01_02")+".jsonl")
}

// logPacketLocked writes the packet's track points. A batched upload logs
// each pos entry as its own point, with the packet metadata copied onto
// every line so consumers never need to join lines.
func (t *Tracker) logPacketLocked(p *packet.Packet, name string, recv int64) error {
	if len(p.Pos) == 0 {
		return t.appendLogLocked(&logLine{Packet: p, Name: name, Recv: recv})
	}
	for _, e := range p.Pos {
		point := *p
		point.Pos = nil
		point.Ts = e.Ts
		point.Lat = e.Lat
		point.Lon = e.Lon
		point.Spd = e.Spd
		if err := t.appendLogLocked(&logLine{Packet: &point, Name: name, Recv: recv}); err != nil {
			return err
		}
	}
	return nil
}

// appendLogLocked writes one JSONL record, rotating to a new file when
// the event-local date has changed.
func (t *Tracker) appendLogLocked(line *logLine) error {
	day := t.now().In(t.loc)
	date := day.Format("2006_01_02")

	if t.logFile == nil || t.logDate != date {
		if t.logFile != nil {
			t.logFile.Close() //nolint:errcheck,gosec
			t.logFile = nil
		}
		dir := t.logDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(t.logPathLocked(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open track log: %w", err)
		}
		t.logFile = f
		t.logDate = date
	}

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal log line: %w", err)
	}
	data = append(data, '\n')
	if _, err := t.logFile.Write(data); err != nil {
		return fmt.Errorf("append track log: %w", err)
	}
	if t.opts.LogSync {
		if err := t.logFile.Sync(); err != nil {
			return fmt.Errorf("sync track log: %w", err)
		}
	}
	return nil
}
