// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package event

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sailtrack/internal/atomicfile"
	"github.com/tomtom215/sailtrack/internal/logging"
)

// SingleEID is the synthetic event id used when the server runs without a
// registry file. Internally everything is multi-event; single-event
// deployments get one implicit event.
const SingleEID = 0

// registryDoc is the on-disk shape of the events file.
type registryDoc struct {
	NextEID int               `json:"next_eid"`
	Events  map[string]*Event `json:"events"`
}

// Registry holds every event in memory and persists changes atomically.
// Memory is authoritative: a failed persist is logged and retried on the
// next mutation, never rolled back.
type Registry struct {
	mu      sync.RWMutex
	path    string
	multi   bool
	nextEID int
	events  map[int]*Event

	managerPassword string
	adminPassword   string

	now func() time.Time
}

// Options configure registry construction.
type Options struct {
	// Path of events.json. Empty means single-event mode.
	Path string

	// ManagerPassword guards the management API. Empty disables it.
	ManagerPassword string

	// AdminPassword is the global fallback admin password.
	AdminPassword string

	// Single-event credentials, used only when Path is empty.
	TrackerPassword   string
	OwnTracksPassword string
	AssistEnabled     bool
}

// Load builds a registry from opts. With a path, the file is read and a
// corrupt document is a fatal error; a missing file starts an empty
// registry. Without a path the registry holds the one implicit event.
func Load(opts Options) (*Registry, error) {
	r := &Registry{
		path:            opts.Path,
		multi:           opts.Path != "",
		nextEID:         1,
		events:          make(map[int]*Event),
		managerPassword: opts.ManagerPassword,
		adminPassword:   opts.AdminPassword,
		now:             time.Now,
	}

	if !r.multi {
		r.events[SingleEID] = &Event{
			EID:               SingleEID,
			Name:              "default",
			TrackerPassword:   opts.TrackerPassword,
			OwnTracksPassword: opts.OwnTracksPassword,
			AdminPassword:     opts.AdminPassword,
			AssistEnabled:     opts.AssistEnabled,
			Created:           r.now().Unix(),
		}
		return r, nil
	}

	data, err := os.ReadFile(opts.Path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Info().Str("path", opts.Path).Msg("events file missing, starting empty registry")
			return r, nil
		}
		return nil, fmt.Errorf("read events file %s: %w", opts.Path, err)
	}

	var doc registryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt events file %s: %w", opts.Path, err)
	}

	for key, ev := range doc.Events {
		eid, err := strconv.Atoi(key)
		if err != nil || eid <= 0 || ev == nil {
			return nil, fmt.Errorf("corrupt events file %s: bad event key %q", opts.Path, key)
		}
		ev.EID = eid
		r.events[eid] = ev
		if eid >= r.nextEID {
			r.nextEID = eid + 1
		}
	}
	if doc.NextEID > r.nextEID {
		r.nextEID = doc.NextEID
	}

	logging.Info().Int("events", len(r.events)).Str("path", opts.Path).Msg("event registry loaded")
	return r, nil
}

// Multi reports whether the server runs with an on-disk registry.
func (r *Registry) Multi() bool {
	return r.multi
}

// Lookup returns the event for eid.
func (r *Registry) Lookup(eid int) (*Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.events[eid]
	if !ok {
		return nil, false
	}
	// a copy, so readers never race with UpdateFields
	cp := *ev
	return &cp, true
}

// EIDs returns every registered event id.
func (r *Registry) EIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.events))
	for eid := range r.events {
		ids = append(ids, eid)
	}
	sort.Ints(ids)
	return ids
}

// PublicEvents returns non-archived events without credentials, sorted by
// name then eid for a stable listing.
func (r *Registry) PublicEvents() []PublicEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PublicEvent, 0, len(r.events))
	for _, ev := range r.events {
		if ev.Archived {
			continue
		}
		out = append(out, ev.Public())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].EID < out[j].EID
	})
	return out
}

// AllEvents returns every event including archived ones and credentials,
// for the management API. The slice holds copies.
func (r *Registry) AllEvents() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EID < out[j].EID })
	return out
}

// Create registers a new event and returns its eid. EIDs are never reused,
// even after deletion.
func (r *Registry) Create(ev Event) (int, error) {
	if ev.Name == "" {
		return 0, fmt.Errorf("event name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	eid := r.nextEID
	r.nextEID++
	ev.EID = eid
	ev.Created = r.now().Unix()
	r.events[eid] = &ev

	r.persistLocked()
	return eid, nil
}

// UpdateFields patches the allowed fields of an event. Unknown fields are
// ignored; eid and created are immutable.
func (r *Registry) UpdateFields(eid int, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.events[eid]
	if !ok {
		return fmt.Errorf("unknown event %d", eid)
	}

	for key, val := range fields {
		switch key {
		case "name":
			if s, ok := val.(string); ok && s != "" {
				ev.Name = s
			}
		case "description":
			if s, ok := val.(string); ok {
				ev.Description = s
			}
		case "admin_password":
			if s, ok := val.(string); ok {
				ev.AdminPassword = s
			}
		case "tracker_password":
			if s, ok := val.(string); ok {
				ev.TrackerPassword = s
			}
		case "owntracks_password":
			if s, ok := val.(string); ok {
				ev.OwnTracksPassword = s
			}
		case "assist_enabled":
			if b, ok := val.(bool); ok {
				ev.AssistEnabled = b
			}
		case "archived":
			if b, ok := val.(bool); ok {
				ev.Archived = b
			}
		case "timezone":
			if s, ok := val.(string); ok {
				if _, err := time.LoadLocation(s); err != nil && s != "" {
					return fmt.Errorf("unknown timezone %q", s)
				}
				ev.Timezone = s
			}
		case "home_location":
			if s, ok := val.(string); ok {
				ev.HomeLocation = s
			}
		case "home_lat":
			if f, ok := toFloat(val); ok && f >= -90 && f <= 90 {
				ev.HomeLat = f
			}
		case "home_lon":
			if f, ok := toFloat(val); ok && f >= -180 && f <= 180 {
				ev.HomeLon = f
			}
		}
	}
	ev.Updated = r.now().Unix()

	r.persistLocked()
	return nil
}

// SetArchived flips the archive flag.
func (r *Registry) SetArchived(eid int, archived bool) error {
	return r.UpdateFields(eid, map[string]any{"archived": archived})
}

// Delete removes the event from the registry. The caller is responsible
// for removing the event's data directory (lock order: registry before
// store, so the registry cannot reach into the store from here).
func (r *Registry) Delete(eid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[eid]; !ok {
		return fmt.Errorf("unknown event %d", eid)
	}
	delete(r.events, eid)

	r.persistLocked()
	return nil
}

// AssistEnabledFor reports whether assist flags are honored for eid.
func (r *Registry) AssistEnabledFor(eid int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.events[eid]
	return ok && ev.AssistEnabled
}

// persistLocked writes the registry to disk. Persist failures are logged;
// the in-memory state stays authoritative and the next mutation retries.
func (r *Registry) persistLocked() {
	if !r.multi {
		return
	}
	doc := registryDoc{
		NextEID: r.nextEID,
		Events:  make(map[string]*Event, len(r.events)),
	}
	for eid, ev := range r.events {
		doc.Events[strconv.Itoa(eid)] = ev
	}
	if err := atomicfile.WriteJSON(r.path, doc); err != nil {
		logging.Err(err).Str("path", r.path).Msg("failed to persist event registry")
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
