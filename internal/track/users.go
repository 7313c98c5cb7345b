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

	"github.com/goccy/go-json"

	"github.com/tomtom215/sailtrack/internal/atomicfile"
	"github.com/tomtom215/sailtrack/internal/logging"
)

// UsersFile is the per-event override document name.
const UsersFile = "users.json"

// Override is the admin-set display state for one tracker id.
type Override struct {
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`
}

// Users holds the per-event override map, lazily loaded from users.json.
// A missing file means no overrides.
type Users struct {
	mu     sync.Mutex
	path   string
	loaded bool
	m      map[string]Override
}

// NewUsers creates the override store for the document at path.
func NewUsers(path string) *Users {
	return &Users{path: path, m: make(map[string]Override)}
}

func (u *Users) loadLocked() {
	if u.loaded {
		return
	}
	u.loaded = true
	data, err := os.ReadFile(u.path)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &u.m); err != nil {
		logging.Err(err).Str("path", u.path).Msg("ignoring unreadable users file")
		u.m = make(map[string]Override)
	}
}

// Get returns the override for id, or the zero value.
func (u *Users) Get(id string) Override {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.loadLocked()
	return u.m[id]
}

// All returns a copy of every override.
func (u *Users) All() map[string]Override {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.loadLocked()
	out := make(map[string]Override, len(u.m))
	for id, ov := range u.m {
		out[id] = ov
	}
	return out
}

// Set stores an override and persists the document before returning.
func (u *Users) Set(id string, ov Override) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.loadLocked()
	u.m[id] = ov
	return u.persistLocked()
}

// SetIfAbsent stores an override only when the id has none yet. Used by
// the OwnTracks adapter to record the display name on first contact
// without clobbering an admin edit.
func (u *Users) SetIfAbsent(id string, ov Override) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.loadLocked()
	if _, ok := u.m[id]; ok {
		return nil
	}
	u.m[id] = ov
	return u.persistLocked()
}

// Delete removes an override and persists.
func (u *Users) Delete(id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.loadLocked()
	if _, ok := u.m[id]; !ok {
		return nil
	}
	delete(u.m, id)
	return u.persistLocked()
}

func (u *Users) persistLocked() error {
	if err := atomicfile.WriteJSON(u.path, u.m); err != nil {
		return fmt.Errorf("persist %s: %w", filepath.Base(u.path), err)
	}
	return nil
}
