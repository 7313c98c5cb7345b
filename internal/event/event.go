// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Package event owns the event registry: the set of races this server
// tracks, their passwords, and the rate-limited authentication path every
// incoming packet goes through.
package event

import (
	"sync"
	"time"
)

// Event is one tracked race. Password fields are shared secrets compared
// in constant time; they are never serialized into public views.
type Event struct {
	EID         int    `json:"-"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	AdminPassword     string `json:"admin_password,omitempty"`
	TrackerPassword   string `json:"tracker_password,omitempty"`
	OwnTracksPassword string `json:"owntracks_password,omitempty"`

	// AssistEnabled allows trackers in this event to raise the assist
	// flag. When false the flag is coerced off at ingest.
	AssistEnabled bool `json:"assist_enabled"`

	// Archived events are read-only: uploads and admin writes are
	// rejected, public reads still work.
	Archived bool `json:"archived"`

	// Timezone is the IANA name used for daily log rotation and the
	// midnight auto-clear. Empty means UTC.
	Timezone string `json:"timezone,omitempty"`

	// HomeLocation describes the venue; HomeLat/HomeLon seed the map view.
	HomeLocation string  `json:"home_location,omitempty"`
	HomeLat      float64 `json:"home_lat,omitempty"`
	HomeLon      float64 `json:"home_lon,omitempty"`

	Created int64 `json:"created"`
	Updated int64 `json:"updated,omitempty"`
}

// PublicEvent is the password-free view served to anyone.
type PublicEvent struct {
	EID           int     `json:"eid"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	AssistEnabled bool    `json:"assist_enabled"`
	Archived      bool    `json:"archived"`
	Timezone      string  `json:"timezone,omitempty"`
	HomeLocation  string  `json:"home_location,omitempty"`
	HomeLat       float64 `json:"home_lat,omitempty"`
	HomeLon       float64 `json:"home_lon,omitempty"`
}

// Public returns the password-free view of the event.
func (e *Event) Public() PublicEvent {
	return PublicEvent{
		EID:           e.EID,
		Name:          e.Name,
		Description:   e.Description,
		AssistEnabled: e.AssistEnabled,
		Archived:      e.Archived,
		Timezone:      e.Timezone,
		HomeLocation:  e.HomeLocation,
		HomeLat:       e.HomeLat,
		HomeLon:       e.HomeLon,
	}
}

// Location resolves the event timezone, falling back to UTC for empty or
// unknown names. Pure lookup: safe for concurrent callers even while the
// registry patches Timezone.
func (e *Event) Location() *time.Location {
	return lookupLocation(e.Timezone)
}

var (
	locMu    sync.Mutex
	locCache = make(map[string]*time.Location)
)

// lookupLocation caches LoadLocation results process-wide; the zoneinfo
// read is too slow for the per-packet path.
func lookupLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	locMu.Lock()
	defer locMu.Unlock()
	if loc, ok := locCache[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locCache[name] = loc
	return loc
}
