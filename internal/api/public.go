// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sailtrack/internal/logging"
	"github.com/tomtom215/sailtrack/internal/websocket"
)

// handlePublicEvents lists joinable events without credentials.
func (s *Server) handlePublicEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": s.registry.PublicEvents()})
}

// handleCourseGet serves the event's course document.
func (s *Server) handleCourseGet(w http.ResponseWriter, r *http.Request) {
	eid, ok := s.eidFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid eid")
		return
	}
	if _, exists := s.registry.Lookup(eid); !exists {
		writeError(w, http.StatusNotFound, "unknown event")
		return
	}

	data, found, err := s.store.Course(eid).Get()
	if err != nil {
		logging.Ctx(r.Context()).Err(err).Int("eid", eid).Msg("course read failed")
		writeError(w, http.StatusInternalServerError, "course read failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no course set")
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// handleLive upgrades to a WebSocket and streams snapshot documents for
// one event. The current snapshot is pushed immediately so the map
// renders without waiting for the next position.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	eid, ok := s.eidFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid eid")
		return
	}
	if _, exists := s.registry.Lookup(eid); !exists {
		writeError(w, http.StatusNotFound, "unknown event")
		return
	}

	var initial []byte
	if tr, err := s.store.Tracker(eid); err == nil {
		if data, err := json.Marshal(tr.BuildSnapshot()); err == nil {
			initial = data
		}
	}
	websocket.Serve(s.hub, w, r, eid, initial)
}
