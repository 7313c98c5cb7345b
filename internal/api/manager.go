// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/sailtrack/internal/event"
	"github.com/tomtom215/sailtrack/internal/logging"
	"github.com/tomtom215/sailtrack/internal/validation"
)

// requireManager wraps a handler with the management password check.
// The manager API only exists in multi-event mode.
func (s *Server) requireManager(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.registry.Multi() {
			writeError(w, http.StatusNotFound, "event management disabled")
			return
		}
		if !s.registry.AuthenticateManager(r.Header.Get(ManagerPasswordHeader)) {
			writeError(w, http.StatusUnauthorized, "invalid manager password")
			return
		}
		next(w, r)
	}
}

// managerEvent is the full event view served to the manager, including
// credentials, so the UI can edit them.
type managerEvent struct {
	EID int `json:"eid"`
	event.Event
}

func (s *Server) handleManagerList(w http.ResponseWriter, _ *http.Request) {
	events := s.registry.AllEvents()
	out := make([]managerEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, managerEvent{EID: ev.EID, Event: ev})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// createEventRequest is the manager create payload.
type createEventRequest struct {
	Name              string  `json:"name" validate:"required,max=128"`
	Description       string  `json:"description" validate:"max=1024"`
	AdminPassword     string  `json:"admin_password" validate:"max=64"`
	TrackerPassword   string  `json:"tracker_password" validate:"max=64"`
	OwnTracksPassword string  `json:"owntracks_password" validate:"max=64"`
	AssistEnabled     bool    `json:"assist_enabled"`
	Timezone          string  `json:"timezone" validate:"max=64"`
	HomeLocation      string  `json:"home_location" validate:"max=128"`
	HomeLat           float64 `json:"home_lat" validate:"min=-90,max=90"`
	HomeLon           float64 `json:"home_lon" validate:"min=-180,max=180"`
}

func (s *Server) handleManagerCreate(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	eid, err := s.registry.Create(event.Event{
		Name:              req.Name,
		Description:       req.Description,
		AdminPassword:     req.AdminPassword,
		TrackerPassword:   req.TrackerPassword,
		OwnTracksPassword: req.OwnTracksPassword,
		AssistEnabled:     req.AssistEnabled,
		Timezone:          req.Timezone,
		HomeLocation:      req.HomeLocation,
		HomeLat:           req.HomeLat,
		HomeLon:           req.HomeLon,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logging.Ctx(r.Context()).Info().Int("eid", eid).Str("name", req.Name).Msg("event created")
	writeJSON(w, http.StatusCreated, map[string]any{"eid": eid})
}

func (s *Server) handleManagerUpdate(w http.ResponseWriter, r *http.Request) {
	eid, ok := eidParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid eid")
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.registry.UpdateFields(eid, fields); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleManagerDelete(w http.ResponseWriter, r *http.Request) {
	eid, ok := eidParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid eid")
		return
	}

	// registry first, then the store drops the data directory; packets
	// racing this delete get an unknown_event ack
	if err := s.registry.Delete(eid); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := s.store.DropEvent(eid); err != nil {
		logging.Ctx(r.Context()).Err(err).Int("eid", eid).Msg("event data removal failed")
		writeError(w, http.StatusInternalServerError, "event deleted, data removal failed")
		return
	}
	logging.Ctx(r.Context()).Info().Int("eid", eid).Msg("event deleted")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func eidParam(r *http.Request) (int, bool) {
	eid, err := strconv.Atoi(chi.URLParam(r, "eid"))
	if err != nil || eid <= 0 {
		return 0, false
	}
	return eid, true
}
