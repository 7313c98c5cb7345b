// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/sailtrack/internal/logging"
	"github.com/tomtom215/sailtrack/internal/packet"
	"github.com/tomtom215/sailtrack/internal/track"

	"github.com/goccy/go-json"
)

// requireAdmin wraps a handler with per-event admin password auth. The
// eid is resolved first so the password is checked against the right
// event.
func (s *Server) requireAdmin(next func(http.ResponseWriter, *http.Request, int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eid, ok := s.eidFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "missing or invalid eid")
			return
		}
		if !s.registry.AuthenticateAdmin(eid, r.Header.Get(AdminPasswordHeader)) {
			writeError(w, http.StatusUnauthorized, "invalid admin password")
			return
		}
		next(w, r, eid)
	}
}

// requireAdminWrite additionally rejects archived events.
func (s *Server) requireAdminWrite(next func(http.ResponseWriter, *http.Request, int)) http.HandlerFunc {
	return s.requireAdmin(func(w http.ResponseWriter, r *http.Request, eid int) {
		if ev, ok := s.registry.Lookup(eid); ok && ev.Archived {
			writeError(w, http.StatusConflict, "archived_event")
			return
		}
		next(w, r, eid)
	})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, _ *http.Request, eid int) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "eid": eid})
}

func (s *Server) handleClearTracks(w http.ResponseWriter, r *http.Request, eid int) {
	if err := s.store.ClearTracks(eid); err != nil {
		logging.Ctx(r.Context()).Err(err).Int("eid", eid).Msg("clear tracks failed")
		writeError(w, http.StatusInternalServerError, "clear tracks failed")
		return
	}
	logging.Ctx(r.Context()).Info().Int("eid", eid).Msg("tracks cleared")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCourseSet(w http.ResponseWriter, r *http.Request, eid int) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, packet.MaxPayload))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if err := s.store.Course(eid).Set(raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCourseDelete(w http.ResponseWriter, r *http.Request, eid int) {
	if err := s.store.Course(eid).Delete(); err != nil {
		logging.Ctx(r.Context()).Err(err).Int("eid", eid).Msg("course delete failed")
		writeError(w, http.StatusInternalServerError, "course delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleUsersGet(w http.ResponseWriter, _ *http.Request, eid int) {
	writeJSON(w, http.StatusOK, map[string]any{"users": s.store.Users(eid).All()})
}

func (s *Server) handleUserSet(w http.ResponseWriter, r *http.Request, eid int) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > packet.MaxIDLen {
		writeError(w, http.StatusBadRequest, "invalid tracker id")
		return
	}

	var ov track.Override
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&ov); err != nil {
		writeError(w, http.StatusBadRequest, "invalid override document")
		return
	}
	if len(ov.Name) > packet.MaxStringLen || len(ov.Role) > packet.MaxRoleLen {
		writeError(w, http.StatusBadRequest, "override fields too long")
		return
	}

	if err := s.store.Users(eid).Set(id, ov); err != nil {
		writeError(w, http.StatusInternalServerError, "persist failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleUserDelete(w http.ResponseWriter, r *http.Request, eid int) {
	id := chi.URLParam(r, "id")
	if err := s.store.Users(eid).Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "persist failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
