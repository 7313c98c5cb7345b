// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sailtrack/internal/logging"
	"github.com/tomtom215/sailtrack/internal/packet"
	"github.com/tomtom215/sailtrack/internal/track"
)

// otLocation is the OwnTracks location payload. Fields the server does
// not use are ignored.
type otLocation struct {
	Type  string  `json:"_type"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Tst   float64 `json:"tst"`
	Batt  float64 `json:"batt"`
	Vel   float64 `json:"vel"` // km/h
	Cog   float64 `json:"cog"`
	Acc   float64 `json:"acc"`
	Topic string  `json:"topic"`
}

// handleOwnTracks adapts the OwnTracks HTTP mode to the tracker
// pipeline. Auth is HTTP Basic: the username becomes the tracker id
// (prefixed OT- so phones can never impersonate race hardware), the
// password is the event's owntracks password, falling back to its admin
// password. The response is an empty JSON array, the reply shape
// OwnTracks clients expect.
func (s *Server) handleOwnTracks(w http.ResponseWriter, r *http.Request) {
	eid, ok := s.eidFromRequest(r)
	if !ok {
		// phones rarely get a query parameter configured; fall back to
		// the default OwnTracks event when one is set
		if s.owntracksEID > 0 && r.URL.Query().Get("eid") == "" {
			eid = s.owntracksEID
		} else {
			writeError(w, http.StatusBadRequest, "missing or invalid eid")
			return
		}
	}

	user, pass, ok := r.BasicAuth()
	if !ok || user == "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="sailtrack"`)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !s.registry.AuthenticateOwnTracks(eid, pass) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, packet.MaxPayload+1))
	if err != nil || len(raw) > packet.MaxPayload {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	var loc otLocation
	if err := json.Unmarshal(raw, &loc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if loc.Type != "location" {
		// status, waypoint and friends are acknowledged and discarded
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	if loc.Tst <= 0 || loc.Lat < -90 || loc.Lat > 90 || loc.Lon < -180 || loc.Lon > 180 {
		writeError(w, http.StatusBadRequest, "invalid location")
		return
	}

	id := "OT-" + sanitizeOTUser(user)

	// record the device name as display override on first contact; a
	// failed write does not block the position
	if name := topicDevice(loc.Topic); name != "" {
		if err := s.store.Users(eid).SetIfAbsent(id, track.Override{Name: name}); err != nil {
			logging.Ctx(r.Context()).Err(err).Str("id", id).Msg("owntracks override write failed")
		}
	}

	pkt := &packet.Packet{
		ID:   id,
		Sq:   int64(loc.Tst),
		Ts:   loc.Tst,
		Lat:  loc.Lat,
		Lon:  loc.Lon,
		Role: packet.DefaultRole,
		Bat:  clampOT(loc.Batt, 0, 100, -1),
		Spd:  clampOT(loc.Vel/1.852, 0, 100, 0), // km/h to knots
		Hdg:  clampOT(loc.Cog, 0, 360, 0),
		Hac:  clampOT(loc.Acc, 0, 10000, 0),
		Sig:  -1,
		HR:   0,
		EID:  eid,
	}
	pkt.Source = clientSource(r)

	ack := s.dispatcher.SubmitPreauth(r.Context(), pkt, "owntracks")
	if ack.Error != "" {
		writeError(w, ack.HTTPStatus(), ack.Error)
		return
	}
	writeJSON(w, http.StatusOK, []any{})
}

// sanitizeOTUser keeps the Basic auth username within tracker id rules.
func sanitizeOTUser(user string) string {
	user = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, user)
	max := packet.MaxIDLen - len("OT-")
	if len(user) > max {
		user = user[:max]
	}
	return user
}

// topicDevice extracts the device name from an owntracks/<user>/<device>
// topic.
func topicDevice(topic string) string {
	if topic == "" {
		return ""
	}
	parts := strings.Split(topic, "/")
	return parts[len(parts)-1]
}

func clampOT(v, lo, hi, def float64) float64 {
	if v == 0 && def != 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
