// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package api

import (
	"io"
	"net/http"

	"github.com/tomtom215/sailtrack/internal/packet"
)

// handleTracker accepts the same JSON packets as the UDP port. The ACK
// that UDP would send back as a datagram is the response body here, so
// tracker firmware shares one packet builder for both transports.
func (s *Server) handleTracker(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, packet.MaxPayload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	pkt, nack := s.dispatcher.Parse(raw, clientSource(r), "http")
	if nack != nil {
		writeRaw(w, nack.HTTPStatus(), nack.Encode())
		return
	}
	ack := s.dispatcher.SubmitHTTP(r.Context(), pkt, "http")
	writeRaw(w, ack.HTTPStatus(), ack.Encode())
}

// clientSource returns the client address for the auth failure cache.
// RealIP middleware has already resolved proxy headers into RemoteAddr.
func clientSource(r *http.Request) string {
	return r.RemoteAddr
}
