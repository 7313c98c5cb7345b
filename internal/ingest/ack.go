// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package ingest

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sailtrack/internal/packet"
)

// Ack is the reply to every tracker packet, sent over the same transport
// the packet arrived on. Duplicates and rejected packets get an ACK too,
// so trackers can drop their retry buffers.
type Ack struct {
	Ack int64 `json:"ack"`
	Ts  int64 `json:"ts"`

	// Event echoes the event name so trackers can display what they
	// joined. Only set in multi-event mode on success.
	Event string `json:"event,omitempty"`

	// Assist is set to false when the event has assist disabled, telling
	// the tracker UI to hide the assist button.
	Assist *bool `json:"assist,omitempty"`

	Error string `json:"error,omitempty"`
	Msg   string `json:"msg,omitempty"`
}

// Encode marshals the ACK. A marshal failure cannot happen for this
// shape; the fallback keeps the wire contract anyway.
func (a *Ack) Encode() []byte {
	data, err := json.Marshal(a)
	if err != nil {
		return []byte(`{"ack":0,"ts":0,"error":"io-error"}`)
	}
	return data
}

// rejectAck builds the negative ACK for a typed rejection.
func rejectAck(sq, ts int64, rerr *packet.Error) *Ack {
	return &Ack{
		Ack:   sq,
		Ts:    ts,
		Error: string(rerr.Reason),
		Msg:   rerr.Msg,
	}
}

// HTTPStatus maps an ACK to its HTTP status. Auth-class rejections are
// still 200: the ACK body carries the error and the tracker should stop
// retrying, not back off on transport errors.
func (a *Ack) HTTPStatus() int {
	switch packet.Reason(a.Error) {
	case "":
		return http.StatusOK
	case packet.ReasonMalformed:
		return http.StatusBadRequest
	case packet.ReasonPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case packet.ReasonRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}
