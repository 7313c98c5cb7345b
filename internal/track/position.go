// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Package track owns per-event live position state: the in-memory
// current-position map, the atomic snapshot file the web map polls, the
// daily JSONL track logs, and the per-event user overrides and course
// documents.
package track

import "github.com/tomtom215/sailtrack/internal/packet"

// Position is the live state of one tracker as served in the snapshot.
type Position struct {
	ID   string  `json:"id"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Ts   float64 `json:"ts"`
	Role string  `json:"role"`
	Name string  `json:"name,omitempty"`

	Bat float64 `json:"bat"`
	Hdg float64 `json:"hdg"`
	Spd float64 `json:"spd"`
	Sig int     `json:"sig"`
	HR  int     `json:"hr,omitempty"`
	Hac float64 `json:"hac,omitempty"`

	Ast     bool `json:"ast"`
	Stopped bool `json:"stopped,omitempty"`

	Bdr *float64 `json:"bdr,omitempty"`
	Chg *bool    `json:"chg,omitempty"`
	PS  *bool    `json:"ps,omitempty"`

	Ver string `json:"ver,omitempty"`
	OS  string `json:"os,omitempty"`

	// Recv is the server receive time, unix seconds.
	Recv int64 `json:"recv"`

	hidden bool
}

// Snapshot is the current-positions document written atomically and
// served to the map. Hidden trackers are excluded.
type Snapshot struct {
	Updated    int64                `json:"updated"`
	UpdatedISO string               `json:"updated_iso"`
	Sailors    map[string]*Position `json:"sailors"`
}

func positionFromPacket(p *packet.Packet, recv int64) *Position {
	return &Position{
		ID:      p.ID,
		Lat:     p.Lat,
		Lon:     p.Lon,
		Ts:      p.Ts,
		Role:    p.Role,
		Bat:     p.Bat,
		Hdg:     p.Hdg,
		Spd:     p.Spd,
		Sig:     p.Sig,
		HR:      p.HR,
		Hac:     p.Hac,
		Ast:     p.Ast,
		Stopped: p.Stopped,
		Bdr:     p.Bdr,
		Chg:     p.Chg,
		PS:      p.PS,
		Ver:     p.Ver,
		OS:      p.OS,
		Recv:    recv,
	}
}
