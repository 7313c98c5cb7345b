// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Package packet parses and sanitizes incoming tracker packets. Parse is
// pure: no I/O, no clock, no shared state, so both transports and the
// tests exercise exactly the same normalization.
package packet

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/goccy/go-json"
)

// MaxPayload is the largest accepted packet, matching the UDP read buffer.
const MaxPayload = 64 * 1024

// Field limits applied during sanitization.
const (
	MaxIDLen     = 32
	MaxRoleLen   = 16
	MaxStringLen = 64
	MaxPosBatch  = 100
)

// DefaultRole is assigned when a packet carries no recognized role.
const DefaultRole = "sailor"

// PosEntry is one point of a batched track upload. Trackers buffer points
// while offline and flush them in a single packet. The wire form is a
// compact array, [ts, lat, lon] or [ts, lat, lon, spd].
type PosEntry struct {
	Ts  float64
	Lat float64
	Lon float64
	Spd float64 // knots
}

// UnmarshalJSON decodes the compact array form.
func (e *PosEntry) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) < 3 {
		return fmt.Errorf("pos entry needs [ts, lat, lon], got %d elements", len(arr))
	}
	e.Ts, e.Lat, e.Lon = arr[0], arr[1], arr[2]
	if len(arr) > 3 {
		e.Spd = arr[3]
	} else {
		e.Spd = 0
	}
	return nil
}

// MarshalJSON emits the compact array form.
func (e PosEntry) MarshalJSON() ([]byte, error) {
	if e.Spd != 0 {
		return json.Marshal([4]float64{e.Ts, e.Lat, e.Lon, e.Spd})
	}
	return json.Marshal([3]float64{e.Ts, e.Lat, e.Lon})
}

// Packet is a sanitized tracker packet. Numeric fields are clamped into
// their valid ranges rather than rejected; only structural problems
// (missing id, missing position, out-of-range coordinates) reject the
// whole packet.
type Packet struct {
	ID   string  `json:"id"`
	Sq   int64   `json:"sq"`
	Ts   float64 `json:"ts"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Role string  `json:"role"`

	Bat float64 `json:"bat"` // battery %, -1 = unknown
	Hdg float64 `json:"hdg"` // heading, degrees [0,360)
	Spd float64 `json:"spd"` // speed over ground, knots
	Sig int     `json:"sig"` // signal bars [-1,4]
	HR  int     `json:"hr"`  // heart rate, bpm
	Hac float64 `json:"hac"` // horizontal accuracy, m

	// Optional telemetry, carried only when the tracker sent it.
	Bdr *float64 `json:"bdr,omitempty"` // battery drain rate, %/hr
	Chg *bool    `json:"chg,omitempty"` // on charger
	PS  *bool    `json:"ps,omitempty"`  // power-save mode

	Ver string `json:"ver,omitempty"`
	OS  string `json:"os,omitempty"`
	Pwd string `json:"-"`

	EID       int  `json:"-"`
	Ast       bool `json:"ast"`     // assistance requested
	Stopped   bool `json:"stopped"` // tracker reports tracking stopped
	AuthCheck bool `json:"-"`       // credential probe, no state change

	// Pos holds the full batch when the packet carried one. The last
	// entry has already been promoted to Lat/Lon/Ts.
	Pos []PosEntry `json:"pos,omitempty"`

	// Source is the transport-level origin (ip:port or "http").
	Source string `json:"-"`
}

// rawPacket is the permissive wire shape before sanitization.
type rawPacket struct {
	ID        string     `json:"id"`
	Sq        int64      `json:"sq"`
	Ts        float64    `json:"ts"`
	Lat       *float64   `json:"lat"`
	Lon       *float64   `json:"lon"`
	Role      string     `json:"role"`
	Bat       *float64   `json:"bat"`
	Hdg       *float64   `json:"hdg"`
	Spd       *float64   `json:"spd"`
	Sig       *int       `json:"sig"`
	HR        *int       `json:"hr"`
	Hac       *float64   `json:"hac"`
	Bdr       *float64   `json:"bdr"`
	Chg       *bool      `json:"chg"`
	PS        *bool      `json:"ps"`
	Ver       string     `json:"ver"`
	OS        string     `json:"os"`
	Pwd       string     `json:"pwd"`
	EID       *int       `json:"eid"`
	Ast       bool       `json:"ast"`
	Stopped   bool       `json:"stopped"`
	AuthCheck bool       `json:"auth_check"`
	Pos       []PosEntry `json:"pos"`
}

// Parse decodes and sanitizes a raw packet. The returned error, when not
// nil, is always a *Error carrying the wire reason.
func Parse(raw []byte, source string) (*Packet, *Error) {
	if len(raw) > MaxPayload {
		return nil, Reject(ReasonPayloadTooLarge, "packet of %d bytes exceeds %d byte limit", len(raw), MaxPayload)
	}

	var in rawPacket
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, Reject(ReasonMalformed, "invalid JSON: %v", err)
	}

	id := sanitizeString(in.ID, MaxIDLen)
	if id == "" {
		return nil, Reject(ReasonMalformed, "missing tracker id")
	}
	if !printable(id) {
		return nil, Reject(ReasonMalformed, "tracker id contains non-printable characters")
	}
	if in.Sq <= 0 {
		return nil, Reject(ReasonMalformed, "missing or non-positive sq")
	}
	if in.Ts <= 0 {
		return nil, Reject(ReasonMalformed, "missing timestamp")
	}

	p := &Packet{
		ID:        id,
		Sq:        in.Sq,
		Ts:        in.Ts,
		Role:      sanitizeRole(in.Role),
		Bat:       clampBattery(in.Bat),
		Hdg:       clampHeading(in.Hdg),
		Spd:       clampFloat(in.Spd, 0, 100, 0),
		Sig:       clampInt(in.Sig, -1, 4, -1),
		HR:        clampInt(in.HR, 0, 300, 0),
		Hac:       clampFloat(in.Hac, 0, 10000, 0),
		Ver:       sanitizeString(in.Ver, MaxStringLen),
		OS:        sanitizeString(in.OS, MaxStringLen),
		Pwd:       sanitizeString(in.Pwd, MaxStringLen),
		Ast:       in.Ast,
		Stopped:   in.Stopped,
		AuthCheck: in.AuthCheck,
		Source:    source,
	}
	if in.Bdr != nil {
		v := clampFloat(in.Bdr, 0, 100, 0)
		p.Bdr = &v
	}
	p.Chg = in.Chg
	p.PS = in.PS
	if in.EID != nil && *in.EID > 0 {
		p.EID = *in.EID
	}

	if len(in.Pos) > 0 {
		batch, rerr := sanitizeBatch(in.Pos)
		if rerr != nil {
			return nil, rerr
		}
		p.Pos = batch
		last := batch[len(batch)-1]
		p.Lat, p.Lon = last.Lat, last.Lon
		if last.Ts > 0 {
			p.Ts = last.Ts
		}
		return p, nil
	}

	if p.AuthCheck && in.Lat == nil && in.Lon == nil {
		return p, nil
	}
	if in.Lat == nil || in.Lon == nil {
		return nil, Reject(ReasonMalformed, "missing position: need lat/lon or pos batch")
	}
	if !validCoords(*in.Lat, *in.Lon) {
		return nil, Reject(ReasonMalformed, "coordinates out of range: %v,%v", *in.Lat, *in.Lon)
	}
	p.Lat, p.Lon = *in.Lat, *in.Lon
	return p, nil
}

// sanitizeBatch caps the batch at MaxPosBatch (keeping the most recent
// entries) and validates every coordinate pair.
func sanitizeBatch(pos []PosEntry) ([]PosEntry, *Error) {
	if len(pos) > MaxPosBatch {
		pos = pos[len(pos)-MaxPosBatch:]
	}
	out := make([]PosEntry, 0, len(pos))
	for _, e := range pos {
		if !validCoords(e.Lat, e.Lon) {
			return nil, Reject(ReasonMalformed, "pos entry out of range: %v,%v", e.Lat, e.Lon)
		}
		if e.Ts < 0 {
			e.Ts = 0
		}
		e.Spd = clampFloat(&e.Spd, 0, 100, 0)
		out = append(out, e)
	}
	return out, nil
}

func validCoords(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 &&
		!math.IsNaN(lat) && !math.IsNaN(lon)
}

func sanitizeRole(role string) string {
	role = sanitizeString(role, MaxRoleLen)
	if role == "" {
		return DefaultRole
	}
	return strings.ToLower(role)
}

// sanitizeString strips HTML tags and angle brackets, trims whitespace and
// truncates to maxLen bytes on a rune boundary.
func sanitizeString(s string, maxLen int) string {
	s = stripTags(s)
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	for len(string(runes)) > maxLen {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}

// stripTags removes <...> spans and any stray angle brackets.
func stripTags(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func printable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func clampFloat(v *float64, lo, hi, def float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return def
	}
	if *v < lo {
		return lo
	}
	if *v > hi {
		return hi
	}
	return *v
}

func clampInt(v *int, lo, hi, def int) int {
	if v == nil {
		return def
	}
	if *v < lo {
		return lo
	}
	if *v > hi {
		return hi
	}
	return *v
}

// clampBattery keeps -1 as the "unknown" marker and clamps everything
// else into [0,100].
func clampBattery(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || *v == -1 {
		return -1
	}
	return clampFloat(v, 0, 100, -1)
}

// clampHeading normalizes a heading into [0,360).
func clampHeading(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return 0
	}
	h := math.Mod(*v, 360)
	if h < 0 {
		h += 360
	}
	return h
}
