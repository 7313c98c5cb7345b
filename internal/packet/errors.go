// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package packet

import "fmt"

// Reason identifies why a packet was rejected. The string values are part
// of the wire protocol: they appear verbatim in the "error" field of
// negative ACKs.
type Reason string

const (
	ReasonMalformed       Reason = "malformed"
	ReasonAuth            Reason = "auth"
	ReasonRateLimited     Reason = "rate_limited"
	ReasonUnknownEvent    Reason = "unknown_event"
	ReasonArchivedEvent   Reason = "archived_event"
	ReasonIOError         Reason = "io-error"
	ReasonPayloadTooLarge Reason = "payload_too_large"
)

// Error is a typed packet rejection carrying the wire reason and a
// human-readable message for the ACK "msg" field.
type Error struct {
	Reason Reason
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

// Reject builds a typed rejection.
func Reject(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}
