// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package services

import (
	"context"
	"time"

	"github.com/tomtom215/sailtrack/internal/track"
)

// sweepInterval is how often the midnight check runs. The sweep itself
// is idempotent per local date, so the interval only bounds how late
// after midnight the clear can happen.
const sweepInterval = time.Minute

// Maintenance clears each event's live positions shortly after its local
// midnight so every race day starts with an empty map.
type Maintenance struct {
	store *track.Store
}

// NewMaintenance creates the service.
func NewMaintenance(store *track.Store) *Maintenance {
	return &Maintenance{store: store}
}

// Serve implements suture.Service.
func (m *Maintenance) Serve(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.store.MidnightSweep()
		}
	}
}

func (m *Maintenance) String() string { return "midnight-maintenance" }
