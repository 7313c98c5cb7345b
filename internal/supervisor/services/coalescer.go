// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package services

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sailtrack/internal/logging"
	"github.com/tomtom215/sailtrack/internal/track"
	"github.com/tomtom215/sailtrack/internal/websocket"
)

// snapshotInterval bounds how stale the on-disk snapshot can be. Ingest
// only sets a dirty flag; disk writes happen here, once a second at
// most, no matter how fast packets arrive.
const snapshotInterval = time.Second

// Coalescer flushes dirty position state to the snapshot files and
// pushes the written documents to live WebSocket clients.
type Coalescer struct {
	store *track.Store
	hub   *websocket.Hub
}

// NewCoalescer creates the service. hub may be nil.
func NewCoalescer(store *track.Store, hub *websocket.Hub) *Coalescer {
	return &Coalescer{store: store, hub: hub}
}

// Serve implements suture.Service. On shutdown a final forced flush
// guarantees the snapshot reflects the last accepted packet.
func (c *Coalescer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flush(true)
			return ctx.Err()
		case <-ticker.C:
			c.flush(false)
		}
	}
}

func (c *Coalescer) flush(force bool) {
	written := c.store.FlushDirty(force)
	if c.hub == nil {
		return
	}
	for eid, snap := range written {
		data, err := json.Marshal(snap)
		if err != nil {
			logging.Err(err).Int("eid", eid).Msg("snapshot broadcast marshal failed")
			continue
		}
		c.hub.Broadcast(eid, data)
	}
}

func (c *Coalescer) String() string { return "snapshot-coalescer" }
