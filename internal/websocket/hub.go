// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Package websocket pushes position snapshots to live map clients. Each
// client subscribes to one event; whenever the coalescer writes that
// event's snapshot, the same document is broadcast here.
package websocket

import (
	"context"
	"sync"

	"github.com/tomtom215/sailtrack/internal/logging"
	"github.com/tomtom215/sailtrack/internal/metrics"
)

// Hub fans snapshot documents out to subscribed clients. Run owns the
// client set; register, unregister and broadcast all go through channels
// so no lock is held while touching the network.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg

	mu      sync.RWMutex
	clients map[int]map[*Client]struct{}

	metrics *metrics.Metrics
}

type broadcastMsg struct {
	eid  int
	data []byte
}

// NewHub creates the hub. Pass nil metrics to skip instrumentation.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 64),
		clients:    make(map[int]map[*Client]struct{}),
		metrics:    m,
	}
}

// Serve processes hub events until ctx is cancelled, then closes every
// client. Implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.eid] == nil {
				h.clients[c.eid] = make(map[*Client]struct{})
			}
			h.clients[c.eid][c] = struct{}{}
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.WebsocketClients.Inc()
			}
			logging.Debug().Int("eid", c.eid).Msg("live client connected")

		case c := <-h.unregister:
			h.dropClient(c)

		case msg := <-h.broadcast:
			h.mu.RLock()
			subscribers := make([]*Client, 0, len(h.clients[msg.eid]))
			for c := range h.clients[msg.eid] {
				subscribers = append(subscribers, c)
			}
			h.mu.RUnlock()

			for _, c := range subscribers {
				select {
				case c.send <- msg.data:
				default:
					// a client that cannot keep up is dropped rather
					// than allowed to stall the broadcast
					logging.Warn().Int("eid", c.eid).Msg("dropping slow live client")
					h.dropClient(c)
				}
			}
		}
	}
}

// Broadcast queues a snapshot document for every client subscribed to
// eid. Never blocks; under backpressure the newest document wins because
// clients only care about the latest state.
func (h *Hub) Broadcast(eid int, data []byte) {
	select {
	case h.broadcast <- broadcastMsg{eid: eid, data: data}:
	default:
	}
}

// ClientCount returns the number of connected clients for eid.
func (h *Hub) ClientCount(eid int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[eid])
}

func (h *Hub) dropClient(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.eid]
	if ok {
		if _, present := set[c]; !present {
			ok = false
		}
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.eid)
		}
	}
	h.mu.Unlock()

	if ok {
		close(c.send)
		if h.metrics != nil {
			h.metrics.WebsocketClients.Dec()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for eid, set := range h.clients {
		for c := range set {
			close(c.send)
			if h.metrics != nil {
				h.metrics.WebsocketClients.Dec()
			}
		}
		delete(h.clients, eid)
	}
}

func (h *Hub) String() string { return "websocket-hub" }
