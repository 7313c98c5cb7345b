// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/sailtrack/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// clients only receive; inbound frames beyond pongs are protocol noise
	maxInboundSize = 512

	sendQueueSize = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the map front-end may be served from a different origin than the
	// tracking API, same as the permissive CORS policy on the REST routes
	CheckOrigin: func(*http.Request) bool { return true },
}

// Client is one live map connection subscribed to a single event.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	eid  int
	send chan []byte
}

// Serve upgrades the request and runs the client until it disconnects.
// initial, when non-nil, is sent first so the map renders immediately
// instead of waiting for the next snapshot flush.
func Serve(hub *Hub, w http.ResponseWriter, r *http.Request, eid int, initial []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		hub:  hub,
		conn: conn,
		eid:  eid,
		send: make(chan []byte, sendQueueSize),
	}
	if initial != nil {
		c.send <- initial
	}
	hub.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump drains inbound frames to keep pong handling alive and detects
// disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close() //nolint:errcheck,gosec
	}()
	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck,gosec
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards queued snapshots and keeps the connection alive with
// pings. Exits when the hub closes the send channel.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck,gosec
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck,gosec
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck,gosec
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck,gosec
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
