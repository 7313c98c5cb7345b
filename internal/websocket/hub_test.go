// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/sailtrack/internal/metrics"
)

func dialHub(t *testing.T, hub *Hub, eid int, initial []byte) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(hub, w, r, eid, initial)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, eid, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.ClientCount(eid) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastReachesSubscribers(t *testing.T) {
	hub := NewHub(metrics.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Serve(ctx) //nolint:errcheck

	conn := dialHub(t, hub, 1, nil)
	waitForClients(t, hub, 1, 1)

	hub.Broadcast(1, []byte(`{"sailors":{}}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck,gosec
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"sailors":{}}`, string(msg))
}

func TestHubScopesBroadcastToEvent(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Serve(ctx) //nolint:errcheck

	connA := dialHub(t, hub, 1, nil)
	connB := dialHub(t, hub, 2, nil)
	waitForClients(t, hub, 1, 1)
	waitForClients(t, hub, 2, 1)

	hub.Broadcast(2, []byte(`{"for":"two"}`))

	connB.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck,gosec
	_, msg, err := connB.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "two")

	connA.SetReadDeadline(time.Now().Add(200 * time.Millisecond)) //nolint:errcheck,gosec
	_, _, err = connA.ReadMessage()
	assert.Error(t, err, "event 1 client must not receive event 2 documents")
}

func TestHubSendsInitialSnapshot(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Serve(ctx) //nolint:errcheck

	conn := dialHub(t, hub, 1, []byte(`{"initial":true}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck,gosec
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "initial")
}

func TestHubClientDisconnectCleansUp(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Serve(ctx) //nolint:errcheck

	conn := dialHub(t, hub, 1, nil)
	waitForClients(t, hub, 1, 1)

	conn.Close()
	waitForClients(t, hub, 1, 0)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Serve(ctx) //nolint:errcheck

	conn := dialHub(t, hub, 1, nil)
	waitForClients(t, hub, 1, 1)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck,gosec
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestBroadcastNeverBlocksWithoutSubscribers(t *testing.T) {
	hub := NewHub(nil)
	// no Run loop draining: fill the channel past capacity
	for i := 0; i < 200; i++ {
		hub.Broadcast(1, []byte("x"))
	}
}
