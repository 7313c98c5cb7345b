// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package ingest

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startUDP runs a listener on an ephemeral port and returns its address.
func startUDP(t *testing.T, f *fixture) string {
	t.Helper()
	l := NewUDPListener("127.0.0.1:0", f.dispatcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Serve(ctx) //nolint:errcheck

	require.Eventually(t, func() bool { return l.conn != nil }, 2*time.Second, 10*time.Millisecond)
	return l.conn.LocalAddr().String()
}

func udpRoundTrip(t *testing.T, addr, payload string) *Ack {
	t.Helper()
	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck,gosec
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	var ack Ack
	require.NoError(t, json.Unmarshal(buf[:n], &ack))
	return &ack
}

func TestUDPRoundTrip(t *testing.T) {
	f := newFixture(t)
	addr := startUDP(t, f)

	ack := udpRoundTrip(t, addr, f.packetJSON("boat-9", 42, 1000, ""))
	assert.EqualValues(t, 42, ack.Ack)
	assert.Empty(t, ack.Error)
	assert.Equal(t, "Dispatch Cup", ack.Event)

	require.Eventually(t, func() bool {
		tr, err := f.store.Tracker(f.eid)
		if err != nil {
			return false
		}
		_, ok := tr.Positions()["boat-9"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUDPMalformedDroppedSilently(t *testing.T) {
	f := newFixture(t)
	addr := startUDP(t, f)

	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	for _, payload := range []string{`{not json`, `{"id":"x","sq":0}`} {
		_, err = conn.Write([]byte(payload))
		require.NoError(t, err)
	}

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond)) //nolint:errcheck,gosec
	buf := make([]byte, 2048)
	_, err = conn.Read(buf)
	require.Error(t, err, "undecodable datagrams get no reply")

	// the socket still answers valid packets afterwards
	ack := udpRoundTrip(t, addr, f.packetJSON("boat-2", 7, 1000, ""))
	assert.EqualValues(t, 7, ack.Ack)
}

func TestUDPAuthFailureNack(t *testing.T) {
	f := newFixture(t)
	addr := startUDP(t, f)

	payload := fmt.Sprintf(`{"id":"boat-1","sq":1,"ts":1000,"lat":1,"lon":1,"eid":%d,"pwd":"bad"}`, f.eid)
	ack := udpRoundTrip(t, addr, payload)
	assert.Equal(t, "auth", ack.Error)
}

func TestSourceLimiter(t *testing.T) {
	lim := NewSourceLimiter(nil)
	now := time.Unix(1700000000, 0)
	lim.now = func() time.Time { return now }

	allowed := 0
	for i := 0; i < sourceBurst*2; i++ {
		if lim.Allow("10.1.1.1") {
			allowed++
		}
	}
	assert.Equal(t, sourceBurst, allowed, "burst exhausted, flood cut off")

	// an independent source has its own bucket
	assert.True(t, lim.Allow("10.1.1.2"))
}

func TestSourceLimiterSweep(t *testing.T) {
	lim := NewSourceLimiter(nil)
	now := time.Unix(1700000000, 0)
	lim.now = func() time.Time { return now }

	for i := 0; i < limiterSweep+10; i++ {
		lim.Allow(fmt.Sprintf("10.%d.%d.%d", i/65536, (i/256)%256, i%256))
	}
	now = now.Add(limiterIdle + time.Minute)
	lim.Allow("fresh")

	lim.mu.Lock()
	size := len(lim.sources)
	lim.mu.Unlock()
	assert.Less(t, size, limiterSweep)
}

func TestSourceAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.1", sourceAddr("10.0.0.1:5000"))
	assert.Equal(t, "::1", sourceAddr("[::1]:5000"))
	assert.Equal(t, "http", sourceAddr("http"))
}
