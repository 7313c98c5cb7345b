// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tomtom215/sailtrack/internal/logging"
	"github.com/tomtom215/sailtrack/internal/packet"
)

// UDPListener reads datagrams, applies the per-source throttle, parses
// and enqueues. A single read goroutine owns the socket; replies go out
// through the same socket from the workers.
type UDPListener struct {
	addr       string
	dispatcher *Dispatcher
	limiter    *SourceLimiter

	conn *net.UDPConn
}

// NewUDPListener creates a listener for addr (":41234" style).
func NewUDPListener(addr string, d *Dispatcher, limiter *SourceLimiter) *UDPListener {
	return &UDPListener{addr: addr, dispatcher: d, limiter: limiter}
}

// Serve binds the socket and runs the read loop until ctx is cancelled.
// Implements suture.Service: a bind failure returns and lets the
// supervisor back off and retry.
func (l *UDPListener) Serve(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", l.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind udp %s: %w", l.addr, err)
	}
	l.conn = conn
	logging.Info().Str("addr", l.addr).Msg("UDP listener started")

	go func() {
		<-ctx.Done()
		conn.Close() //nolint:errcheck,gosec
	}()

	buf := make([]byte, packet.MaxPayload)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logging.Err(err).Msg("udp read error")
			continue
		}

		if l.limiter != nil && !l.limiter.Allow(raddr.IP.String()) {
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		l.handle(raw, raddr)
	}
}

func (l *UDPListener) handle(raw []byte, raddr *net.UDPAddr) {
	source := raddr.String()
	pkt, nack := l.dispatcher.Parse(raw, source, "udp")
	if nack != nil {
		// unparseable datagrams are dropped without a reply: there is no
		// sq to acknowledge and answering garbage invites amplification
		logging.Debug().Str("addr", source).Str("reason", nack.Error).Msg("dropping undecodable datagram")
		return
	}
	l.dispatcher.EnqueueUDP(pkt, func(ack *Ack) {
		l.reply(raddr, ack)
	})
}

func (l *UDPListener) reply(raddr *net.UDPAddr, ack *Ack) {
	l.conn.SetWriteDeadline(time.Now().Add(time.Second)) //nolint:errcheck,gosec
	if _, err := l.conn.WriteToUDP(ack.Encode(), raddr); err != nil {
		logging.Debug().Err(err).Str("addr", raddr.String()).Msg("ack write failed")
	}
}

func (l *UDPListener) String() string { return "udp-listener" }

// sourceAddr reduces an ip:port source to the IP, so the auth failure
// cache keys by host rather than ephemeral port. Non-address sources
// ("http") pass through unchanged.
func sourceAddr(source string) string {
	host, _, err := net.SplitHostPort(source)
	if err != nil {
		return source
	}
	return host
}

func eidLabel(eid int) string {
	return strconv.Itoa(eid)
}
