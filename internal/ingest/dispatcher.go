// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Package ingest is the packet pipeline shared by both transports:
// parse, authenticate, store, ACK. UDP datagrams and HTTP POST bodies
// converge on the same worker pool, so a tracker that switches transport
// mid-race still has its packets applied in order.
package ingest

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/tomtom215/sailtrack/internal/event"
	"github.com/tomtom215/sailtrack/internal/logging"
	"github.com/tomtom215/sailtrack/internal/metrics"
	"github.com/tomtom215/sailtrack/internal/packet"
	"github.com/tomtom215/sailtrack/internal/track"
)

// DefaultWorkers is the default pool size.
const DefaultWorkers = 8

// queueDepth bounds each worker's backlog. UDP jobs are dropped when the
// queue is full; HTTP jobs block the request instead.
const queueDepth = 256

// job is one packet travelling through the pool. reply is invoked with
// the encoded ACK: for UDP it writes back to the socket, for HTTP it
// hands the ACK to the waiting request handler.
type job struct {
	pkt       *packet.Packet
	transport string
	// preauth marks packets whose credentials were already checked by
	// the transport (OwnTracks Basic auth); tracker password auth is
	// skipped but event existence and archive state are still enforced.
	preauth bool
	reply   func(*Ack)
}

// Dispatcher routes packets through per-id-pinned workers.
type Dispatcher struct {
	registry *event.Registry
	store    *track.Store
	cache    *event.FailureCache
	metrics  *metrics.Metrics

	queues []chan job
	now    func() time.Time
}

// NewDispatcher creates the pipeline with the given pool size.
func NewDispatcher(registry *event.Registry, store *track.Store, m *metrics.Metrics, workers int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queues := make([]chan job, workers)
	for i := range queues {
		queues[i] = make(chan job, queueDepth)
	}
	return &Dispatcher{
		registry: registry,
		store:    store,
		cache:    event.NewFailureCache(),
		metrics:  m,
		queues:   queues,
		now:      time.Now,
	}
}

// Serve runs the worker pool until ctx is cancelled, then drains the
// queues so already-accepted packets are not lost. Implements
// suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	done := make(chan struct{}, len(d.queues))
	for _, q := range d.queues {
		go func(q chan job) {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					// drain what is already queued
					for {
						select {
						case j := <-q:
							j.reply(d.process(j.pkt, j.transport, j.preauth))
						default:
							return
						}
					}
				case j := <-q:
					j.reply(d.process(j.pkt, j.transport, j.preauth))
				}
			}
		}(q)
	}
	for range d.queues {
		<-done
	}
	return ctx.Err()
}

func (d *Dispatcher) String() string { return "ingest-dispatcher" }

// queueFor pins a tracker id to a worker so all its packets apply in
// arrival order.
func (d *Dispatcher) queueFor(id string) chan job {
	h := fnv.New32a()
	h.Write([]byte(id)) //nolint:errcheck,gosec
	return d.queues[h.Sum32()%uint32(len(d.queues))]
}

// Parse wraps packet.Parse with the received-packet metric.
func (d *Dispatcher) Parse(raw []byte, source, transport string) (*packet.Packet, *Ack) {
	if d.metrics != nil {
		d.metrics.PacketsReceived.WithLabelValues(transport).Inc()
	}
	pkt, rerr := packet.Parse(raw, source)
	if rerr != nil {
		if d.metrics != nil {
			d.metrics.PacketsRejected.WithLabelValues(transport, string(rerr.Reason)).Inc()
		}
		return nil, rejectAck(0, d.now().Unix(), rerr)
	}
	return pkt, nil
}

// EnqueueUDP hands a parsed packet to its worker, dropping it when the
// queue is full. The read loop must never block on a slow disk.
func (d *Dispatcher) EnqueueUDP(pkt *packet.Packet, reply func(*Ack)) {
	select {
	case d.queueFor(pkt.ID) <- job{pkt: pkt, transport: "udp", reply: reply}:
	default:
		if d.metrics != nil {
			d.metrics.QueueDrops.Inc()
		}
		logging.Warn().Str("id", pkt.ID).Msg("worker queue full, dropping packet")
	}
}

// SubmitHTTP runs a packet through its worker and waits for the ACK so
// the HTTP handler can return it in the response body. Blocking keeps
// HTTP packets ordered with UDP packets for the same tracker; the HTTP
// server's request timeout bounds the wait.
func (d *Dispatcher) SubmitHTTP(ctx context.Context, pkt *packet.Packet, transport string) *Ack {
	return d.submit(ctx, pkt, transport, false)
}

// SubmitPreauth is SubmitHTTP for packets whose transport already
// authenticated the sender.
func (d *Dispatcher) SubmitPreauth(ctx context.Context, pkt *packet.Packet, transport string) *Ack {
	return d.submit(ctx, pkt, transport, true)
}

func (d *Dispatcher) submit(ctx context.Context, pkt *packet.Packet, transport string, preauth bool) *Ack {
	result := make(chan *Ack, 1)
	j := job{pkt: pkt, transport: transport, preauth: preauth, reply: func(a *Ack) { result <- a }}

	select {
	case d.queueFor(pkt.ID) <- j:
	case <-ctx.Done():
		return rejectAck(pkt.Sq, d.now().Unix(),
			packet.Reject(packet.ReasonRateLimited, "server busy"))
	}

	select {
	case ack := <-result:
		return ack
	case <-ctx.Done():
		return rejectAck(pkt.Sq, d.now().Unix(),
			packet.Reject(packet.ReasonRateLimited, "server busy"))
	}
}

// process is the authoritative pipeline: auth, store, ACK.
func (d *Dispatcher) process(pkt *packet.Packet, transport string, preauth bool) *Ack {
	recv := d.now().Unix()

	if rerr := d.authenticate(pkt, preauth); rerr != nil {
		if d.metrics != nil {
			d.metrics.PacketsRejected.WithLabelValues(transport, string(rerr.Reason)).Inc()
			if rerr.Reason == packet.ReasonAuth {
				d.metrics.AuthFailures.WithLabelValues(eidLabel(pkt.EID)).Inc()
			}
		}
		return rejectAck(pkt.Sq, recv, rerr)
	}

	res, err := d.store.Accept(pkt)
	if err != nil {
		// the event vanished between auth and store (concurrent delete)
		if d.metrics != nil {
			d.metrics.PacketsRejected.WithLabelValues(transport, string(packet.ReasonUnknownEvent)).Inc()
		}
		return rejectAck(pkt.Sq, recv,
			packet.Reject(packet.ReasonUnknownEvent, "unknown event %d", pkt.EID))
	}

	if d.metrics != nil {
		if res.Duplicate {
			d.metrics.PacketsRejected.WithLabelValues(transport, "duplicate").Inc()
		} else {
			d.metrics.PacketsAccepted.WithLabelValues(transport).Inc()
		}
	}

	ack := &Ack{Ack: pkt.Sq, Ts: recv}
	if ev, ok := d.registry.Lookup(pkt.EID); ok {
		if d.registry.Multi() {
			ack.Event = ev.Name
		}
		if !ev.AssistEnabled {
			disabled := false
			ack.Assist = &disabled
		}
	}
	return ack
}

// authenticate enforces event existence and archive state, and for
// non-preauthenticated packets the tracker password with its failure
// cache.
func (d *Dispatcher) authenticate(pkt *packet.Packet, preauth bool) *packet.Error {
	if !preauth {
		return d.registry.AuthenticateTracker(d.cache, pkt.EID, pkt.Pwd, sourceAddr(pkt.Source))
	}
	ev, ok := d.registry.Lookup(pkt.EID)
	if !ok {
		return packet.Reject(packet.ReasonUnknownEvent, "unknown event %d", pkt.EID)
	}
	if ev.Archived {
		return packet.Reject(packet.ReasonArchivedEvent, "event %d is archived", pkt.EID)
	}
	return nil
}
