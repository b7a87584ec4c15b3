// relay.go - Sphinx header relay.
// Copyright (C) 2025  The Katzenpost Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package relay implements a Sphinx header relay: a pool of workers that
// process inbound headers with the relay key, reject replays, and hand the
// results to a Sink.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/sphinxheader/config"
	"github.com/katzenpost/sphinxheader/core/log"
	"github.com/katzenpost/sphinxheader/core/sphinx"
	"github.com/katzenpost/sphinxheader/core/sphinx/constants"
	"github.com/katzenpost/sphinxheader/core/worker"
	"github.com/katzenpost/sphinxheader/relay/instrument"
)

// ErrHalted is returned when a packet is submitted to a halted relay.
var ErrHalted = errors.New("relay: halted")

// Packet is an inbound header.
type Packet struct {
	// ID is an opaque identifier used for logging.
	ID uint64

	// Raw is the serialized header.
	Raw []byte
}

// Sink receives the headers a relay processed successfully.  Dropped
// headers never reach the sink.
type Sink interface {
	// Forward is called with the transformed header and the node it must
	// be sent to.
	Forward(pkt *Packet, nextHop [constants.NodeIDLength]byte, hdr []byte)

	// Deliver is called for headers terminating at this relay, with the
	// secret shared with the sender.  The sink owns the secret.
	Deliver(pkt *Packet, secret sphinx.SharedSecret)
}

// Relay processes Sphinx headers with a pool of workers.
type Relay struct {
	worker.Worker

	sphinx *sphinx.Sphinx
	key    *MixKey
	sink   Sink
	log    *logging.Logger

	inCh    chan *Packet
	pending sync.WaitGroup
	nextID  uint64
}

// OnPacket enqueues a header for processing, blocking while the queue is
// full.  The relay takes ownership of pkt.
func (r *Relay) OnPacket(pkt *Packet) error {
	if r.IsHalted() {
		return ErrHalted
	}
	r.pending.Add(1)
	select {
	case <-r.HaltCh():
		r.pending.Done()
		return ErrHalted
	case r.inCh <- pkt:
		instrument.IngressQueue(len(r.inCh))
		return nil
	}
}

// Submit enqueues a raw header, assigning it a fresh packet ID.
func (r *Relay) Submit(raw []byte) (uint64, error) {
	id := atomic.AddUint64(&r.nextID, 1)
	return id, r.OnPacket(&Packet{ID: id, Raw: raw})
}

func (r *Relay) worker(log *logging.Logger) {
	for {
		var pkt *Packet
		select {
		case <-r.HaltCh():
			log.Debugf("Terminating gracefully.")
			return
		case pkt = <-r.inCh:
		}
		r.process(log, pkt)
		r.pending.Done()
	}
}

// Flush blocks until every header enqueued so far has been processed, or
// the relay is halted.
func (r *Relay) Flush() {
	doneCh := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-r.HaltCh():
	}
}

func (r *Relay) process(log *logging.Logger, pkt *Packet) {
	log.Debugf("Attempting to process header: %v", pkt.ID)

	res, err := r.sphinx.ProcessHeader(r.key.PrivateKey(), pkt.Raw)
	if err != nil {
		// Dropped headers are never signalled to the sender.
		var rejectErr *sphinx.RejectError
		if errors.As(err, &rejectErr) {
			instrument.Dropped(rejectErr.State)
		}
		log.Debugf("Dropping header: %v (%v)", pkt.ID, err)
		return
	}

	isReplay, err := r.key.IsReplay(&res.ReplayTag)
	if err != nil {
		log.Errorf("Replay filter failure: %v", err)
	}
	if isReplay {
		res.Reset()
		instrument.Replayed()
		log.Debugf("Dropping header: %v (replay)", pkt.ID)
		return
	}

	switch res.State {
	case sphinx.StateForward:
		log.Debugf("Forwarding header: %v (next hop %x)", pkt.ID, res.NextHop[:8])
		instrument.Forwarded()
		r.sink.Forward(pkt, res.NextHop, res.Header)
	case sphinx.StateDeliverLocal:
		log.Debugf("Delivering header: %v", pkt.ID)
		instrument.Delivered()
		r.sink.Deliver(pkt, res.SharedSecret)
	default:
		panic(fmt.Sprintf("BUG: relay: unexpected state: %v", res.State))
	}
}

// New creates a relay and starts its workers.
func New(cfg *config.Relay, s *sphinx.Sphinx, key *MixKey, sink Sink, logBackend *log.Backend) *Relay {
	r := &Relay{
		sphinx: s,
		key:    key,
		sink:   sink,
		log:    logBackend.GetLogger("relay"),
		inCh:   make(chan *Packet, cfg.QueueLength),
	}

	id := key.NodeID()
	r.log.Noticef("Relay %v node ID: %x", cfg.Identifier, id[:])
	for i := 0; i < cfg.NumWorkers; i++ {
		l := logBackend.GetLogger(fmt.Sprintf("relay:%d", i))
		r.Go(func() {
			r.worker(l)
		})
	}
	return r
}
