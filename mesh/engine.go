// BSD 3-Clause License
//
// Copyright (c) 2020, Sperax
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// 1. Redistributions of source code must retain the above copyright notice, this
//    list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright notice,
//    this list of conditions and the following disclaimer in the documentation
//    and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package mesh

import (
	"context"
	"crypto/ed25519"
	"runtime"
	"sync"
	"time"

	"github.com/tascord/flesh/fragment"
	"github.com/tascord/flesh/identity"
	"github.com/tascord/flesh/wire"
)

const appStreamBuffer = 256
const errStreamBuffer = 32

// resolveWaitTimeout bounds how long Resolve blocks for a ProvideKey reply.
const resolveWaitTimeout = 10 * time.Second

// Engine is the routing state machine: it owns a Transport, a PeerTable,
// and this node's Identity, and turns inbound frames into either routing
// control side-effects or application-stream deliveries.
type Engine struct {
	*engineImpl
}

type engineImpl struct {
	self wire.PeerID
	cfg  Config

	transport Transport
	table     *PeerTable

	fragmenter   *fragment.Fragmenter
	reassembler  *fragment.Reassembler

	appStream chan wire.Message
	errStream chan RelayError

	stats atomicStats

	waitersMu sync.Mutex
	waiters   map[wire.PeerID][]chan ed25519.PublicKey

	die     chan struct{}
	dieOnce sync.Once
	wg      sync.WaitGroup
}

// NewEngine builds an Engine bound to transport, spawns its background
// goroutines, and returns it ready to Send/Stream. The node's own id is
// derived once and never changes for the engine's lifetime.
func NewEngine(transport Transport, cfg Config) (*Engine, error) {
	if transport == nil {
		return nil, ErrListenerNotSpecified
	}
	if err := Verify(&cfg); err != nil {
		return nil, err
	}

	impl := &engineImpl{
		self:        wire.NewPeerID(),
		cfg:         cfg,
		transport:   transport,
		table:       NewPeerTable(cfg.ResolutionTTL, cfg.Logger),
		fragmenter:  &fragment.Fragmenter{ChunkDelay: cfg.ChunkDelay},
		reassembler: fragment.NewReassembler(cfg.Logger),
		appStream:   make(chan wire.Message, appStreamBuffer),
		errStream:   make(chan RelayError, errStreamBuffer),
		waiters:     make(map[wire.PeerID][]chan ed25519.PublicKey),
		die:         make(chan struct{}),
	}
	impl.table.OnSuspiciousKeyChange(impl.stats.bumpSuspiciousKeyChange)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-impl.die
		cancel()
	}()

	impl.wg.Add(3)
	go impl.inboundLoop(ctx)
	go impl.announceLoop(ctx)
	go func() {
		defer impl.wg.Done()
		impl.reassembler.Run(ctx, fragment.DefaultGCInterval, fragment.DefaultMaxAge)
	}()

	wrapper := &Engine{engineImpl: impl}
	runtime.SetFinalizer(wrapper, func(w *Engine) {
		w.Close()
	})
	return wrapper, nil
}

// Self returns this node's own peer id.
func (e *engineImpl) Self() wire.PeerID { return e.self }

// Table exposes the peer table for read-only diagnostics (e.g. fleshnode peer table).
func (e *engineImpl) Table() *PeerTable { return e.table }

// Stream is the channel of application messages: anything whose status
// isn't routing control, or a routing-control message targeted at a peer
// other than us, or the inner payload of a Relay addressed to us.
func (e *engineImpl) Stream() <-chan wire.Message { return e.appStream }

// Errors is the channel of RelayFailure notifications addressed to us.
func (e *engineImpl) Errors() <-chan RelayError { return e.errStream }

// Stats returns a snapshot of the engine's diagnostic counters.
func (e *engineImpl) Stats() Stats { return e.stats.snapshot() }

// Close signals all background goroutines to stop. The transport is not
// closed; its owner closes it. Safe to call more than once.
func (e *engineImpl) Close() {
	e.dieOnce.Do(func() {
		close(e.die)
	})
}

// Send transmits an application message. A broadcast message (no Target)
// is signed and sent as-is. A unicast message is encrypted to the target's
// known key, signed, and either sent directly or wrapped in a Relay
// envelope depending on the peer table's current relation for the target.
// Returns ErrUnknownPeer if the target has no fresh peer-table entry.
func (e *engineImpl) Send(ctx context.Context, msg wire.Message) error {
	if msg.Target == nil {
		signed, err := identity.Sign(e.cfg.Identity, e.self, e.cfg.Codec, msg)
		if err != nil {
			return err
		}
		return e.transmit(ctx, signed)
	}

	target := *msg.Target
	relation, key, ok := e.table.Get(target)
	if !ok {
		return ErrUnknownPeer
	}

	if len(msg.Body) > 0 {
		encrypted, err := identity.Encrypt(msg, key)
		if err != nil {
			return err
		}
		msg = encrypted
	}

	signed, err := identity.Sign(e.cfg.Identity, e.self, e.cfg.Codec, msg)
	if err != nil {
		return err
	}

	switch relation.Kind {
	case RelationLocal:
		return e.transmit(ctx, signed)
	case RelationRelay:
		return e.sendViaRelay(ctx, target, relation.Via, signed)
	default:
		return ErrUnknownPeer
	}
}

// sendViaRelay wraps an already-signed message for target inside a Relay
// envelope addressed (at the wire level) to via, and transmits that.
func (e *engineImpl) sendViaRelay(ctx context.Context, target, via wire.PeerID, inner wire.Message) error {
	encodedInner, err := e.cfg.Codec.Encode(inner)
	if err != nil {
		return err
	}

	wrapped := wire.New(wire.StatusRelay).
		WithHeader("for", target[:]).
		WithTarget(via).
		WithBody(encodedInner)

	signed, err := identity.Sign(e.cfg.Identity, e.self, e.cfg.Codec, wrapped)
	if err != nil {
		return err
	}
	return e.transmit(ctx, signed)
}

// Resolve requests target's verifying key if not already known, and waits
// up to 10s for a ProvideKey reply. It never errors on timeout -- it just
// reports the id as unresolved.
func (e *engineImpl) Resolve(ctx context.Context, target wire.PeerID) (ed25519.PublicKey, bool) {
	if key, ok := e.table.Key(target); ok {
		return key, true
	}

	ch := make(chan ed25519.PublicKey, 1)
	e.addWaiter(target, ch)
	defer e.removeWaiter(target, ch)

	req := wire.New(wire.StatusRequestKey).WithHeader("for", target[:])
	if signed, err := identity.Sign(e.cfg.Identity, e.self, e.cfg.Codec, req); err == nil {
		_ = e.transmit(ctx, signed)
	}

	timer := time.NewTimer(resolveWaitTimeout)
	defer timer.Stop()

	select {
	case key := <-ch:
		return key, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	case <-e.die:
		return nil, false
	}
}

func (e *engineImpl) addWaiter(id wire.PeerID, ch chan ed25519.PublicKey) {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()
	e.waiters[id] = append(e.waiters[id], ch)
}

func (e *engineImpl) removeWaiter(id wire.PeerID, ch chan ed25519.PublicKey) {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()
	list := e.waiters[id]
	for i, c := range list {
		if c == ch {
			e.waiters[id] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(e.waiters[id]) == 0 {
		delete(e.waiters, id)
	}
}

func (e *engineImpl) notifyWaiters(id wire.PeerID, key ed25519.PublicKey) {
	e.waitersMu.Lock()
	list := e.waiters[id]
	delete(e.waiters, id)
	e.waitersMu.Unlock()

	for _, ch := range list {
		select {
		case ch <- key:
		default:
		}
	}
}

// transmit signs nothing -- callers sign first -- it encodes, fragments if
// necessary, and hands every resulting frame to the transport.
func (e *engineImpl) transmit(ctx context.Context, m wire.Message) error {
	select {
	case <-e.die:
		return ErrClosed
	default:
	}

	encoded, err := e.cfg.Codec.Encode(m)
	if err != nil {
		return err
	}
	frames := e.fragmenter.Split(encoded, e.transport.MaxFrame())
	return fragment.SendAll(ctx, frames, e.fragmenter.ChunkDelay, e.transport.Send)
}

// Announce immediately broadcasts Announce(self), instead of waiting for
// the next periodic tick.
func (e *engineImpl) Announce(ctx context.Context) error {
	msg := wire.New(wire.StatusAnnounce).WithHeader("self", e.self[:])
	signed, err := identity.Sign(e.cfg.Identity, e.self, e.cfg.Codec, msg)
	if err != nil {
		return err
	}
	return e.transmit(ctx, signed)
}

// announceLoop broadcasts Announce(self) on cfg.AnnounceInterval.
func (e *engineImpl) announceLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.die:
			return
		case <-ticker.C:
			if err := e.Announce(ctx); err != nil {
				e.cfg.Logger.Warnw("announce failed", "error", err)
			}
		}
	}
}

// inboundLoop pulls frames from the transport, reassembles them if split,
// and classifies the resulting message.
func (e *engineImpl) inboundLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-e.die:
			return
		default:
		}

		raw, err := e.transport.Recv(ctx)
		if err != nil {
			select {
			case <-e.die:
				return
			default:
			}
			e.cfg.Logger.Warnw("transport recv failed, retrying", "error", err)
			select {
			case <-time.After(time.Second):
			case <-e.die:
				return
			}
			continue
		}

		frame, err := fragment.DecodeFrame(raw)
		if err != nil {
			e.stats.bumpMalformed()
			continue
		}

		switch frame.Kind {
		case fragment.KindComplete:
			e.handlePayload(ctx, frame.Payload)
		case fragment.KindSplit:
			if payload, complete := e.reassembler.Accept(frame); complete {
				e.handlePayload(ctx, payload)
			}
		}
	}
}

func (e *engineImpl) handlePayload(ctx context.Context, raw []byte) {
	msg, err := e.cfg.Codec.Decode(raw)
	if err != nil {
		e.stats.bumpMalformed()
		return
	}
	e.classify(ctx, msg)
}

// classify routes a freshly decoded message to routing control handling or
// the application stream, discarding anything that looped back from self.
func (e *engineImpl) classify(ctx context.Context, msg wire.Message) {
	if msg.Sender != nil && *msg.Sender == e.self {
		return
	}

	if msg.Status.IsRoutingControl() && (msg.Target == nil || *msg.Target == e.self) {
		e.handleRouting(ctx, msg)
		return
	}

	e.deliver(ctx, msg)
}
