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

	"github.com/tascord/flesh/identity"
	"github.com/tascord/flesh/wire"
)

// handleRouting dispatches one routing-control message per the fixed
// status table: Announce, Ping, Pong, RequestKey, ProvideKey, RequestRelay,
// ProvideRelay, Relay, RelayFailure. None of these are signature-checked --
// routing control has to function before a peer's key is known at all
// (Announce/RequestKey/ProvideKey are exactly how that key becomes known),
// so trust here is necessarily first-use. See DESIGN.md for the resulting
// spoofing caveat, carried forward from the source design.
func (e *engineImpl) handleRouting(ctx context.Context, msg wire.Message) {
	switch msg.Status {
	case wire.StatusAnnounce:
		e.handleAnnounce(ctx, msg)
	case wire.StatusPing:
		e.handlePing(ctx, msg)
	case wire.StatusPong:
		e.handlePong(msg)
	case wire.StatusRequestKey:
		e.handleRequestKey(ctx, msg)
	case wire.StatusProvideKey:
		e.handleProvideKey(msg)
	case wire.StatusRequestRelay:
		e.handleRequestRelay(ctx, msg)
	case wire.StatusProvideRelay:
		e.handleProvideRelay(msg)
	case wire.StatusRelay:
		e.handleRelay(ctx, msg)
	case wire.StatusRelayFailure:
		e.handleRelayFailure(msg)
	}
}

func (e *engineImpl) handleAnnounce(ctx context.Context, msg wire.Message) {
	id, ok := peerIDFromHeader(msg, "self")
	if !ok {
		e.stats.bumpMalformed()
		return
	}
	if e.table.Knows(id) {
		return
	}

	req := wire.New(wire.StatusRequestKey).WithHeader("for", id[:])
	e.replyRouting(ctx, req)
}

func (e *engineImpl) handlePing(ctx context.Context, msg wire.Message) {
	to, ok := peerIDFromHeader(msg, "to")
	if !ok || to != e.self {
		return
	}
	from, ok := peerIDFromHeader(msg, "from")
	if !ok {
		e.stats.bumpMalformed()
		return
	}

	pong := wire.New(wire.StatusPong).
		WithHeader("to", from[:]).
		WithHeader("from", e.self[:])
	e.replyRouting(ctx, pong)
}

func (e *engineImpl) handlePong(msg wire.Message) {
	to, ok := peerIDFromHeader(msg, "to")
	if !ok || to != e.self {
		return
	}
	from, ok := peerIDFromHeader(msg, "from")
	if !ok {
		e.stats.bumpMalformed()
		return
	}
	e.table.Pong(from)
}

func (e *engineImpl) handleRequestKey(ctx context.Context, msg wire.Message) {
	for_, ok := peerIDFromHeader(msg, "for")
	if !ok {
		e.stats.bumpMalformed()
		return
	}

	var key ed25519.PublicKey
	switch {
	case for_ == e.self:
		key = e.cfg.Identity.Verifying
	default:
		k, known := e.table.Key(for_)
		if !known {
			return
		}
		key = k
	}

	reply := wire.New(wire.StatusProvideKey).
		WithHeader("for", for_[:]).
		WithBody(key)
	e.replyRouting(ctx, reply)
}

func (e *engineImpl) handleProvideKey(msg wire.Message) {
	for_, ok := peerIDFromHeader(msg, "for")
	if !ok {
		e.stats.bumpMalformed()
		return
	}
	if len(msg.Body) != ed25519.PublicKeySize {
		e.stats.bumpMalformed()
		return
	}
	key := ed25519.PublicKey(append([]byte(nil), msg.Body...))
	e.table.Announced(for_, key)
	e.notifyWaiters(for_, key)
}

func (e *engineImpl) handleRequestRelay(ctx context.Context, msg wire.Message) {
	for_, ok := peerIDFromHeader(msg, "for")
	if !ok {
		e.stats.bumpMalformed()
		return
	}
	if !e.table.CanRelay(for_) {
		// Silence is the negative answer -- no ProvideRelay(false) is ever sent.
		return
	}

	reply := wire.New(wire.StatusProvideRelay).
		WithHeader("from", e.self[:]).
		WithHeader("to", for_[:]).
		WithHeader("status", []byte("true"))
	e.replyRouting(ctx, reply)
}

func (e *engineImpl) handleProvideRelay(msg wire.Message) {
	from, ok := peerIDFromHeader(msg, "from")
	if !ok {
		e.stats.bumpMalformed()
		return
	}
	to, ok := peerIDFromHeader(msg, "to")
	if !ok {
		e.stats.bumpMalformed()
		return
	}
	status, _ := msg.Headers.GetString("status")
	if status != "true" {
		return
	}
	e.table.Relayed(to, from)
}

// handleRelay unwraps a Relay envelope that reached us at the wire level
// (its Target equals our own id -- that is how it physically arrived) and
// re-enters the inner message through classification as if freshly
// received. The engine does not forward it onward to the envelope's
// declared final peer on its own: any further hop is an application-level
// decision, same as for a message that terminates locally.
func (e *engineImpl) handleRelay(ctx context.Context, msg wire.Message) {
	inner, err := e.cfg.Codec.Decode(msg.Body)
	if err != nil {
		e.stats.bumpMalformed()
		return
	}
	e.classify(ctx, inner)
}

func (e *engineImpl) handleRelayFailure(msg wire.Message) {
	for_, ok := peerIDFromHeader(msg, "for")
	if !ok || for_ != e.self {
		return
	}
	relayErr := RelayError{Peer: for_, Reason: string(msg.Body)}
	select {
	case e.errStream <- relayErr:
	default:
		e.cfg.Logger.Warnw("dropping relay failure, error stream full", "peer", for_.String())
	}
}

// replyRouting signs and transmits an engine-generated routing control
// reply. These are broadcast (no Target) unless the caller already set one.
func (e *engineImpl) replyRouting(ctx context.Context, msg wire.Message) {
	signed, err := identity.Sign(e.cfg.Identity, e.self, e.cfg.Codec, msg)
	if err != nil {
		e.cfg.Logger.Warnw("failed to sign routing reply", "status", msg.Status, "error", err)
		return
	}
	if err := e.transmit(ctx, signed); err != nil {
		e.cfg.Logger.Warnw("routing reply send failed", "status", msg.Status, "error", err)
	}
}

// deliver handles a non-routing-control message: verify against the
// sender's known key, decrypt if it's addressed to us and carries
// encryption headers, then push it onto the application stream. Anything
// that fails verification is dropped silently, per spec -- a dropped
// signature failure is never surfaced as an error to the application.
func (e *engineImpl) deliver(ctx context.Context, msg wire.Message) {
	if msg.Sender != nil {
		key, known := e.table.Key(*msg.Sender)
		if !known {
			e.cfg.Logger.Debugw("dropping message from unresolved sender", "sender", msg.Sender.String())
			return
		}
		if err := identity.Verify(e.cfg.Codec, msg, key); err != nil {
			e.stats.bumpSignatureInvalid()
			e.cfg.Logger.Debugw("dropping message with invalid signature", "sender", msg.Sender.String())
			return
		}
	} else if len(msg.Signature) > 0 {
		return
	}

	if msg.Target != nil && *msg.Target == e.self {
		if _, hasKey := msg.Headers.Get("ephemeral_key"); hasKey {
			opened, err := identity.Decrypt(e.cfg.Identity, msg)
			if err != nil {
				e.stats.bumpDecryptFailure()
				e.cfg.Logger.Debugw("dropping message, decrypt failed", "error", err)
				return
			}
			msg = opened
		}
	}

	select {
	case e.appStream <- msg:
	case <-ctx.Done():
	default:
		e.cfg.Logger.Warnw("dropping application message, stream full", "status", msg.Status)
	}
}

// peerIDFromHeader reads a 16-byte PeerID out of a header value.
func peerIDFromHeader(msg wire.Message, name string) (wire.PeerID, bool) {
	raw, ok := msg.Headers.Get(name)
	if !ok || len(raw) != 16 {
		return wire.PeerID{}, false
	}
	var id wire.PeerID
	copy(id[:], raw)
	return id, true
}
