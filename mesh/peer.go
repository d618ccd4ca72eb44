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

// Package mesh implements the overlay's peer table and routing engine: the
// state machine that discovers peers, tracks their reachability, and routes
// unicast/broadcast messages across direct and relayed paths.
package mesh

import (
	"crypto/ed25519"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tascord/flesh/wire"
)

// ResolutionTTL is the default freshness window for a peer-table entry.
const ResolutionTTL = 5000 * time.Second

// Relation describes how this node believes it can reach a peer.
type Relation struct {
	// Kind is either RelationLocal or RelationRelay.
	Kind RelationKind
	// Via is the relay peer to wrap through, valid only when Kind == RelationRelay.
	Via wire.PeerID
}

// RelationKind distinguishes a direct relationship from a relayed one.
type RelationKind int

const (
	// RelationLocal means this node can reach the peer directly via the transport.
	RelationLocal RelationKind = iota
	// RelationRelay means reaching the peer requires wrapping through a third party.
	RelationRelay
)

// PeerEntry is one row of the peer table.
type PeerEntry struct {
	LastSeen time.Time
	Relation Relation
	Key      ed25519.PublicKey
}

func (e PeerEntry) fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.LastSeen) < ttl
}

// PeerTable is a thread-safe, process-lifetime mapping from peer id to its
// last known relationship and verifying key. There is no persistence: the
// table starts empty on every node start.
type PeerTable struct {
	mu  sync.RWMutex
	ttl time.Duration
	log *zap.SugaredLogger

	rows map[wire.PeerID]PeerEntry

	// now is overridable so tests can exercise TTL expiry without sleeping.
	now func() time.Time

	// onSuspiciousKeyChange, if set, is called whenever Announced sees a
	// known peer re-announce under a different key than the one on record.
	onSuspiciousKeyChange func()
}

// OnSuspiciousKeyChange registers fn to be invoked whenever Announced
// observes a key mismatch for an already-known peer, in addition to the
// warning it always logs. Replaces any previously registered hook. Engine
// uses this to drive Stats().SuspiciousKeyChanges.
func (t *PeerTable) OnSuspiciousKeyChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSuspiciousKeyChange = fn
}

// NewPeerTable creates an empty table with the given freshness TTL. A zero
// ttl defaults to ResolutionTTL.
func NewPeerTable(ttl time.Duration, log *zap.SugaredLogger) *PeerTable {
	if ttl <= 0 {
		ttl = ResolutionTTL
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &PeerTable{
		ttl:  ttl,
		log:  log,
		rows: make(map[wire.PeerID]PeerEntry),
		now:  time.Now,
	}
}

// Announced records that id announced itself with key. A brand new id is
// seeded stale -- not fresh -- so that a subsequent Ping/Pong or ProvideKey
// exchange is required before it is treated as reachable. An existing id
// has its last-seen time and key refreshed; a key change for a known id is
// recorded but logged as suspicious, since it may indicate impersonation.
func (t *PeerTable) Announced(id wire.PeerID, key ed25519.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.rows[id]
	if !ok {
		t.rows[id] = PeerEntry{
			// Stale by construction: we haven't verified reachability yet.
			LastSeen: t.now().Add(-t.ttl),
			Relation: Relation{Kind: RelationLocal},
			Key:      key,
		}
		return
	}

	if !existing.Key.Equal(key) {
		t.log.Warnw("mismatching key announced for known peer", "peer", id.String())
		if t.onSuspiciousKeyChange != nil {
			t.onSuspiciousKeyChange()
		}
	}

	existing.LastSeen = t.now()
	existing.Key = key
	t.rows[id] = existing
}

// Pong marks id as reachable directly (RelationLocal) and refreshes its
// freshness. No-op if id is unknown.
func (t *PeerTable) Pong(id wire.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.rows[id]
	if !ok {
		return
	}
	existing.LastSeen = t.now()
	existing.Relation = Relation{Kind: RelationLocal}
	t.rows[id] = existing
}

// Relayed records that id can be reached via the peer `via`. Upgrading an
// existing non-local entry to Relay is allowed. Downgrading a CONFIRMED
// local entry -- one made fresh by a Ping/Pong round trip -- is forbidden,
// Local wins. A row that is merely Local-by-default because it was seeded
// by Announced and never actually confirmed reachable carries no such
// guarantee and may still be corrected to Relay. An id that is not yet
// known cannot be relayed to, and the attempt is logged and ignored.
func (t *PeerTable) Relayed(id wire.PeerID, via wire.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.rows[id]
	if !ok {
		t.log.Warnw("relay offered for unknown peer", "peer", id.String(), "via", via.String())
		return
	}

	if existing.Relation.Kind == RelationLocal && existing.fresh(t.now(), t.ttl) {
		t.log.Debugw("not downgrading confirmed local relationship to relay", "peer", id.String())
		return
	}

	existing.Relation = Relation{Kind: RelationRelay, Via: via}
	existing.LastSeen = t.now()
	t.rows[id] = existing
}

// Knows reports whether id has a fresh entry.
func (t *PeerTable) Knows(id wire.PeerID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.rows[id]
	return ok && entry.fresh(t.now(), t.ttl)
}

// Key returns id's verifying key, only if the entry is fresh.
func (t *PeerTable) Key(id wire.PeerID) (ed25519.PublicKey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.rows[id]
	if !ok || !entry.fresh(t.now(), t.ttl) {
		return nil, false
	}
	return entry.Key, true
}

// CanRelay reports whether this node will offer to relay on behalf of id:
// true iff the entry is fresh and reachable directly.
func (t *PeerTable) CanRelay(id wire.PeerID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.rows[id]
	return ok && entry.fresh(t.now(), t.ttl) && entry.Relation.Kind == RelationLocal
}

// Get returns id's relation and key, only if the entry is fresh.
func (t *PeerTable) Get(id wire.PeerID) (Relation, ed25519.PublicKey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.rows[id]
	if !ok || !entry.fresh(t.now(), t.ttl) {
		return Relation{}, nil, false
	}
	return entry.Relation, entry.Key, true
}

// Len returns the number of rows currently tracked, fresh or not -- callers
// wanting only reachable peers should filter with Knows.
func (t *PeerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Snapshot returns a defensive copy of all rows, for diagnostics (e.g. the
// fleshnode peer table table).
func (t *PeerTable) Snapshot() map[wire.PeerID]PeerEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[wire.PeerID]PeerEntry, len(t.rows))
	for k, v := range t.rows {
		out[k] = v
	}
	return out
}
