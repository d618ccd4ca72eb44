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

package wire

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the wire version stamped on every outgoing message,
// derived from the major version of this implementation.
const ProtocolVersion uint16 = 1

// PeerID is an opaque 128-bit node identifier. It carries no structural
// meaning and is not derivable from a verifying key.
type PeerID [16]byte

// NewPeerID generates a PeerID uniformly at random.
func NewPeerID() PeerID {
	return PeerID(uuid.New())
}

// String renders the PeerID the way uuid.UUID would.
func (p PeerID) String() string {
	return uuid.UUID(p).String()
}

// IsZero reports whether p is the zero-value id.
func (p PeerID) IsZero() bool {
	return p == PeerID{}
}

// Headers is an ordered-by-name-on-encode, case-insensitive-lookup mapping
// from header name to raw value bytes.
type Headers map[string][]byte

// normalizeHeaderName lowercases a header name; ASCII-only, per spec.
func normalizeHeaderName(name string) string {
	return strings.ToLower(name)
}

// Set stores value under name (case-insensitive).
func (h Headers) Set(name string, value []byte) {
	h[normalizeHeaderName(name)] = value
}

// SetString is a convenience wrapper for string-valued headers.
func (h Headers) SetString(name, value string) {
	h.Set(name, []byte(value))
}

// Get looks up a header by name, case-insensitively.
func (h Headers) Get(name string) ([]byte, bool) {
	v, ok := h[normalizeHeaderName(name)]
	return v, ok
}

// GetString is a convenience wrapper around Get for textual values.
func (h Headers) GetString(name string) (string, bool) {
	v, ok := h.Get(name)
	if !ok {
		return "", false
	}
	return string(v), true
}

// Delete removes a header by name, case-insensitively.
func (h Headers) Delete(name string) {
	delete(h, normalizeHeaderName(name))
}

// sortedNames returns header names in ascending order, the order required
// for deterministic serialization.
func (h Headers) sortedNames() []string {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of h.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Message is the envelope carried over the overlay: headers, body, optional
// target/sender, and an optional signature over the canonical unsigned form.
type Message struct {
	Version   uint16
	Status    Status
	Target    *PeerID
	Sender    *PeerID
	Timestamp uint64
	Headers   Headers
	Body      []byte
	Signature []byte
}

// New creates a Message with the current protocol version and timestamp,
// an empty header set, and no target/sender/signature.
func New(status Status) Message {
	return Message{
		Version:   ProtocolVersion,
		Status:    status,
		Timestamp: uint64(time.Now().Unix()),
		Headers:   make(Headers),
	}
}

// WithTarget sets the target peer and returns m for chaining.
func (m Message) WithTarget(id PeerID) Message {
	m.Target = &id
	return m
}

// WithSender sets the sender peer and returns m for chaining.
func (m Message) WithSender(id PeerID) Message {
	m.Sender = &id
	return m
}

// WithHeader sets a header and returns m for chaining.
func (m Message) WithHeader(name string, value []byte) Message {
	if m.Headers == nil {
		m.Headers = make(Headers)
	}
	m.Headers.Set(name, value)
	return m
}

// WithBody sets the body and returns m for chaining.
func (m Message) WithBody(body []byte) Message {
	m.Body = body
	return m
}

// IsBroadcast reports whether m carries no target, i.e. is addressed to
// every receiver on the medium.
func (m Message) IsBroadcast() bool {
	return m.Target == nil
}

// unsigned returns a copy of m with Signature cleared -- the canonical form
// over which signatures are computed and verified.
func (m Message) unsigned() Message {
	cp := m
	cp.Signature = nil
	cp.Headers = m.Headers.Clone()
	cp.Body = append([]byte(nil), m.Body...)
	return cp
}
