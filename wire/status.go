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

// Package wire implements the FLESH overlay wire format: the status
// taxonomy and the message codec (binary and line forms).
package wire

// Status is the single-octet status tag carried by every message.
type Status uint8

const (
	// StatusAnnounce [001] announces self to the network.
	StatusAnnounce Status = 1
	// StatusPing [002] requests local reachability.
	StatusPing Status = 2
	// StatusPong [003] answers a Ping.
	StatusPong Status = 3
	// StatusRequestKey [004] requests a peer's verifying key.
	StatusRequestKey Status = 4
	// StatusProvideKey [005] provides a peer's verifying key.
	StatusProvideKey Status = 5
	// StatusRequestRelay [006] requests relay capability for a peer.
	StatusRequestRelay Status = 6
	// StatusProvideRelay [007] answers a relay capability request.
	StatusProvideRelay Status = 7
	// StatusRelay [008] wraps a message destined for a third peer.
	StatusRelay Status = 8

	// StatusTooLarge [015] -- payload exceeded transport's max_frame (HTTP 413).
	StatusTooLarge Status = 15
	// StatusTimeout [016] -- no ack within timeframe (HTTP 522).
	StatusTimeout Status = 16
	// StatusRelayFailure [017] -- a relay could not be completed.
	StatusRelayFailure Status = 17

	// StatusEarlyHints [021] -- immediate hint for a long-running request (HTTP 103).
	StatusEarlyHints Status = 21
	// StatusRedirect [022] -- hint that a path is no longer valid (HTTP 300).
	StatusRedirect Status = 22

	// StatusAcknowledge [031] -- data received successfully (HTTP 200).
	StatusAcknowledge Status = 31
	// StatusNonAuthoritative [032] -- non authoritative information (HTTP 203).
	StatusNonAuthoritative Status = 32
	// StatusAlreadyReported [033] -- (HTTP 208).
	StatusAlreadyReported Status = 33

	// StatusUnprocessableEntity [041] -- failed to deserialize (HTTP 422).
	StatusUnprocessableEntity Status = 41
	// StatusUnauthorized [042] -- (HTTP 401).
	StatusUnauthorized Status = 42
	// StatusForbidden [043] -- (HTTP 403).
	StatusForbidden Status = 43
	// StatusNotFound [044] -- (HTTP 404).
	StatusNotFound Status = 44

	// StatusServerError [051] -- generic server-side failure (HTTP 500).
	StatusServerError Status = 51

	// StatusTeapot [255] -- I'm a teapot.
	StatusTeapot Status = 255
)

// StatusType is the band a Status belongs to.
type StatusType int

const (
	TypeRouting StatusType = iota
	TypeRoutingError
	TypeHints
	TypeOks
	TypeClientErrors
	TypeServerErrors
	TypeUnknown
)

// Type classifies s into its status band, per the fixed 001..254 ranges.
func (s Status) Type() StatusType {
	switch {
	case s >= 1 && s <= 14:
		return TypeRouting
	case s >= 15 && s <= 20:
		return TypeRoutingError
	case s >= 21 && s <= 30:
		return TypeHints
	case s >= 31 && s <= 40:
		return TypeOks
	case s >= 41 && s <= 50:
		return TypeClientErrors
	case s >= 51 && s <= 60:
		return TypeServerErrors
	case s == 255:
		return TypeOks // teapot is cheekily "ok" in source; carried as-is
	default:
		return TypeUnknown
	}
}

// IsOK reports whether s belongs to a success-shaped band: Routing, Hints, or Oks.
func (s Status) IsOK() bool {
	switch s.Type() {
	case TypeRouting, TypeHints, TypeOks:
		return true
	default:
		return false
	}
}

// IsRoutingControl reports whether s is one of the routing-control messages
// the Engine dispatches internally rather than surfacing to the application.
func (s Status) IsRoutingControl() bool {
	switch s {
	case StatusAnnounce, StatusPing, StatusPong, StatusRequestKey, StatusProvideKey,
		StatusRequestRelay, StatusProvideRelay, StatusRelay, StatusRelayFailure:
		return true
	default:
		return false
	}
}
