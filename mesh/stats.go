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
	"sync/atomic"

	"github.com/tascord/flesh/wire"
)

// RelayError is surfaced on Engine.Errors() when a RelayFailure message
// addressed to this node arrives off the wire.
type RelayError struct {
	Peer   wire.PeerID
	Reason string
}

// Stats are running counters of malformed/unverifiable traffic the engine
// has seen, for diagnostics. They are not persisted across restarts.
type Stats struct {
	Malformed            int64
	SignatureInvalid     int64
	SuspiciousKeyChanges int64
	DecryptFailures      int64
}

type atomicStats struct {
	malformed            int64
	signatureInvalid     int64
	suspiciousKeyChanges int64
	decryptFailures      int64
}

func (s *atomicStats) bumpMalformed()           { atomic.AddInt64(&s.malformed, 1) }
func (s *atomicStats) bumpSignatureInvalid()    { atomic.AddInt64(&s.signatureInvalid, 1) }
func (s *atomicStats) bumpSuspiciousKeyChange() { atomic.AddInt64(&s.suspiciousKeyChanges, 1) }
func (s *atomicStats) bumpDecryptFailure()      { atomic.AddInt64(&s.decryptFailures, 1) }

func (s *atomicStats) snapshot() Stats {
	return Stats{
		Malformed:            atomic.LoadInt64(&s.malformed),
		SignatureInvalid:     atomic.LoadInt64(&s.signatureInvalid),
		SuspiciousKeyChanges: atomic.LoadInt64(&s.suspiciousKeyChanges),
		DecryptFailures:      atomic.LoadInt64(&s.decryptFailures),
	}
}
