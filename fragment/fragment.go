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

// Package fragment splits oversized overlay payloads into numbered parts for
// narrow transports, and reassembles them on the receiving side.
package fragment

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PartID scopes the chunks of one fragmented message.
type PartID [16]byte

func newPartID() PartID {
	return PartID(uuid.New())
}

// String renders the PartID the way uuid.UUID would.
func (p PartID) String() string {
	return uuid.UUID(p).String()
}

// Kind distinguishes an unfragmented frame from a chunk of a split message.
type Kind byte

const (
	// KindComplete wraps a payload that fit under max_frame unmodified.
	KindComplete Kind = 0
	// KindSplit wraps one numbered chunk of an oversized payload.
	KindSplit Kind = 1
)

// Frame is the internal transport-level envelope: either a complete payload
// or one numbered chunk of a split one.
type Frame struct {
	Kind Kind

	// Payload is set when Kind == KindComplete.
	Payload []byte

	// PartID, Index, Total, Chunk are set when Kind == KindSplit.
	PartID PartID
	Index  uint16
	Total  uint16
	Chunk  []byte
}

// ErrMalformedFrame is returned by DecodeFrame for any parse failure.
var ErrMalformedFrame = fmt.Errorf("fragment: malformed frame")

// EncodeFrame serializes f into its on-wire byte form.
func EncodeFrame(f Frame) []byte {
	switch f.Kind {
	case KindComplete:
		out := make([]byte, 1+4+len(f.Payload))
		out[0] = byte(KindComplete)
		binary.LittleEndian.PutUint32(out[1:5], uint32(len(f.Payload)))
		copy(out[5:], f.Payload)
		return out
	case KindSplit:
		out := make([]byte, 1+16+2+2+4+len(f.Chunk))
		off := 0
		out[off] = byte(KindSplit)
		off++
		copy(out[off:], f.PartID[:])
		off += 16
		binary.LittleEndian.PutUint16(out[off:], f.Index)
		off += 2
		binary.LittleEndian.PutUint16(out[off:], f.Total)
		off += 2
		binary.LittleEndian.PutUint32(out[off:], uint32(len(f.Chunk)))
		off += 4
		copy(out[off:], f.Chunk)
		return out
	default:
		return nil
	}
}

// DecodeFrame parses the byte form produced by EncodeFrame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < 1 {
		return Frame{}, ErrMalformedFrame
	}

	switch Kind(b[0]) {
	case KindComplete:
		if len(b) < 5 {
			return Frame{}, ErrMalformedFrame
		}
		n := binary.LittleEndian.Uint32(b[1:5])
		if int(n) > len(b)-5 {
			return Frame{}, ErrMalformedFrame
		}
		payload := make([]byte, n)
		copy(payload, b[5:5+n])
		return Frame{Kind: KindComplete, Payload: payload}, nil

	case KindSplit:
		if len(b) < 1+16+2+2+4 {
			return Frame{}, ErrMalformedFrame
		}
		off := 1
		var partID PartID
		copy(partID[:], b[off:off+16])
		off += 16
		index := binary.LittleEndian.Uint16(b[off:])
		off += 2
		total := binary.LittleEndian.Uint16(b[off:])
		off += 2
		n := binary.LittleEndian.Uint32(b[off:])
		off += 4
		if int(n) > len(b)-off {
			return Frame{}, ErrMalformedFrame
		}
		chunk := make([]byte, n)
		copy(chunk, b[off:off+int(n)])
		return Frame{Kind: KindSplit, PartID: partID, Index: index, Total: total, Chunk: chunk}, nil

	default:
		return Frame{}, ErrMalformedFrame
	}
}

// reservedMetadataBytes is the per-chunk overhead reserved by Split, per the
// fixed budget in the routing spec (max_frame - 100 bytes of payload).
const reservedMetadataBytes = 100

// DefaultChunkDelay is the inter-chunk pause a zero-value Fragmenter does
// NOT get -- callers must go through NewFragmenter, or set ChunkDelay
// themselves, to get pacing. It exists as a named constant so mesh.Config
// and tests share one source of truth for "what 1s means here."
const DefaultChunkDelay = 1 * time.Second

// Fragmenter splits payloads that exceed a transport's max_frame.
type Fragmenter struct {
	// ChunkDelay is the pause between consecutive chunk sends, to respect a
	// duty-cycle-limited link and reduce collisions. The overlay's only
	// congestion control -- a zero value sends every chunk back-to-back,
	// which is only safe in tests against an in-memory transport.
	ChunkDelay time.Duration
}

// NewFragmenter returns a Fragmenter paced at DefaultChunkDelay.
func NewFragmenter() *Fragmenter {
	return &Fragmenter{ChunkDelay: DefaultChunkDelay}
}

// Split decides whether payload needs fragmenting for maxFrame, and returns
// the Frame(s) to transmit in order. A payload that already fits is wrapped
// as a single KindComplete frame.
func (fr *Fragmenter) Split(payload []byte, maxFrame int) []Frame {
	complete := Frame{Kind: KindComplete, Payload: payload}
	if len(EncodeFrame(complete)) <= maxFrame {
		return []Frame{complete}
	}

	chunkSize := maxFrame - reservedMetadataBytes
	if chunkSize <= 0 {
		chunkSize = 1
	}

	partID := newPartID()
	total := (len(payload) + chunkSize - 1) / chunkSize
	frames := make([]Frame, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		frames = append(frames, Frame{
			Kind:   KindSplit,
			PartID: partID,
			Index:  uint16(i),
			Total:  uint16(total),
			Chunk:  payload[start:end],
		})
	}
	return frames
}
