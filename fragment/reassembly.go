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

package fragment

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// DefaultGCInterval is how often Reassembler.Run sweeps for stalled parts.
const DefaultGCInterval = 60 * time.Second

// DefaultMaxAge is how long a partial reassembly may sit idle before GC
// evicts it.
const DefaultMaxAge = 300 * time.Second

type pendingReassembly struct {
	parts      map[uint16][]byte
	total      uint16
	lastUpdate time.Time
}

// Reassembler reconstructs fragmented payloads from Split frames, keyed by
// part-id, and garbage-collects reassemblies that stall.
type Reassembler struct {
	mu      sync.Mutex
	pending map[PartID]*pendingReassembly
	log     *zap.SugaredLogger

	// now is overridable so tests can exercise GC without sleeping.
	now func() time.Time
}

// NewReassembler creates an empty Reassembler.
func NewReassembler(log *zap.SugaredLogger) *Reassembler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reassembler{
		pending: make(map[PartID]*pendingReassembly),
		log:     log,
		now:     time.Now,
	}
}

// Accept ingests one Split frame. It returns the reassembled payload and
// true once every part for f.PartID has arrived; until then it returns
// (nil, false). Duplicate parts are idempotent.
func (r *Reassembler) Accept(f Frame) ([]byte, bool) {
	if f.Kind != KindSplit {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pending[f.PartID]
	if !ok {
		entry = &pendingReassembly{parts: make(map[uint16][]byte), total: f.Total}
		r.pending[f.PartID] = entry
	}

	entry.parts[f.Index] = f.Chunk
	entry.total = f.Total
	entry.lastUpdate = r.now()

	if uint16(len(entry.parts)) != entry.total {
		return nil, false
	}

	payload := make([]byte, 0, entry.total)
	for i := uint16(0); i < entry.total; i++ {
		chunk, ok := entry.parts[i]
		if !ok {
			// Should not happen given the length check above, but guards
			// against a pathological Total that undercounts duplicates.
			return nil, false
		}
		payload = append(payload, chunk...)
	}

	delete(r.pending, f.PartID)
	return payload, true
}

// GC evicts reassemblies whose lastUpdate is older than maxAge, and returns
// how many were evicted.
func (r *Reassembler) GC(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	evicted := 0
	for id, entry := range r.pending {
		if now.Sub(entry.lastUpdate) >= maxAge {
			delete(r.pending, id)
			evicted++
		}
	}
	return evicted
}

// Pending reports how many part-ids currently have an incomplete reassembly.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run sweeps for stale reassemblies every interval until ctx is cancelled.
func (r *Reassembler) Run(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.GC(maxAge); n > 0 {
				r.log.Debugw("evicted stalled reassemblies", "count", n)
			}
		}
	}
}

// SendAll transmits frames in order via send, pausing delay between each.
// Every failure is collected rather than aborting the stream early, so a
// caller sees every chunk that failed to go out, not just the first.
func SendAll(ctx context.Context, frames []Frame, delay time.Duration, send func(context.Context, []byte) error) error {
	var result *multierror.Error

	for i, f := range frames {
		if err := send(ctx, EncodeFrame(f)); err != nil {
			result = multierror.Append(result, err)
		}

		if i != len(frames)-1 {
			select {
			case <-ctx.Done():
				result = multierror.Append(result, ctx.Err())
				return result.ErrorOrNil()
			case <-time.After(delay):
			}
		}
	}

	return result.ErrorOrNil()
}
