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
	"time"

	"go.uber.org/zap"

	"github.com/tascord/flesh/fragment"
	"github.com/tascord/flesh/identity"
	"github.com/tascord/flesh/wire"
)

// Config configures an Engine's timing, codec, and identity. Zero-value
// durations are replaced by their documented defaults in Verify.
type Config struct {
	// ResolutionTTL is the freshness window for peer-table entries.
	// Defaults to ResolutionTTL (5000s) if zero.
	ResolutionTTL time.Duration

	// AnnounceInterval is how often the engine broadcasts Announce(self).
	// Defaults to 30s if zero.
	AnnounceInterval time.Duration

	// ChunkDelay is the pause between consecutive fragment sends -- the
	// overlay's only congestion control, required to respect a duty-cycle
	// limited link (LoRa) and reduce collisions. Defaults to
	// fragment.DefaultChunkDelay (1s) if zero. Negative is rejected.
	ChunkDelay time.Duration

	// Codec picks the wire form. Defaults to wire.BinaryCodec{} if nil.
	Codec wire.Codec

	// Identity is this node's signing keypair. Required.
	Identity *identity.Identity

	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.SugaredLogger
}

// Verify fills in defaults and rejects an unusable configuration.
func Verify(c *Config) error {
	if c.ResolutionTTL < 0 {
		return ErrConfigResolutionTTL
	}
	if c.ResolutionTTL == 0 {
		c.ResolutionTTL = ResolutionTTL
	}

	if c.AnnounceInterval < 0 {
		return ErrConfigAnnounceInterval
	}
	if c.AnnounceInterval == 0 {
		c.AnnounceInterval = 30 * time.Second
	}

	if c.ChunkDelay < 0 {
		return ErrConfigChunkDelay
	}
	if c.ChunkDelay == 0 {
		c.ChunkDelay = fragment.DefaultChunkDelay
	}

	if c.Codec == nil {
		c.Codec = wire.BinaryCodec{}
	}

	if c.Identity == nil {
		return ErrConfigIdentity
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}

	return nil
}
