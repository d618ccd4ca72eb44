package mesh

import "errors"

// ErrUnknownPeer is returned by Send when the target has no fresh peer-table entry.
var ErrUnknownPeer = errors.New("mesh: unknown or stale peer")

// ErrListenerNotSpecified is returned by NewEngine when no transport was given.
var ErrListenerNotSpecified = errors.New("mesh: transport not specified")

// ErrClosed is returned by operations attempted after the engine has been closed.
var ErrClosed = errors.New("mesh: engine closed")

// ErrConfigResolutionTTL is returned by Verify for a negative TTL (zero
// selects the default).
var ErrConfigResolutionTTL = errors.New("mesh: config: ResolutionTTL must be positive")

// ErrConfigAnnounceInterval is returned by Verify for a negative interval
// (zero selects the default).
var ErrConfigAnnounceInterval = errors.New("mesh: config: AnnounceInterval must be positive")

// ErrConfigChunkDelay is returned by Verify for a negative delay.
var ErrConfigChunkDelay = errors.New("mesh: config: ChunkDelay must not be negative")

// ErrConfigCodec is not returned by Verify, which substitutes
// wire.BinaryCodec{} when no codec was set.
var ErrConfigCodec = errors.New("mesh: config: Codec must be set")

// ErrConfigIdentity is returned by Verify when no identity was set.
var ErrConfigIdentity = errors.New("mesh: config: Identity must be set")
