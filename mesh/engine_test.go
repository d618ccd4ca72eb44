package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tascord/flesh/fragment"
	"github.com/tascord/flesh/identity"
	"github.com/tascord/flesh/wire"
)

// bus is a shared in-memory broadcast medium standing in for a UDP
// multicast group or a LoRa radio range. reach, if set, restricts which
// attached transports can hear which others -- modelling limited radio
// range -- and defaults to full connectivity otherwise.
type bus struct {
	mu    sync.Mutex
	subs  []chan []byte
	reach func(from, to int) bool
}

func newBus() *bus { return &bus{} }

func (b *bus) attach() *busTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 64)
	b.subs = append(b.subs, ch)
	return &busTransport{bus: b, self: ch, idx: len(b.subs) - 1}
}

type busTransport struct {
	bus  *bus
	self chan []byte
	idx  int
}

func (t *busTransport) Send(ctx context.Context, frame []byte) error {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	for i, ch := range t.bus.subs {
		if i == t.idx {
			continue
		}
		if t.bus.reach != nil && !t.bus.reach(t.idx, i) {
			continue
		}
		cp := append([]byte(nil), frame...)
		select {
		case ch <- cp:
		default:
		}
	}
	return nil
}

func (t *busTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b := <-t.self:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *busTransport) MaxFrame() int { return 4096 }

// quietInterval is long enough that the periodic announce loop never fires
// during a test, so scenarios stay deterministic.
const quietInterval = time.Hour

func newTestEngine(t *testing.T, transport Transport) *Engine {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)

	eng, err := NewEngine(transport, Config{
		AnnounceInterval: quietInterval,
		Identity:         id,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

func awaitMessage(t *testing.T, ch <-chan wire.Message, timeout time.Duration) wire.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(timeout):
		t.Fatal("timed out waiting for message")
		return wire.Message{}
	}
}

func assertNoMessage(t *testing.T, ch <-chan wire.Message, within time.Duration) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("expected no message, got status %v", m.Status)
	case <-time.After(within):
	}
}

// TestAnnounceResolvesPeerKey exercises scenario 1: A announces itself, B
// doesn't know A yet so it issues RequestKey, A replies ProvideKey, and B's
// peer table ends up with A's key.
func TestAnnounceResolvesPeerKey(t *testing.T) {
	b := newBus()
	a := newTestEngine(t, b.attach())
	bb := newTestEngine(t, b.attach())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, a.Announce(ctx))

	require.Eventually(t, func() bool {
		_, ok := bb.Table().Key(a.Self())
		return ok
	}, time.Second, 10*time.Millisecond)

	key, ok := bb.Table().Key(a.Self())
	require.True(t, ok)
	assert.Equal(t, []byte(a.engineImpl.cfg.Identity.Verifying), []byte(key))
}

// TestRelayPath exercises scenario 2: A can reach R, R can reach B, A
// cannot reach B directly. A's unicast send to B is wrapped in a Relay
// envelope addressed to R; R unwraps it and the inner message surfaces on
// R's own application stream.
func TestRelayPath(t *testing.T) {
	b := newBus()
	// index 0 = A, 1 = R, 2 = B. A<->R and R<->B can hear each other; A and B cannot.
	b.reach = func(from, to int) bool {
		pair := [2]int{from, to}
		switch pair {
		case [2]int{0, 1}, [2]int{1, 0}, [2]int{1, 2}, [2]int{2, 1}:
			return true
		default:
			return false
		}
	}

	a := newTestEngine(t, b.attach())
	r := newTestEngine(t, b.attach())
	bb := newTestEngine(t, b.attach())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// A learns R directly (Announce + ProvideKey round trip, both in range).
	require.NoError(t, r.Announce(ctx))
	require.Eventually(t, func() bool {
		_, ok := a.Table().Key(r.Self())
		return ok
	}, time.Second, 10*time.Millisecond)
	a.Table().Pong(r.Self()) // confirms reachability, required before CanRelay/Get treat it as usable

	// R, symmetrically, learns A's key (needed below to verify A's signed
	// messages once they arrive unwrapped).
	require.NoError(t, a.Announce(ctx))
	require.Eventually(t, func() bool {
		_, ok := r.Table().Key(a.Self())
		return ok
	}, time.Second, 10*time.Millisecond)
	r.Table().Pong(a.Self())

	// A learns of B only by reputation (e.g. a prior ProvideKey from someone
	// else) and records it as reachable via R.
	bKey := bb.engineImpl.cfg.Identity.Verifying
	a.Table().Announced(bb.Self(), bKey)
	a.Table().Relayed(bb.Self(), r.Self())

	payload := []byte("hi")
	msg := wire.New(wire.StatusAcknowledge).WithTarget(bb.Self()).WithBody(payload)
	require.NoError(t, a.Send(ctx, msg))

	delivered := awaitMessage(t, r.Stream(), time.Second)
	assert.Equal(t, payload, delivered.Body)
	assert.Equal(t, bb.Self(), *delivered.Target)

	assertNoMessage(t, bb.Stream(), 200*time.Millisecond)
}

// TestTamperedSignatureDropsMessage exercises scenario 3: flipping one body
// byte after signing invalidates the signature, and the corrupted message
// never reaches the application stream.
func TestTamperedSignatureDropsMessage(t *testing.T) {
	b := newBus()
	a := newTestEngine(t, b.attach())
	bb := newTestEngine(t, b.attach())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, a.Announce(ctx))
	require.Eventually(t, func() bool {
		_, ok := bb.Table().Key(a.Self())
		return ok
	}, time.Second, 10*time.Millisecond)
	bb.Table().Pong(a.Self())

	signed, err := identity.Sign(a.engineImpl.cfg.Identity, a.Self(), a.engineImpl.cfg.Codec,
		wire.New(wire.StatusAcknowledge).WithBody([]byte("original")))
	require.NoError(t, err)

	signed.Body[0] ^= 0xFF // tamper after signing

	encoded, err := a.engineImpl.cfg.Codec.Encode(signed)
	require.NoError(t, err)
	frames := a.engineImpl.fragmenter.Split(encoded, 4096)

	before := bb.Stats().SignatureInvalid
	require.NoError(t, a.engineImpl.transport.Send(ctx, fragment.EncodeFrame(frames[0])))

	assertNoMessage(t, bb.Stream(), 300*time.Millisecond)
	assert.Greater(t, bb.Stats().SignatureInvalid, before)
}

// TestSuspiciousKeyChangeBumpsStats confirms the engine wires its peer
// table's key-mismatch hook through to Stats().SuspiciousKeyChanges, rather
// than that counter sitting dead at zero forever.
func TestSuspiciousKeyChangeBumpsStats(t *testing.T) {
	b := newBus()
	a := newTestEngine(t, b.attach())

	id := wire.NewPeerID()
	a.Table().Announced(id, randomKey(t))
	before := a.Stats().SuspiciousKeyChanges

	a.Table().Announced(id, randomKey(t))

	assert.Greater(t, a.Stats().SuspiciousKeyChanges, before)
}

// TestSendToUnknownPeerErrors exercises scenario 6: sending to a peer id
// with no fresh table entry fails fast rather than silently dropping.
func TestSendToUnknownPeerErrors(t *testing.T) {
	b := newBus()
	a := newTestEngine(t, b.attach())
	_ = newTestEngine(t, b.attach())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg := wire.New(wire.StatusAcknowledge).WithTarget(wire.NewPeerID()).WithBody([]byte("hi"))
	err := a.Send(ctx, msg)
	assert.ErrorIs(t, err, ErrUnknownPeer)
}
