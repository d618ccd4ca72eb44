package mesh

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tascord/flesh/wire"
)

func randomKey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub
}

func TestPeerTableAnnouncedSeedsStale(t *testing.T) {
	table := NewPeerTable(time.Minute, nil)
	id := wire.NewPeerID()
	key := randomKey(t)

	table.Announced(id, key)

	assert.False(t, table.Knows(id))
	_, ok := table.Key(id)
	assert.False(t, ok)
}

func TestPeerTableAnnouncedRefreshesKnownPeer(t *testing.T) {
	table := NewPeerTable(time.Minute, nil)
	id := wire.NewPeerID()
	key := randomKey(t)

	base := time.Now()
	table.now = func() time.Time { return base }
	table.Announced(id, key)

	table.now = func() time.Time { return base.Add(time.Second) }
	table.Announced(id, key)

	assert.True(t, table.Knows(id))
}

func TestPeerTablePongRequiresExistingEntry(t *testing.T) {
	table := NewPeerTable(time.Minute, nil)
	id := wire.NewPeerID()

	table.Pong(id)
	assert.False(t, table.Knows(id))
}

func TestPeerTablePongMarksLocal(t *testing.T) {
	table := NewPeerTable(time.Minute, nil)
	id := wire.NewPeerID()
	key := randomKey(t)
	table.Announced(id, key)

	table.Pong(id)

	relation, _, ok := table.Get(id)
	require.True(t, ok)
	assert.Equal(t, RelationLocal, relation.Kind)
	assert.True(t, table.CanRelay(id))
}

func TestPeerTableRelayedIgnoresUnknownPeer(t *testing.T) {
	table := NewPeerTable(time.Minute, nil)
	id := wire.NewPeerID()
	via := wire.NewPeerID()

	table.Relayed(id, via)
	assert.False(t, table.Knows(id))
}

func TestPeerTableRelayedDoesNotDowngradeLocal(t *testing.T) {
	table := NewPeerTable(time.Minute, nil)
	id := wire.NewPeerID()
	via := wire.NewPeerID()
	key := randomKey(t)

	table.Announced(id, key)
	table.Pong(id) // now fresh and Local

	table.Relayed(id, via)

	relation, _, ok := table.Get(id)
	require.True(t, ok)
	assert.Equal(t, RelationLocal, relation.Kind)
}

func TestPeerTableRelayedUpgradesNonLocal(t *testing.T) {
	table := NewPeerTable(time.Minute, nil)
	id := wire.NewPeerID()
	via := wire.NewPeerID()
	key := randomKey(t)

	base := time.Now()
	table.now = func() time.Time { return base }
	table.Announced(id, key)
	table.now = func() time.Time { return base.Add(time.Second) }

	table.Relayed(id, via)

	relation, _, ok := table.Get(id)
	require.True(t, ok)
	assert.Equal(t, RelationRelay, relation.Kind)
	assert.Equal(t, via, relation.Via)
	assert.False(t, table.CanRelay(id))
}

func TestPeerTableTTLExpiry(t *testing.T) {
	table := NewPeerTable(time.Minute, nil)
	id := wire.NewPeerID()
	key := randomKey(t)

	base := time.Now()
	table.now = func() time.Time { return base }
	table.Announced(id, key)
	table.Pong(id)
	assert.True(t, table.Knows(id))

	table.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.False(t, table.Knows(id))
	_, ok := table.Key(id)
	assert.False(t, ok)
}

func TestPeerTableAnnouncedTriggersSuspiciousKeyChangeHook(t *testing.T) {
	table := NewPeerTable(time.Minute, nil)
	id := wire.NewPeerID()

	var calls int
	table.OnSuspiciousKeyChange(func() { calls++ })

	table.Announced(id, randomKey(t))
	assert.Equal(t, 0, calls, "first announce for a new peer is not a key change")

	table.Announced(id, randomKey(t))
	assert.Equal(t, 1, calls, "re-announcing under a different key must fire the hook")

	table.Announced(id, randomKey(t))
	assert.Equal(t, 2, calls)
}

func TestPeerTableSnapshotIsDefensiveCopy(t *testing.T) {
	table := NewPeerTable(time.Minute, nil)
	id := wire.NewPeerID()
	key := randomKey(t)
	table.Announced(id, key)

	snap := table.Snapshot()
	require.Len(t, snap, 1)

	delete(snap, id)
	assert.Equal(t, 1, table.Len())
}
