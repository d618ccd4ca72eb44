package fragment

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitUnderLimitStaysComplete(t *testing.T) {
	fr := &Fragmenter{}
	payload := []byte("short message")
	frames := fr.Split(payload, 1200)
	require.Len(t, frames, 1)
	assert.Equal(t, KindComplete, frames[0].Kind)
	assert.Equal(t, payload, frames[0].Payload)
}

func TestSplitProducesNumberedChunks(t *testing.T) {
	fr := &Fragmenter{}
	payload := bytes.Repeat([]byte{0xAB}, 4000)
	frames := fr.Split(payload, 1200)

	require.Len(t, frames, 4)
	for i, f := range frames {
		assert.Equal(t, KindSplit, f.Kind)
		assert.Equal(t, uint16(i), f.Index)
		assert.Equal(t, uint16(4), f.Total)
	}
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	fr := &Fragmenter{}
	payload := bytes.Repeat([]byte{0x42}, 3000)
	frames := fr.Split(payload, 1200)

	for _, f := range frames {
		encoded := EncodeFrame(f)
		decoded, err := DecodeFrame(encoded)
		require.NoError(t, err)
		assert.Equal(t, f, decoded)
	}
}

func TestReassemblyOutOfOrder(t *testing.T) {
	fr := &Fragmenter{}
	payload := bytes.Repeat([]byte{0x7E}, 4000)
	frames := fr.Split(payload, 1200)
	require.Len(t, frames, 4)

	order := []int{2, 0, 3, 1}
	r := NewReassembler(nil)

	var result []byte
	var complete bool
	for _, idx := range order {
		result, complete = r.Accept(frames[idx])
	}

	assert.True(t, complete)
	assert.Equal(t, payload, result)
	assert.Equal(t, 0, r.Pending())
}

func TestReassemblyMissingChunkNeverCompletes(t *testing.T) {
	fr := &Fragmenter{}
	payload := bytes.Repeat([]byte{0x11}, 4000)
	frames := fr.Split(payload, 1200)
	require.Len(t, frames, 4)

	r := NewReassembler(nil)
	for i, f := range frames {
		if i == 2 {
			continue // withhold one chunk
		}
		_, complete := r.Accept(f)
		assert.False(t, complete)
	}

	assert.Equal(t, 1, r.Pending())
}

func TestReassemblyRandomPermutation(t *testing.T) {
	fr := &Fragmenter{}
	payload := make([]byte, 10000)
	rand.Read(payload)
	frames := fr.Split(payload, 1200)

	perm := rand.Perm(len(frames))
	r := NewReassembler(nil)

	var result []byte
	var complete bool
	for _, idx := range perm {
		result, complete = r.Accept(frames[idx])
	}

	assert.True(t, complete)
	assert.Equal(t, payload, result)
}

func TestReassemblyGCEvictsStale(t *testing.T) {
	fr := &Fragmenter{}
	payload := bytes.Repeat([]byte{0x99}, 4000)
	frames := fr.Split(payload, 1200)
	require.Len(t, frames, 4)

	r := NewReassembler(nil)
	base := time.Unix(0, 0)
	r.now = func() time.Time { return base }

	_, complete := r.Accept(frames[0])
	require.False(t, complete)

	// at t=299s, still within the GC window
	r.now = func() time.Time { return base.Add(299 * time.Second) }
	evicted := r.GC(300 * time.Second)
	assert.Equal(t, 0, evicted)
	assert.Equal(t, 1, r.Pending())

	// at t=301s, the entry is stale and GC removes it
	r.now = func() time.Time { return base.Add(301 * time.Second) }
	evicted = r.GC(300 * time.Second)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, r.Pending())

	// a later arrival of the missing part starts a fresh, empty entry
	_, complete = r.Accept(frames[2])
	assert.False(t, complete)
	assert.Equal(t, 1, r.Pending())
}

func TestSendAllSpacesChunksAndAggregatesFailures(t *testing.T) {
	fr := &Fragmenter{}
	payload := bytes.Repeat([]byte{0x01}, 4000)
	frames := fr.Split(payload, 1200)
	require.Len(t, frames, 4)

	var sent [][]byte
	failOn := map[int]bool{1: true, 3: true}
	send := func(_ context.Context, b []byte) error {
		sent = append(sent, b)
		if failOn[len(sent)-1] {
			return assertError{"boom"}
		}
		return nil
	}

	start := time.Now()
	err := SendAll(context.Background(), frames, time.Millisecond, send)
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.Len(t, sent, 4)

	// three gaps of 1ms between four chunks
	assert.GreaterOrEqual(t, elapsed, 3*time.Millisecond)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
