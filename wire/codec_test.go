package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessage() Message {
	m := New(StatusProvideKey)
	target := NewPeerID()
	sender := NewPeerID()
	m = m.WithTarget(target).WithSender(sender)
	m = m.WithHeader("for", sender[:])
	m = m.WithHeader("Zeta", []byte("last"))
	m = m.WithHeader("alpha", []byte("first"))
	m = m.WithBody([]byte("a public key goes here, 32 bytes padded out"))
	return m
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	codec := BinaryCodec{}
	m := sampleMessage()

	encoded, err := codec.Encode(m)
	require.NoError(t, err)

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, m.Version, decoded.Version)
	assert.Equal(t, m.Status, decoded.Status)
	assert.Equal(t, *m.Target, *decoded.Target)
	assert.Equal(t, *m.Sender, *decoded.Sender)
	assert.Equal(t, m.Body, decoded.Body)
	for name, value := range m.Headers {
		got, ok := decoded.Headers.Get(name)
		require.True(t, ok)
		assert.Equal(t, value, got)
	}
}

func TestBinaryCodecIsDeterministic(t *testing.T) {
	codec := BinaryCodec{}
	m := sampleMessage()

	first, err := codec.Encode(m)
	require.NoError(t, err)

	decoded, err := codec.Decode(first)
	require.NoError(t, err)

	second, err := codec.Encode(decoded)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBinaryCodecRejectsTrailingBytes(t *testing.T) {
	codec := BinaryCodec{}
	m := sampleMessage()

	encoded, err := codec.Encode(m)
	require.NoError(t, err)
	encoded = append(encoded, 0xFF)

	_, err = codec.Decode(encoded)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBinaryCodecRejectsOversizedLength(t *testing.T) {
	codec := BinaryCodec{}
	m := sampleMessage()

	encoded, err := codec.Encode(m)
	require.NoError(t, err)

	_, err = codec.Decode(encoded[:len(encoded)-4])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBinaryCodecNoSignatureRoundTrip(t *testing.T) {
	codec := BinaryCodec{}
	id := NewPeerID()
	m := New(StatusAnnounce).WithHeader("self", id[:])

	encoded, err := codec.Encode(m)
	require.NoError(t, err)
	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Nil(t, decoded.Signature)
}

func TestLineCodecRoundTrip(t *testing.T) {
	codec := LineCodec{}
	m := sampleMessage()

	encoded, err := codec.Encode(m)
	require.NoError(t, err)

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, m.Version, decoded.Version)
	assert.Equal(t, m.Status, decoded.Status)
	assert.Equal(t, *m.Target, *decoded.Target)
	assert.Equal(t, m.Body, decoded.Body)
	for name, value := range m.Headers {
		got, ok := decoded.Headers.Get(name)
		require.True(t, ok)
		assert.Equal(t, value, got)
	}
}

func TestStatusBands(t *testing.T) {
	assert.True(t, StatusAnnounce.IsOK())
	assert.True(t, StatusEarlyHints.IsOK())
	assert.True(t, StatusAcknowledge.IsOK())
	assert.False(t, StatusUnprocessableEntity.IsOK())
	assert.False(t, StatusServerError.IsOK())
	assert.Equal(t, TypeUnknown, Status(100).Type())
	assert.True(t, StatusRelay.IsRoutingControl())
	assert.False(t, StatusAcknowledge.IsRoutingControl())
}
