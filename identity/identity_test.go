package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tascord/flesh/wire"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	self := wire.NewPeerID()
	codec := wire.BinaryCodec{}

	m := wire.New(wire.StatusAcknowledge).WithBody([]byte("hello mesh"))
	signed, err := Sign(id, self, codec, m)
	require.NoError(t, err)
	require.NotNil(t, signed.Signature)
	assert.Equal(t, self, *signed.Sender)

	assert.NoError(t, Verify(codec, signed, id.Verifying))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	self := wire.NewPeerID()
	codec := wire.BinaryCodec{}

	m := wire.New(wire.StatusAcknowledge).WithBody([]byte("hello mesh"))
	signed, err := Sign(id, self, codec, m)
	require.NoError(t, err)

	tampered := signed
	tampered.Body = append([]byte(nil), signed.Body...)
	tampered.Body[0] ^= 0xFF

	assert.ErrorIs(t, Verify(codec, tampered, id.Verifying), ErrSignatureInvalid)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)

	self := wire.NewPeerID()
	codec := wire.BinaryCodec{}
	m := wire.New(wire.StatusAcknowledge).WithBody([]byte("hello"))
	signed, err := Sign(id, self, codec, m)
	require.NoError(t, err)

	assert.ErrorIs(t, Verify(codec, signed, other.Verifying), ErrSignatureInvalid)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	target, err := Generate()
	require.NoError(t, err)

	m := wire.New(wire.StatusAcknowledge).WithBody([]byte("secret payload"))
	sealed, err := Encrypt(m, target.Verifying)
	require.NoError(t, err)
	assert.NotEqual(t, m.Body, sealed.Body)

	ek, ok := sealed.Headers.Get("ephemeral_key")
	require.True(t, ok)
	assert.Len(t, ek, 32)
	nonce, ok := sealed.Headers.Get("nonce")
	require.True(t, ok)
	assert.Len(t, nonce, 12)

	opened, err := Decrypt(target, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret payload"), opened.Body)
	_, hasEK := opened.Headers.Get("ephemeral_key")
	assert.False(t, hasEK)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	target, err := Generate()
	require.NoError(t, err)

	m := wire.New(wire.StatusAcknowledge).WithBody([]byte("secret payload"))
	sealed, err := Encrypt(m, target.Verifying)
	require.NoError(t, err)

	sealed.Body[0] ^= 0xFF
	_, err = Decrypt(target, sealed)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptRejectsTamperedNonce(t *testing.T) {
	target, err := Generate()
	require.NoError(t, err)

	m := wire.New(wire.StatusAcknowledge).WithBody([]byte("secret payload"))
	sealed, err := Encrypt(m, target.Verifying)
	require.NoError(t, err)

	nonce, _ := sealed.Headers.Get("nonce")
	nonce[0] ^= 0xFF
	_, err = Decrypt(target, sealed)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestEncryptThenSignOrderingBindsCiphertext(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	target, err := Generate()
	require.NoError(t, err)
	codec := wire.BinaryCodec{}
	self := wire.NewPeerID()

	m := wire.New(wire.StatusAcknowledge).WithBody([]byte("payload")).WithTarget(wire.NewPeerID())
	sealed, err := Encrypt(m, target.Verifying)
	require.NoError(t, err)

	signed, err := Sign(id, self, codec, sealed)
	require.NoError(t, err)

	// Tampering with ciphertext after signing must invalidate the signature.
	tampered := signed
	tampered.Body = append([]byte(nil), signed.Body...)
	tampered.Body[0] ^= 0xFF
	assert.ErrorIs(t, Verify(codec, tampered, id.Verifying), ErrSignatureInvalid)
}
