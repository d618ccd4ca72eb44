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

// Package identity implements the crypto envelope: Ed25519 signing of the
// canonical unsigned message form, and X25519-ECDH + ChaCha20-Poly1305
// sealing of message bodies to a target peer.
//
// The ECDH step reinterprets Ed25519 key bytes as X25519 values directly,
// without the standard clamping conversion. This is a known weakening
// carried forward from the reference implementation rather than introduced
// here; see DESIGN.md for the discussion of why it was kept rather than
// "fixed" silently.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/tascord/flesh/wire"
)

// ErrSignatureInvalid is returned when a message's signature does not
// verify against the declared sender's key.
var ErrSignatureInvalid = errors.New("identity: invalid signature")

// ErrDecryptFailed is returned when AEAD opening of a targeted body fails.
var ErrDecryptFailed = errors.New("identity: decryption failed")

// ErrMissingEncryptionHeaders is returned when a body that should have been
// encrypted is missing its ephemeral_key/nonce headers.
var ErrMissingEncryptionHeaders = errors.New("identity: missing ephemeral_key or nonce header")

const (
	headerEphemeralKey = "ephemeral_key"
	headerNonce        = "nonce"
)

// Identity holds a node's signing keypair, generated once at node start and
// never persisted.
type Identity struct {
	Signing   ed25519.PrivateKey
	Verifying ed25519.PublicKey
}

// Generate creates a new Ed25519 keypair using the system CSPRNG.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: key generation failed: %w", err)
	}
	return &Identity{Signing: priv, Verifying: pub}, nil
}

// Sign stamps m.Sender as self and attaches an Ed25519 signature computed over
// the canonical serialization of m with Signature cleared.
func Sign(id *Identity, self wire.PeerID, codec wire.Codec, m wire.Message) (wire.Message, error) {
	m = m.WithSender(self)
	m.Signature = nil

	unsigned, err := canonicalUnsignedBytes(codec, m)
	if err != nil {
		return wire.Message{}, err
	}

	m.Signature = ed25519.Sign(id.Signing, unsigned)
	return m, nil
}

// Verify recomputes the canonical unsigned form of m and checks its
// signature against senderKey using the strict Ed25519 verification rules.
func Verify(codec wire.Codec, m wire.Message, senderKey ed25519.PublicKey) error {
	if m.Signature == nil {
		return fmt.Errorf("%w: missing signature", ErrSignatureInvalid)
	}

	unsigned, err := canonicalUnsignedBytes(codec, m)
	if err != nil {
		return err
	}

	if !ed25519.Verify(senderKey, unsigned, m.Signature) {
		return ErrSignatureInvalid
	}
	return nil
}

// canonicalUnsignedBytes serializes m with its signature cleared: the
// deterministic input used for both signing and verification.
func canonicalUnsignedBytes(codec wire.Codec, m wire.Message) ([]byte, error) {
	cp := m
	cp.Signature = nil
	return codec.Encode(cp)
}

// Encrypt seals m.Body to targetKey (the recipient's Ed25519 verifying key,
// reinterpreted directly as an X25519 public key -- see package doc for the
// cryptographic caveat this carries forward from the source implementation).
// The ephemeral_key and nonce headers are inserted; the body is replaced by
// ciphertext. Encryption MUST happen before signing, so the signature binds
// the ciphertext.
func Encrypt(m wire.Message, targetKey ed25519.PublicKey) (wire.Message, error) {
	if len(m.Body) == 0 {
		return m, nil
	}
	if len(targetKey) != ed25519.PublicKeySize {
		return wire.Message{}, fmt.Errorf("identity: target key must be %d bytes", ed25519.PublicKeySize)
	}

	var ephemeralPriv [32]byte
	if _, err := rand.Read(ephemeralPriv[:]); err != nil {
		return wire.Message{}, fmt.Errorf("identity: rng failure: %w", err)
	}

	ephemeralPub, err := curve25519.X25519(ephemeralPriv[:], curve25519.Basepoint)
	if err != nil {
		return wire.Message{}, fmt.Errorf("identity: ephemeral key derivation: %w", err)
	}

	var targetX25519 [32]byte
	copy(targetX25519[:], targetKey)

	shared, err := curve25519.X25519(ephemeralPriv[:], targetX25519[:])
	if err != nil {
		return wire.Message{}, fmt.Errorf("identity: ecdh failed: %w", err)
	}

	aead, err := chacha20poly1305.New(shared)
	if err != nil {
		return wire.Message{}, fmt.Errorf("identity: aead init: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return wire.Message{}, fmt.Errorf("identity: rng failure: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, m.Body, nil)

	m.Body = ciphertext
	m = m.WithHeader(headerEphemeralKey, ephemeralPub)
	m = m.WithHeader(headerNonce, nonce)
	return m, nil
}

// Decrypt opens a body that was sealed with Encrypt, deriving the shared
// secret from id's Ed25519 signing key used directly as an X25519 static
// secret. On success the ephemeral_key and nonce headers are removed.
func Decrypt(id *Identity, m wire.Message) (wire.Message, error) {
	ephemeralPub, ok := m.Headers.Get(headerEphemeralKey)
	if !ok {
		return wire.Message{}, ErrMissingEncryptionHeaders
	}
	nonce, ok := m.Headers.Get(headerNonce)
	if !ok {
		return wire.Message{}, ErrMissingEncryptionHeaders
	}
	if len(ephemeralPub) != 32 || len(nonce) != chacha20poly1305.NonceSize {
		return wire.Message{}, fmt.Errorf("%w: bad header length", ErrDecryptFailed)
	}

	// Matches source behaviour -- the raw Ed25519 seed bytes are used
	// directly as an X25519 static secret without the standard clamping
	// transform. See package doc and DESIGN.md for the security caveat.
	var mySecret [32]byte
	copy(mySecret[:], id.Signing.Seed())

	shared, err := curve25519.X25519(mySecret[:], ephemeralPub)
	if err != nil {
		return wire.Message{}, fmt.Errorf("%w: ecdh: %v", ErrDecryptFailed, err)
	}

	aead, err := chacha20poly1305.New(shared)
	if err != nil {
		return wire.Message{}, fmt.Errorf("%w: aead init: %v", ErrDecryptFailed, err)
	}

	plaintext, err := aead.Open(nil, nonce, m.Body, nil)
	if err != nil {
		return wire.Message{}, ErrDecryptFailed
	}

	m.Body = plaintext
	m.Headers.Delete(headerEphemeralKey)
	m.Headers.Delete(headerNonce)
	return m, nil
}
