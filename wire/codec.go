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

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// presence tags for optional fields.
const (
	tagAbsent  byte = 0
	tagPresent byte = 1
)

// Codec serializes and deserializes Messages to and from frames.
//
// Exactly one Codec form is authoritative per deployment; the two forms
// this package provides (BinaryCodec, LineCodec) are not bit-compatible
// with each other.
type Codec interface {
	Encode(m Message) ([]byte, error)
	Decode(frame []byte) (Message, error)
}

// BinaryCodec is the REQUIRED, authoritative wire form: a compact
// deterministic binary encoding. New implementations should prefer this
// form over LineCodec.
type BinaryCodec struct{}

// Encode serializes m deterministically: header entries are emitted in
// ascending name order so that serialize(deserialize(serialize(m))) == serialize(m).
func (BinaryCodec) Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer

	writeU16(&buf, m.Version)
	buf.WriteByte(byte(m.Status))
	writePeerID(&buf, m.Target)
	writePeerID(&buf, m.Sender)
	writeU64(&buf, m.Timestamp)

	names := m.Headers.sortedNames()
	writeU32(&buf, uint32(len(names)))
	for _, name := range names {
		value := m.Headers[name]
		writeU16(&buf, uint16(len(name)))
		buf.WriteString(name)
		writeU32(&buf, uint32(len(value)))
		buf.Write(value)
	}

	writeU32(&buf, uint32(len(m.Body)))
	buf.Write(m.Body)

	if m.Signature == nil {
		buf.WriteByte(tagAbsent)
	} else {
		buf.WriteByte(tagPresent)
		writeU32(&buf, uint32(len(m.Signature)))
		buf.Write(m.Signature)
	}

	return buf.Bytes(), nil
}

// Decode parses frame into a Message, rejecting trailing bytes and any
// length field that exceeds the remaining buffer.
func (BinaryCodec) Decode(frame []byte) (Message, error) {
	r := &reader{buf: frame}

	var m Message
	m.Version = r.u16()
	m.Status = Status(r.u8())
	m.Target = r.peerID()
	m.Sender = r.peerID()
	m.Timestamp = r.u64()

	count := r.u32()
	if r.err == nil && count > 0 {
		m.Headers = make(Headers, count)
	} else {
		m.Headers = make(Headers)
	}
	for i := uint32(0); i < count && r.err == nil; i++ {
		nameLen := r.u16()
		name := r.bytes(int(nameLen))
		valueLen := r.u32()
		value := r.bytes(int(valueLen))
		if r.err == nil {
			m.Headers.Set(string(name), append([]byte(nil), value...))
		}
	}

	bodyLen := r.u32()
	m.Body = append([]byte(nil), r.bytes(int(bodyLen))...)

	if r.err == nil {
		switch r.u8() {
		case tagPresent:
			sigLen := r.u32()
			m.Signature = append([]byte(nil), r.bytes(int(sigLen))...)
		case tagAbsent:
			m.Signature = nil
		default:
			r.fail(fmt.Errorf("invalid presence tag"))
		}
	}

	if r.err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, r.err)
	}
	if r.off != len(r.buf) {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, errTrailingBytes)
	}

	return m, nil
}

func writePeerID(buf *bytes.Buffer, id *PeerID) {
	if id == nil {
		buf.WriteByte(tagAbsent)
		return
	}
	buf.WriteByte(tagPresent)
	buf.Write(id[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// reader is a bounds-checked little-endian cursor over a decode buffer.
// The first error encountered is sticky; callers check r.err once at the end.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.fail(errBufferTooShort)
		return false
	}
	return true
}

func (r *reader) u8() byte {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) peerID() *PeerID {
	tag := r.u8()
	if r.err != nil || tag == tagAbsent {
		return nil
	}
	if tag != tagPresent {
		r.fail(fmt.Errorf("invalid presence tag"))
		return nil
	}
	raw := r.bytes(16)
	if r.err != nil {
		return nil
	}
	var id PeerID
	copy(id[:], raw)
	return &id
}
