package wire

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// LineCodec is the legacy line/base64 wire form, carried because the source
// this spec was distilled from shipped two parallel, non-bit-compatible
// codecs (see Codec). Prefer BinaryCodec for new deployments; pick
// exactly one form per deployment, never mix them on the wire.
type LineCodec struct{}

const lineFieldSep = "|"
const lineHeaderSep = ";"
const lineHeaderKVSep = ":"

// Encode renders m as a single newline-terminated, pipe-delimited,
// base64-valued line.
func (LineCodec) Encode(m Message) ([]byte, error) {
	fields := []string{
		strconv.FormatUint(uint64(m.Version), 10),
		strconv.FormatUint(uint64(m.Status), 10),
		encodeOptionalID(m.Target),
		encodeOptionalID(m.Sender),
		strconv.FormatUint(m.Timestamp, 10),
		encodeLineHeaders(m.Headers),
		base64.StdEncoding.EncodeToString(m.Body),
		encodeOptionalBytes(m.Signature),
	}
	return []byte(strings.Join(fields, lineFieldSep) + "\n"), nil
}

// Decode parses a single line produced by Encode.
func (LineCodec) Decode(frame []byte) (Message, error) {
	line := strings.TrimSuffix(strings.TrimSuffix(string(frame), "\n"), "\r")
	fields := strings.Split(line, lineFieldSep)
	if len(fields) != 8 {
		return Message{}, fmt.Errorf("%w: expected 8 fields, got %d", ErrMalformed, len(fields))
	}

	version, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return Message{}, fmt.Errorf("%w: version: %v", ErrMalformed, err)
	}
	status, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return Message{}, fmt.Errorf("%w: status: %v", ErrMalformed, err)
	}
	target, err := decodeOptionalID(fields[2])
	if err != nil {
		return Message{}, fmt.Errorf("%w: target: %v", ErrMalformed, err)
	}
	sender, err := decodeOptionalID(fields[3])
	if err != nil {
		return Message{}, fmt.Errorf("%w: sender: %v", ErrMalformed, err)
	}
	timestamp, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	headers, err := decodeLineHeaders(fields[5])
	if err != nil {
		return Message{}, fmt.Errorf("%w: headers: %v", ErrMalformed, err)
	}
	body, err := base64.StdEncoding.DecodeString(fields[6])
	if err != nil {
		return Message{}, fmt.Errorf("%w: body: %v", ErrMalformed, err)
	}
	signature, err := decodeOptionalBytes(fields[7])
	if err != nil {
		return Message{}, fmt.Errorf("%w: signature: %v", ErrMalformed, err)
	}

	return Message{
		Version:   uint16(version),
		Status:    Status(status),
		Target:    target,
		Sender:    sender,
		Timestamp: timestamp,
		Headers:   headers,
		Body:      body,
		Signature: signature,
	}, nil
}

func encodeOptionalID(id *PeerID) string {
	if id == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(id[:])
}

func decodeOptionalID(field string) (*PeerID, error) {
	if field == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(field)
	if err != nil {
		return nil, err
	}
	if len(raw) != 16 {
		return nil, fmt.Errorf("expected 16 bytes, got %d", len(raw))
	}
	var id PeerID
	copy(id[:], raw)
	return &id, nil
}

func encodeOptionalBytes(b []byte) string {
	if b == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeOptionalBytes(field string) ([]byte, error) {
	if field == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(field)
}

func encodeLineHeaders(h Headers) string {
	names := h.sortedNames()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+lineHeaderKVSep+base64.StdEncoding.EncodeToString(h[name]))
	}
	return strings.Join(parts, lineHeaderSep)
}

func decodeLineHeaders(field string) (Headers, error) {
	headers := make(Headers)
	if field == "" {
		return headers, nil
	}
	for _, part := range strings.Split(field, lineHeaderSep) {
		kv := strings.SplitN(part, lineHeaderKVSep, 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed header entry %q", part)
		}
		value, err := base64.StdEncoding.DecodeString(kv[1])
		if err != nil {
			return nil, err
		}
		headers.Set(kv[0], value)
	}
	return headers, nil
}
