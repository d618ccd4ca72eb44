package wire

import "errors"

// ErrMalformed is returned for any parse failure; callers drop the packet
// and count it rather than attempt partial recovery.
var ErrMalformed = errors.New("wire: malformed message")

// errTrailingBytes is wrapped into ErrMalformed when a decode leaves unread
// bytes in the buffer.
var errTrailingBytes = errors.New("trailing bytes after message")

// errBufferTooShort is wrapped into ErrMalformed when a length field claims
// more data than remains in the buffer.
var errBufferTooShort = errors.New("length field exceeds remaining buffer")
