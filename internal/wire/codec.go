package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// headerSize is the fixed 16-bit kind tag plus the 32-bit body length
// prefix described in §4.5.
const headerSize = 2 + 4

// MaxBodySize bounds a single frame's body so a corrupt or hostile peer
// can't make the server allocate an unbounded buffer while reading a length
// prefix. Generous enough for a MakeSession request with a large
// environment map.
const MaxBodySize = 4 << 20 // 4 MiB

// ErrBodyTooLarge is returned by ReadFrame when a peer's length prefix
// exceeds MaxBodySize.
var ErrBodyTooLarge = errors.New("wire: frame body exceeds MaxBodySize")

// Encode marshals body (any of the *Request/*Response/*Notification types
// in messages.go) and frames it behind kind and a length prefix, ready to
// be handed to a Channel's Write.
func Encode(kind Kind, body any) ([]byte, error) {
	encoded, err := cbor.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding %s body: %w", kind, err)
	}
	frame := make([]byte, headerSize+len(encoded))
	binary.BigEndian.PutUint16(frame[0:2], uint16(kind))
	binary.BigEndian.PutUint32(frame[2:6], uint32(len(encoded)))
	copy(frame[headerSize:], encoded)
	return frame, nil
}

// Decode unmarshals a frame's raw body into dst. Per §4.5's decoding
// tolerance, a malformed body is reported via the returned bool rather than
// an error — callers (the dispatch table's handlers) are specified to
// return without responding rather than surface a protocol error to the
// peer.
func Decode[T any](body []byte) (T, bool) {
	var v T
	if err := cbor.Unmarshal(body, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// byteReader is the minimal surface ReadFrame needs from a Channel: return
// up to n bytes, blocking or buffering as the implementation sees fit.
// internal/channel.Channel satisfies this directly.
type byteReader interface {
	Read(n int) ([]byte, error)
}

// ReadFrame reads exactly one complete frame from r, returning its kind and
// raw (still-encoded) body. It loops Read calls to assemble the header and
// body since a single Channel.Read may return short.
func ReadFrame(r byteReader) (Kind, []byte, error) {
	header, err := readExact(r, headerSize)
	if err != nil {
		return KindInvalid, nil, err
	}
	kind := Kind(binary.BigEndian.Uint16(header[0:2]))
	bodyLen := binary.BigEndian.Uint32(header[2:6])
	if bodyLen > MaxBodySize {
		return KindInvalid, nil, ErrBodyTooLarge
	}
	if bodyLen == 0 {
		return kind, nil, nil
	}
	body, err := readExact(r, int(bodyLen))
	if err != nil {
		return KindInvalid, nil, err
	}
	return kind, body, nil
}

// readExact reads exactly n bytes from r. A Channel's Read is chunk-bounded
// (§4.4) and may return short of n on any single call without that being a
// failure, so this loops calling Read — each call performs a genuine
// blocking underlying read when its own buffer is empty — until n bytes
// have been assembled or the channel reports failure/EOF.
func readExact(r byteReader, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		chunk, err := r.Read(n - len(out))
		if len(chunk) > 0 {
			out = append(out, chunk...)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
