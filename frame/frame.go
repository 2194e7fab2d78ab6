// Package frame implements the datagram envelope: a 4-byte little-endian
// message type tag followed by a handler-defined payload. There is no length
// field; the payload is whatever remains of the datagram.
package frame

import (
	"errors"
	"fmt"

	"github.com/cyberinferno/netsession/wire"
)

// TagSize is the encoded width of a MessageType.
const TagSize = 4

// ErrMalformedFrame is returned when a datagram is too short to carry a tag.
var ErrMalformedFrame = errors.New("frame: malformed frame")

// MessageType identifies how a frame's payload is interpreted. Values are part
// of the wire format and must never be renumbered between client and server
// builds; every value is therefore assigned explicitly.
type MessageType uint32

const (
	ClientDisconnect        MessageType = 0
	HandshakeServer         MessageType = 1
	HandshakeServerResponse MessageType = 2
	ServerMessage           MessageType = 3

	// FirstApplicationType is the lowest value applications should use for
	// their own message types (login, ping, ...).
	FirstApplicationType MessageType = 256
)

// String returns the name of a built-in type, or MessageType(n) otherwise.
func (t MessageType) String() string {
	switch t {
	case ClientDisconnect:
		return "ClientDisconnect"
	case HandshakeServer:
		return "HandshakeServer"
	case HandshakeServerResponse:
		return "HandshakeServerResponse"
	case ServerMessage:
		return "ServerMessage"
	default:
		return fmt.Sprintf("MessageType(%d)", uint32(t))
	}
}

// Frame is one decoded datagram.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// Encode writes the type tag. The caller writes the payload afterwards and
// finishes the send.
//
// Parameters:
//   - t: The message type to tag the frame with
//   - w: The writer obtained from the transport's BeginSend
//
// Returns:
//   - An error if the writer has no room for the tag
func Encode(t MessageType, w *wire.Writer) error {
	w.WriteUint32(uint32(t))
	if w.Failed() {
		return fmt.Errorf("frame: encode %s: writer capacity exhausted", t)
	}

	return nil
}

// Decode consumes the type tag and leaves r positioned at the payload. On a
// short buffer r is left untouched and the error wraps ErrMalformedFrame.
//
// Parameters:
//   - r: Reader over one received datagram
//
// Returns:
//   - The decoded MessageType
//   - An error wrapping ErrMalformedFrame if fewer than TagSize bytes remain
func Decode(r *wire.Reader) (MessageType, error) {
	if r == nil {
		return 0, fmt.Errorf("%w: no data", ErrMalformedFrame)
	}

	v, err := r.ReadUint32()
	if err != nil {
		return 0, fmt.Errorf("%w: %d byte(s)", ErrMalformedFrame, r.Remaining())
	}

	return MessageType(v), nil
}

// Marshal encodes a whole frame into a new byte slice.
func Marshal(f Frame) []byte {
	w := wire.NewWriter(0)
	w.WriteUint32(uint32(f.Type))
	w.WriteBytes(f.Payload)
	return w.Bytes()
}

// Unmarshal decodes a whole datagram. The returned payload is a copy.
func Unmarshal(data []byte) (Frame, error) {
	r := wire.NewReader(data)
	t, err := Decode(r)
	if err != nil {
		return Frame{}, err
	}

	payload, _ := r.ReadBytes(r.Remaining())
	return Frame{Type: t, Payload: payload}, nil
}
