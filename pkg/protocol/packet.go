package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// MaxPacketSize is the largest frame a 3-byte VarInt length prefix can describe.
const MaxPacketSize = 2097151

// Packet is a decoded frame body: the packet ID and the still-serialised fields.
type Packet struct {
	ID   int32
	Data []byte
}

// ParsePacket splits a frame body into its leading VarInt ID and payload.
func ParsePacket(body []byte) (*Packet, error) {
	id, n, err := PeekVarInt(body, MaxVarIntLen)
	if err != nil {
		if errors.Is(err, ErrShortVarInt) {
			return nil, fmt.Errorf("packet id: %w", ErrTruncatedPacket)
		}
		return nil, fmt.Errorf("packet id: %w", err)
	}
	return &Packet{ID: id, Data: body[n:]}, nil
}

// Bytes returns the frame body: the VarInt ID followed by the payload.
func (p *Packet) Bytes() []byte {
	out := make([]byte, 0, VarIntSize(p.ID)+len(p.Data))
	out = AppendVarInt(out, p.ID)
	return append(out, p.Data...)
}

// ErrTruncatedPacket is returned when a frame body ends before the packet does.
var ErrTruncatedPacket = errors.New("protocol: truncated packet")

// Message is a typed packet. Each implementation knows its Kind and how to
// read and write its own fields; the packet ID comes from the Registry.
type Message interface {
	Kind() Kind
	Encode(w *bytes.Buffer) error
	Decode(r *bytes.Reader) error
}
