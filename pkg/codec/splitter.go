// Package codec implements the byte-level pipeline under the packet layer:
// varint length framing, zlib compression above a threshold, and the CFB8
// stream cipher negotiated during login.
package codec

import (
	"errors"
	"fmt"

	"github.com/StoreStation/AnvilCraft/pkg/protocol"
)

// maxLengthBytes is the longest frame length prefix the protocol allows.
const maxLengthBytes = 3

var (
	// ErrFrameTooLong means the length prefix did not terminate within three
	// bytes. The stream can no longer be resynchronised.
	ErrFrameTooLong = errors.New("codec: frame too long")
	// ErrEmptyFrame is a length prefix of zero.
	ErrEmptyFrame = errors.New("codec: empty frame")
)

// Splitter cuts a growing byte stream into frames. It keeps unconsumed input
// between calls and only advances past a frame once all of it has arrived.
type Splitter struct {
	buf []byte
	off int
}

// Feed appends raw bytes from the network.
func (s *Splitter) Feed(p []byte) {
	if s.off > 0 && s.off == len(s.buf) {
		s.buf = s.buf[:0]
		s.off = 0
	}
	if s.off > 4096 && s.off > len(s.buf)/2 {
		n := copy(s.buf, s.buf[s.off:])
		s.buf = s.buf[:n]
		s.off = 0
	}
	s.buf = append(s.buf, p...)
}

// Buffered returns the number of bytes waiting for a complete frame.
func (s *Splitter) Buffered() int {
	return len(s.buf) - s.off
}

// Next returns the payload of the next complete frame. ok is false when more
// input is needed; in that case nothing has been consumed. The returned slice
// is only valid until the next call to Feed.
func (s *Splitter) Next() (frame []byte, ok bool, err error) {
	pending := s.buf[s.off:]
	length, n, err := protocol.PeekVarInt(pending, maxLengthBytes)
	switch {
	case errors.Is(err, protocol.ErrShortVarInt):
		return nil, false, nil
	case errors.Is(err, protocol.ErrVarIntTooBig):
		return nil, false, ErrFrameTooLong
	case err != nil:
		return nil, false, err
	}
	if length <= 0 {
		return nil, false, fmt.Errorf("%w: length %d", ErrEmptyFrame, length)
	}
	if len(pending) < n+int(length) {
		return nil, false, nil
	}
	frame = pending[n : n+int(length) : n+int(length)]
	s.off += n + int(length)
	return frame, true, nil
}

// AppendFrame appends payload to dst behind its varint length prefix.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return dst, ErrEmptyFrame
	}
	if len(payload) > protocol.MaxPacketSize {
		return dst, fmt.Errorf("%w: %d bytes", ErrFrameTooLong, len(payload))
	}
	dst = protocol.AppendVarInt(dst, int32(len(payload)))
	return append(dst, payload...), nil
}
