package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"

	"github.com/StoreStation/AnvilCraft/pkg/protocol"
)

// MaxUncompressedSize caps the declared inflated size of a packet (2 MiB).
const MaxUncompressedSize = 2 << 20

var (
	// ErrBelowThreshold means a peer compressed a packet it should have sent raw.
	ErrBelowThreshold = errors.New("codec: compressed packet below threshold")
	// ErrOversizedPacket means the declared uncompressed size exceeds MaxUncompressedSize.
	ErrOversizedPacket = errors.New("codec: uncompressed packet too large")
	// ErrBadlyCompressed means the inflated size differs from the declared size.
	ErrBadlyCompressed = errors.New("codec: badly compressed packet")
)

// Compressor applies the compression layer to outgoing frame bodies.
// A negative threshold disables the layer: bodies pass through unchanged and
// no data-length field is written.
type Compressor struct {
	threshold int
	level     int
	pool      sync.Pool
}

// NewCompressor returns a compressor for the given threshold and zlib level.
func NewCompressor(threshold, level int) *Compressor {
	c := &Compressor{threshold: threshold, level: level}
	c.pool.New = func() any {
		w, err := zlib.NewWriterLevel(nil, level)
		if err != nil {
			w = zlib.NewWriter(nil)
		}
		return w
	}
	return c
}

// Threshold returns the configured threshold.
func (c *Compressor) Threshold() int { return c.threshold }

// Compress returns the wire form of body: varint(len)+zlib(body) when body is
// at least threshold bytes, otherwise varint(0)+body.
func (c *Compressor) Compress(body []byte) ([]byte, error) {
	if c.threshold < 0 {
		return body, nil
	}
	if len(body) < c.threshold {
		out := make([]byte, 0, 1+len(body))
		out = append(out, 0)
		return append(out, body...), nil
	}

	var buf bytes.Buffer
	buf.Grow(protocol.MaxVarIntLen + len(body)/2)
	protocol.WriteVarInt(&buf, int32(len(body)))

	zw := c.pool.Get().(*zlib.Writer)
	defer c.pool.Put(zw)
	zw.Reset(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompressor reverses the compression layer on incoming frames.
type Decompressor struct {
	threshold int
}

// NewDecompressor returns a decompressor that enforces threshold.
func NewDecompressor(threshold int) *Decompressor {
	return &Decompressor{threshold: threshold}
}

// Decompress returns the frame body. A declared size of zero means the rest of
// the frame is already uncompressed; any other size must lie between the
// threshold and MaxUncompressedSize and match the inflated length exactly.
func (d *Decompressor) Decompress(frame []byte) ([]byte, error) {
	if d.threshold < 0 {
		return frame, nil
	}
	size, n, err := protocol.PeekVarInt(frame, protocol.MaxVarIntLen)
	if err != nil {
		return nil, fmt.Errorf("data length: %w", err)
	}
	rest := frame[n:]
	if size == 0 {
		return rest, nil
	}
	if int(size) < d.threshold || size < 0 {
		return nil, fmt.Errorf("%w: %d < %d", ErrBelowThreshold, size, d.threshold)
	}
	if size > MaxUncompressedSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrOversizedPacket, size, MaxUncompressedSize)
	}

	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadlyCompressed, err)
	}
	defer zr.Close()

	out := make([]byte, size)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadlyCompressed, err)
	}
	// Anything left over means the declared size was a lie.
	var one [1]byte
	if m, _ := zr.Read(one[:]); m != 0 {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBadlyCompressed, size)
	}
	return out, nil
}
