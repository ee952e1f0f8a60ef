package codec

import (
	"crypto/cipher"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/StoreStation/AnvilCraft/pkg/protocol"
)

const readChunk = 4096

// Conn runs the framing pipeline over a net.Conn.
//
// Inbound: decrypt → split → decompress → Packet. ReadPacket must only be
// called from a single goroutine (the connection's reader).
// Outbound: Packet → compress → frame → encrypt, one Write per packet.
// WritePacket is safe for concurrent use.
type Conn struct {
	nc net.Conn

	// reader side, owned by the reader goroutine
	split   Splitter
	readBuf []byte
	decrypt cipher.Stream
	decomp  *Decompressor

	wmu     sync.Mutex
	encrypt cipher.Stream
	comp    *Compressor
	level   int
}

// NewConn wraps nc with compression and encryption disabled.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc:      nc,
		readBuf: make([]byte, readChunk),
		decomp:  NewDecompressor(-1),
		comp:    NewCompressor(-1, zlib.DefaultCompression),
		level:   zlib.DefaultCompression,
	}
}

// SetCompressionLevel sets the zlib level used once compression is enabled.
func (c *Conn) SetCompressionLevel(level int) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.level = level
	c.comp = NewCompressor(c.comp.Threshold(), level)
}

// SetThreshold enables (threshold >= 0) or disables the compression layer in
// both directions. Call it right after the SetCompression packet was written.
func (c *Conn) SetThreshold(threshold int) {
	c.wmu.Lock()
	c.comp = NewCompressor(threshold, c.level)
	c.wmu.Unlock()
	c.decomp = NewDecompressor(threshold)
}

// Threshold returns the active compression threshold, -1 when disabled.
func (c *Conn) Threshold() int {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.comp.Threshold()
}

// EnableEncryption switches both directions to AES/CFB8 keyed by secret.
// Bytes already buffered but not yet framed are decrypted in place.
func (c *Conn) EnableEncryption(secret []byte) error {
	dec, enc, err := newStreams(secret)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	c.encrypt = enc
	c.wmu.Unlock()

	c.decrypt = dec
	if pending := c.split.buf[c.split.off:]; len(pending) > 0 {
		dec.XORKeyStream(pending, pending)
	}
	return nil
}

// Encrypted reports whether the cipher is active.
func (c *Conn) Encrypted() bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.encrypt != nil
}

// ReadPacket blocks until one complete packet has been received.
func (c *Conn) ReadPacket() (*protocol.Packet, error) {
	for {
		frame, ok, err := c.split.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			return c.decodeFrame(frame)
		}
		n, err := c.nc.Read(c.readBuf)
		if n > 0 {
			chunk := c.readBuf[:n]
			if c.decrypt != nil {
				c.decrypt.XORKeyStream(chunk, chunk)
			}
			c.split.Feed(chunk)
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *Conn) decodeFrame(frame []byte) (*protocol.Packet, error) {
	body, err := c.decomp.Decompress(frame)
	if err != nil {
		return nil, err
	}
	pkt, err := protocol.ParsePacket(body)
	if err != nil {
		return nil, err
	}
	// The splitter reuses its buffer; detach the payload.
	data := make([]byte, len(pkt.Data))
	copy(data, pkt.Data)
	pkt.Data = data
	return pkt, nil
}

// WritePacket frames and sends p.
func (c *Conn) WritePacket(p *protocol.Packet) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	data, err := c.comp.Compress(p.Bytes())
	if err != nil {
		return err
	}
	frame, err := AppendFrame(make([]byte, 0, len(data)+3), data)
	if err != nil {
		return fmt.Errorf("packet 0x%02x: %w", p.ID, err)
	}
	if c.encrypt != nil {
		c.encrypt.XORKeyStream(frame, frame)
	}
	_, err = c.nc.Write(frame)
	return err
}

// SetReadDeadline sets the deadline for the next network read.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.nc.SetReadDeadline(t) }

// SetWriteDeadline sets the deadline for network writes.
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.nc.SetWriteDeadline(t) }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }
