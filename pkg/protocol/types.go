package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
)

var (
	// ErrVarIntTooBig is returned when a VarInt or VarLong runs past its maximum encoded length.
	ErrVarIntTooBig = errors.New("protocol: varint is too big")
	// ErrShortVarInt is returned by PeekVarInt when the buffer ends before the last VarInt byte.
	ErrShortVarInt = errors.New("protocol: varint is incomplete")
	// ErrStringTooLong is returned for strings longer than the protocol allows.
	ErrStringTooLong = errors.New("protocol: string too long")
)

const (
	// MaxVarIntLen is the maximum encoded size of a VarInt.
	MaxVarIntLen = 5
	// MaxVarLongLen is the maximum encoded size of a VarLong.
	MaxVarLongLen = 10
	// MaxStringLen is the maximum byte length of a protocol string (32767 UTF-16 units).
	MaxStringLen = 32767 * 4
)

// ReadVarInt reads a variable-length integer from the reader.
// Minecraft protocol VarInts are at most 5 bytes.
func ReadVarInt(r io.Reader) (int32, int, error) {
	var result uint32
	var numRead int
	var buf [1]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, numRead, err
		}
		b := buf[0]
		result |= uint32(b&0x7F) << (7 * numRead)
		numRead++
		if b&0x80 == 0 {
			return int32(result), numRead, nil
		}
		if numRead >= MaxVarIntLen {
			return 0, numRead, ErrVarIntTooBig
		}
	}
}

// PeekVarInt decodes a VarInt from the head of b without consuming anything.
// At most maxLen bytes are examined; if all of them carry the continuation
// bit the value is rejected with ErrVarIntTooBig. ErrShortVarInt means b
// ended first and the caller should wait for more input.
func PeekVarInt(b []byte, maxLen int) (int32, int, error) {
	if maxLen <= 0 || maxLen > MaxVarIntLen {
		maxLen = MaxVarIntLen
	}
	var result uint32
	for i := 0; i < maxLen; i++ {
		if i >= len(b) {
			return 0, 0, ErrShortVarInt
		}
		result |= uint32(b[i]&0x7F) << (7 * i)
		if b[i]&0x80 == 0 {
			return int32(result), i + 1, nil
		}
	}
	return 0, 0, ErrVarIntTooBig
}

// WriteVarInt writes a variable-length integer to the writer.
func WriteVarInt(w io.Writer, value int32) (int, error) {
	var buf [MaxVarIntLen]byte
	n := PutVarInt(buf[:], value)
	return w.Write(buf[:n])
}

// AppendVarInt appends the encoded VarInt to dst.
func AppendVarInt(dst []byte, value int32) []byte {
	var buf [MaxVarIntLen]byte
	n := PutVarInt(buf[:], value)
	return append(dst, buf[:n]...)
}

// PutVarInt encodes a VarInt into the buffer and returns the number of bytes written.
func PutVarInt(buf []byte, value int32) int {
	uval := uint32(value)
	n := 0
	for {
		if uval&^uint32(0x7F) == 0 {
			buf[n] = byte(uval)
			return n + 1
		}
		buf[n] = byte(uval&0x7F) | 0x80
		n++
		uval >>= 7
	}
}

// VarIntSize returns the number of bytes needed to encode a VarInt.
func VarIntSize(value int32) int {
	uval := uint32(value)
	size := 1
	for uval&^uint32(0x7F) != 0 {
		size++
		uval >>= 7
	}
	return size
}

// ReadVarLong reads a variable-length long from the reader.
func ReadVarLong(r io.Reader) (int64, int, error) {
	var result uint64
	var numRead int
	var buf [1]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, numRead, err
		}
		b := buf[0]
		result |= uint64(b&0x7F) << (7 * numRead)
		numRead++
		if b&0x80 == 0 {
			return int64(result), numRead, nil
		}
		if numRead >= MaxVarLongLen {
			return 0, numRead, ErrVarIntTooBig
		}
	}
}

// WriteVarLong writes a variable-length long to the writer.
func WriteVarLong(w io.Writer, value int64) (int, error) {
	uval := uint64(value)
	var buf [MaxVarLongLen]byte
	n := 0
	for uval&^uint64(0x7F) != 0 {
		buf[n] = byte(uval&0x7F) | 0x80
		n++
		uval >>= 7
	}
	buf[n] = byte(uval)
	return w.Write(buf[:n+1])
}

// ReadString reads a length-prefixed UTF-8 string.
func ReadString(r io.Reader) (string, error) {
	b, err := readPrefixed(r, MaxStringLen)
	if err != nil {
		if errors.Is(err, errPrefixRange) {
			return "", ErrStringTooLong
		}
		return "", err
	}
	return string(b), nil
}

// WriteString writes a length-prefixed UTF-8 string.
func WriteString(w io.Writer, s string) error {
	if len(s) > MaxStringLen {
		return ErrStringTooLong
	}
	if _, err := WriteVarInt(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

var errPrefixRange = errors.New("protocol: length prefix out of range")

// ReadByteArray reads a VarInt-prefixed byte array of at most max bytes.
func ReadByteArray(r io.Reader, max int) ([]byte, error) {
	b, err := readPrefixed(r, max)
	if errors.Is(err, errPrefixRange) {
		return nil, fmt.Errorf("byte array: %w", err)
	}
	return b, err
}

// WriteByteArray writes a VarInt-prefixed byte array.
func WriteByteArray(w io.Writer, b []byte) error {
	if _, err := WriteVarInt(w, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readPrefixed(r io.Reader, max int) ([]byte, error) {
	length, _, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if length < 0 || int(length) > max {
		return nil, fmt.Errorf("%w: %d", errPrefixRange, length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadUint16 reads a big-endian unsigned 16-bit integer.
func ReadUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// WriteUint16 writes a big-endian unsigned 16-bit integer.
func WriteUint16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadInt32 reads a big-endian signed 32-bit integer.
func ReadInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// WriteInt32 writes a big-endian signed 32-bit integer.
func WriteInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

// ReadInt64 reads a big-endian signed 64-bit integer.
func ReadInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// WriteInt64 writes a big-endian signed 64-bit integer.
func WriteInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

// ReadFloat32 reads a big-endian 32-bit float.
func ReadFloat32(r io.Reader) (float32, error) {
	v, err := ReadInt32(r)
	return math.Float32frombits(uint32(v)), err
}

// WriteFloat32 writes a big-endian 32-bit float.
func WriteFloat32(w io.Writer, v float32) error {
	return WriteInt32(w, int32(math.Float32bits(v)))
}

// ReadFloat64 reads a big-endian 64-bit float.
func ReadFloat64(r io.Reader) (float64, error) {
	v, err := ReadInt64(r)
	return math.Float64frombits(uint64(v)), err
}

// WriteFloat64 writes a big-endian 64-bit float.
func WriteFloat64(w io.Writer, v float64) error {
	return WriteInt64(w, int64(math.Float64bits(v)))
}

// ReadBool reads a boolean.
func ReadBool(r io.Reader) (bool, error) {
	b, err := ReadByte(r)
	return b != 0, err
}

// WriteBool writes a boolean.
func WriteBool(w io.Writer, v bool) error {
	if v {
		return WriteByte(w, 1)
	}
	return WriteByte(w, 0)
}

// ReadByte reads a single byte.
func ReadByte(r io.Reader) (byte, error) {
	var buf [1]byte
	_, err := io.ReadFull(r, buf[:])
	return buf[0], err
}

// WriteByte writes a single byte.
func WriteByte(w io.Writer, v byte) error {
	_, err := w.Write([]byte{v})
	return err
}

// ReadUUID reads a 128-bit UUID.
func ReadUUID(r io.Reader) (uuid.UUID, error) {
	var id uuid.UUID
	_, err := io.ReadFull(r, id[:])
	return id, err
}

// WriteUUID writes a 128-bit UUID.
func WriteUUID(w io.Writer, id uuid.UUID) error {
	_, err := w.Write(id[:])
	return err
}

// ReadPosition reads a packed block position (26 bits X, 12 bits Y, 26 bits Z).
func ReadPosition(r io.Reader) (x, y, z int32, err error) {
	val, err := ReadInt64(r)
	if err != nil {
		return 0, 0, 0, err
	}
	x = int32(val >> 38)
	y = int32((val >> 26) & 0xFFF)
	z = int32(val << 38 >> 38)
	return x, y, z, nil
}

// WritePosition writes a packed block position.
func WritePosition(w io.Writer, x, y, z int32) error {
	val := (int64(x&0x3FFFFFF) << 38) | (int64(y&0xFFF) << 26) | int64(z&0x3FFFFFF)
	return WriteInt64(w, val)
}
