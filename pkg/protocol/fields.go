package protocol

import "bytes"

// fieldReader reads packet fields in order and keeps the first error, so
// Decode implementations read like a field list.
type fieldReader struct {
	r   *bytes.Reader
	err error
}

func (f *fieldReader) varInt() int32 {
	if f.err != nil {
		return 0
	}
	v, _, err := ReadVarInt(f.r)
	f.err = err
	return v
}

func (f *fieldReader) str() string {
	if f.err != nil {
		return ""
	}
	v, err := ReadString(f.r)
	f.err = err
	return v
}

func (f *fieldReader) byteArray(max int) []byte {
	if f.err != nil {
		return nil
	}
	v, err := ReadByteArray(f.r, max)
	f.err = err
	return v
}

func (f *fieldReader) u8() byte {
	if f.err != nil {
		return 0
	}
	v, err := ReadByte(f.r)
	f.err = err
	return v
}

func (f *fieldReader) boolean() bool {
	return f.u8() != 0
}

func (f *fieldReader) u16() uint16 {
	if f.err != nil {
		return 0
	}
	v, err := ReadUint16(f.r)
	f.err = err
	return v
}

func (f *fieldReader) i32() int32 {
	if f.err != nil {
		return 0
	}
	v, err := ReadInt32(f.r)
	f.err = err
	return v
}

func (f *fieldReader) i64() int64 {
	if f.err != nil {
		return 0
	}
	v, err := ReadInt64(f.r)
	f.err = err
	return v
}

func (f *fieldReader) f32() float32 {
	if f.err != nil {
		return 0
	}
	v, err := ReadFloat32(f.r)
	f.err = err
	return v
}

func (f *fieldReader) f64() float64 {
	if f.err != nil {
		return 0
	}
	v, err := ReadFloat64(f.r)
	f.err = err
	return v
}

func (f *fieldReader) position() (x, y, z int32) {
	if f.err != nil {
		return 0, 0, 0
	}
	x, y, z, f.err = ReadPosition(f.r)
	return x, y, z
}
