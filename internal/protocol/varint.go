package protocol

import (
	"errors"
	"io"
)

// DecodeVarInt decodes a VarInt from the start of buf and returns the value
// and the number of bytes it occupied. When buf ends before the terminating
// byte, it returns n == 0 and a nil error: the caller should wait for more
// input. An encoding that needs a sixth byte fails with ErrMalformedVarInt.
func DecodeVarInt(buf []byte) (value int32, n int, err error) {
	var result uint32
	for i := 0; i < MaxVarIntLength; i++ {
		if i >= len(buf) {
			return 0, 0, nil
		}
		b := buf[i]
		result |= uint32(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			return int32(result), i + 1, nil
		}
	}
	return 0, 0, ErrMalformedVarInt
}

// ReadVarInt reads a VarInt from a byte stream. A stream that ends inside the
// VarInt yields io.ErrUnexpectedEOF.
func ReadVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < MaxVarIntLength; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && i > 0 {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		result |= uint32(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, ErrMalformedVarInt
}

// AppendVarInt appends the VarInt encoding of v to dst. Negative values are
// encoded as their unsigned 32-bit representation and always take 5 bytes.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

// VarIntSize returns the number of bytes AppendVarInt would write for v.
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}
