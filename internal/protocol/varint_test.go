package protocol

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarIntRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value int32
		size  int
	}{
		{0, 1},
		{1, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{2097151, 3},
		{2097152, 4},
		{math.MaxInt32, 5},
		{-1, 5},
	}

	for _, tt := range tests {
		encoded := AppendVarInt(nil, tt.value)
		require.Len(t, encoded, tt.size, "value %d", tt.value)
		require.Equal(t, tt.size, VarIntSize(tt.value))

		value, n, err := DecodeVarInt(encoded)
		require.NoError(t, err)
		require.Equal(t, tt.value, value)
		require.Equal(t, tt.size, n)

		streamed, err := ReadVarInt(bytes.NewReader(encoded))
		require.NoError(t, err)
		require.Equal(t, tt.value, streamed)
	}
}

func TestVarIntKnownEncodings(t *testing.T) {
	t.Parallel()

	require.Equal(t, []byte{0x00}, AppendVarInt(nil, 0))
	require.Equal(t, []byte{0x7f}, AppendVarInt(nil, 127))
	require.Equal(t, []byte{0x80, 0x01}, AppendVarInt(nil, 128))
	require.Equal(t, []byte{0xff, 0x01}, AppendVarInt(nil, 255))
	require.Equal(t, []byte{0xff, 0xff, 0x7f}, AppendVarInt(nil, 2097151))
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0x07}, AppendVarInt(nil, math.MaxInt32))
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, AppendVarInt(nil, -1))
}

func TestDecodeVarIntMalformed(t *testing.T) {
	t.Parallel()

	_, n, err := DecodeVarInt([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	require.ErrorIs(t, err, ErrMalformedVarInt)
	require.Zero(t, n)

	_, err = ReadVarInt(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}))
	require.ErrorIs(t, err, ErrMalformedVarInt)
}

func TestDecodeVarIntInsufficientData(t *testing.T) {
	t.Parallel()

	for _, input := range [][]byte{nil, {0x80}, {0xff, 0xff}, {0x80, 0x80, 0x80, 0x80}} {
		value, n, err := DecodeVarInt(input)
		assert.NoError(t, err, "input %x", input)
		assert.Zero(t, n, "input %x", input)
		assert.Zero(t, value, "input %x", input)
	}

	_, err := ReadVarInt(bytes.NewReader([]byte{0x80}))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadVarInt(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestDecodeVarIntIgnoresTrailingBytes(t *testing.T) {
	t.Parallel()

	value, n, err := DecodeVarInt([]byte{0xac, 0x02, 0xff, 0xff})
	require.NoError(t, err)
	require.Equal(t, int32(300), value)
	require.Equal(t, 2, n)
}

func TestStringCodec(t *testing.T) {
	t.Parallel()

	encoded, err := AppendString(nil, "héllo")
	require.NoError(t, err)
	require.Equal(t, byte(6), encoded[0])

	frame := AppendVarInt(nil, int32(len(encoded)))
	frame = append(frame, encoded...)
	pr, err := NewPacketReader(frame)
	require.NoError(t, err)

	s, err := pr.ReadString()
	require.NoError(t, err)
	require.Equal(t, "héllo", s)
	require.Zero(t, pr.Remaining())
}

func TestStringTooLong(t *testing.T) {
	t.Parallel()

	_, err := AppendString(nil, string(bytes.Repeat([]byte("a"), MaxStringLength+1)))
	require.ErrorIs(t, err, ErrStringTooLong)

	_, err = AppendString(nil, string(bytes.Repeat([]byte("a"), MaxStringLength)))
	require.NoError(t, err)

	// A declared length over the limit is rejected before reading the body.
	payload := AppendVarInt(nil, MaxStringLength+1)
	frame := append(AppendVarInt(nil, int32(len(payload))), payload...)
	pr, err := NewPacketReader(frame)
	require.NoError(t, err)
	_, err = pr.ReadString()
	require.ErrorIs(t, err, ErrStringTooLong)
}

func TestLegacyStringCodec(t *testing.T) {
	t.Parallel()

	encoded, err := AppendLegacyString(nil, "A§1")
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x03, 0x00, 'A', 0x00, 0xa7, 0x00, '1'}, encoded)

	decoded, err := ReadLegacyString(bufio.NewReader(bytes.NewReader(encoded)))
	require.NoError(t, err)
	require.Equal(t, "A§1", decoded)
}

func TestLegacyStringSurrogatePairs(t *testing.T) {
	t.Parallel()

	encoded, err := AppendLegacyString(nil, "😀")
	require.NoError(t, err)
	// One rune outside the BMP is two UTF-16 code units.
	require.Equal(t, []byte{0x00, 0x02}, encoded[:2])
	require.Len(t, encoded, 6)
}

func FuzzDecodeVarInt(f *testing.F) {
	f.Add([]byte{0x00})
	f.Add([]byte{0x80, 0x01})
	f.Add([]byte{0xff, 0xff, 0x7f})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff, 0x0f})
	f.Add([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})

	f.Fuzz(func(t *testing.T, input []byte) {
		value, n, err := DecodeVarInt(input)
		if err != nil || n == 0 {
			return
		}
		if n > MaxVarIntLength || n > len(input) {
			t.Fatalf("consumed %d bytes of %d", n, len(input))
		}

		// Canonical encodings round-trip exactly.
		encoded := AppendVarInt(nil, value)
		again, m, err := DecodeVarInt(encoded)
		if err != nil || again != value || m != len(encoded) {
			t.Fatalf("re-encoding %d gave %x", value, encoded)
		}
	})
}
