package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func statusRequestFrames(t *testing.T) []byte {
	t.Helper()
	handshake, err := BuildHandshake(Handshake{
		ProtocolVersion: 763,
		ServerAddress:   "play.example.net",
		ServerPort:      25565,
		NextState:       NextStateStatus,
	})
	require.NoError(t, err)
	return append(handshake, BuildStatusRequest()...)
}

func drain(t *testing.T, d *FrameDecoder) [][]byte {
	t.Helper()
	var frames [][]byte
	for {
		frame, err := d.Next()
		require.NoError(t, err)
		if frame == nil {
			return frames
		}
		frames = append(frames, frame)
	}
}

func TestFrameDecoderSingleChunk(t *testing.T) {
	t.Parallel()

	input := statusRequestFrames(t)
	var d FrameDecoder
	d.Write(input)

	frames := drain(t, &d)
	require.Len(t, frames, 2)
	require.Equal(t, input, bytes.Join(frames, nil))
	require.Zero(t, d.Buffered())
}

func TestFrameDecoderByteByByte(t *testing.T) {
	t.Parallel()

	input := statusRequestFrames(t)

	var whole FrameDecoder
	whole.Write(input)
	expected := drain(t, &whole)

	var d FrameDecoder
	var got [][]byte
	for _, b := range input {
		d.Write([]byte{b})
		got = append(got, drain(t, &d)...)
	}

	require.Equal(t, expected, got)
	require.Zero(t, d.Buffered())
}

func TestFrameDecoderWaitsForPayload(t *testing.T) {
	t.Parallel()

	var d FrameDecoder
	d.Write([]byte{0x05, 0x01, 0x02})

	frame, err := d.Next()
	require.NoError(t, err)
	require.Nil(t, frame)
	// Nothing is consumed while waiting.
	require.Equal(t, 3, d.Buffered())

	d.Write([]byte{0x03, 0x04, 0x05, 0x09})
	frame, err = d.Next()
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x01, 0x02, 0x03, 0x04, 0x05}, frame)
	require.Equal(t, 1, d.Buffered())
}

func TestFrameDecoderWaitsForLengthPrefix(t *testing.T) {
	t.Parallel()

	var d FrameDecoder
	d.Write([]byte{0x80})

	frame, err := d.Next()
	require.NoError(t, err)
	require.Nil(t, frame)
	require.Equal(t, 1, d.Buffered())

	d.Write([]byte{0x01})
	frame, err = d.Next()
	require.NoError(t, err)
	require.Nil(t, frame)
	require.Equal(t, 2, d.Buffered())
}

func TestFrameDecoderOversize(t *testing.T) {
	t.Parallel()

	var d FrameDecoder
	d.Write(AppendVarInt(nil, MaxFrameLength+1))

	frame, err := d.Next()
	require.ErrorIs(t, err, ErrCorruptedFrame)
	require.Nil(t, frame)
}

func TestFrameDecoderMaxLengthAccepted(t *testing.T) {
	t.Parallel()

	var d FrameDecoder
	d.Write(AppendVarInt(nil, MaxFrameLength))

	// A legal length just waits for its payload.
	frame, err := d.Next()
	require.NoError(t, err)
	require.Nil(t, frame)
}

func TestFrameDecoderMalformedLength(t *testing.T) {
	t.Parallel()

	var d FrameDecoder
	d.Write([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01})

	_, err := d.Next()
	require.ErrorIs(t, err, ErrCorruptedFrame)
	require.ErrorIs(t, err, ErrMalformedVarInt)
}

func TestFrameDecoderReprefixesNonCanonicalLength(t *testing.T) {
	t.Parallel()

	var d FrameDecoder
	// Length 1 encoded in two bytes.
	d.Write([]byte{0x81, 0x00, 0x2a})

	frame, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x2a}, frame)
}

func TestFrameDecoderPeekAndDiscard(t *testing.T) {
	t.Parallel()

	var d FrameDecoder
	d.Write([]byte{0xfe, 0x01})

	b, ok := d.Peek(0)
	require.True(t, ok)
	require.Equal(t, LegacyMarker, b)

	_, ok = d.Peek(2)
	require.False(t, ok)

	require.Equal(t, 1, d.Discard(1))
	b, ok = d.Peek(0)
	require.True(t, ok)
	require.Equal(t, LegacyExtension, b)

	require.Equal(t, 1, d.Discard(10))
	require.Zero(t, d.Buffered())
}

func TestFramesAreIndependentCopies(t *testing.T) {
	t.Parallel()

	var d FrameDecoder
	d.Write([]byte{0x01, 0xaa, 0x01, 0xbb})

	first, err := d.Next()
	require.NoError(t, err)
	second, err := d.Next()
	require.NoError(t, err)

	first[1] = 0x00
	require.Equal(t, []byte{0x01, 0xbb}, second)
}

func FuzzFrameDecoder(f *testing.F) {
	f.Add([]byte{0x01, 0x00}, uint8(1))
	f.Add([]byte{0x10, 0x00, 0xfb, 0x05, 0x09, 'l', 'o', 'c', 'a', 'l', 'h', 'o', 's', 't', 0x63, 0xdd, 0x01, 0x01, 0x00}, uint8(3))
	f.Add([]byte{0x80, 0x80, 0x80, 0x01}, uint8(2))
	f.Add([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, uint8(1))

	f.Fuzz(func(t *testing.T, input []byte, chunk uint8) {
		if chunk == 0 {
			chunk = 1
		}

		var whole FrameDecoder
		whole.Write(input)
		var expected [][]byte
		var wholeErr error
		for {
			frame, err := whole.Next()
			if err != nil {
				wholeErr = err
				break
			}
			if frame == nil {
				break
			}
			expected = append(expected, frame)
		}

		var d FrameDecoder
		var got [][]byte
		var chunkErr error
	feed:
		for i := 0; i < len(input); i += int(chunk) {
			end := min(i+int(chunk), len(input))
			d.Write(input[i:end])
			for {
				frame, err := d.Next()
				if err != nil {
					chunkErr = err
					break feed
				}
				if frame == nil {
					break
				}
				if len(frame) > MaxVarIntLength+MaxFrameLength {
					t.Fatalf("frame of %d bytes", len(frame))
				}
				got = append(got, frame)
			}
		}

		if (wholeErr == nil) != (chunkErr == nil) {
			t.Fatalf("chunked error %v, whole error %v", chunkErr, wholeErr)
		}
		if !bytes.Equal(bytes.Join(expected, nil), bytes.Join(got, nil)) {
			t.Fatalf("chunked frames differ from whole frames")
		}
	})
}
