package protocol

import "fmt"

// FrameDecoder accumulates the bytes of one connection and splits them into
// complete length-prefixed frames. Input may arrive in chunks of any size.
// A FrameDecoder belongs to a single connection and is not safe for
// concurrent use.
type FrameDecoder struct {
	buf []byte
}

// Write appends p to the pending input. It never fails.
func (d *FrameDecoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes not yet consumed.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}

// Peek returns the pending byte at offset i without consuming it.
func (d *FrameDecoder) Peek(i int) (byte, bool) {
	if i < 0 || i >= len(d.buf) {
		return 0, false
	}
	return d.buf[i], true
}

// Discard consumes up to n pending bytes and returns how many were dropped.
func (d *FrameDecoder) Discard(n int) int {
	if n > len(d.buf) {
		n = len(d.buf)
	}
	d.consume(n)
	return n
}

// Next returns the next complete frame, including its VarInt length prefix.
// It returns (nil, nil) when the pending bytes do not yet hold a whole frame;
// in that case nothing is consumed. A length prefix that is malformed or
// outside [0, MaxFrameLength] fails with ErrCorruptedFrame.
func (d *FrameDecoder) Next() ([]byte, error) {
	length, n, err := DecodeVarInt(d.buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptedFrame, err)
	}
	if n == 0 {
		return nil, nil
	}

	if length < 0 || length > MaxFrameLength {
		return nil, fmt.Errorf("%w: declared length %d (max %d)", ErrCorruptedFrame, length, MaxFrameLength)
	}

	total := n + int(length)
	if len(d.buf) < total {
		return nil, nil
	}

	frame := make([]byte, 0, VarIntSize(length)+int(length))
	frame = AppendVarInt(frame, length)
	frame = append(frame, d.buf[n:total]...)

	d.consume(total)
	return frame, nil
}

func (d *FrameDecoder) consume(n int) {
	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
}
