package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Handshake is the first modern packet a client sends.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       int32
}

// PacketReader reads typed fields from a single complete frame.
type PacketReader struct {
	r *bytes.Reader
}

// NewPacketReader returns a reader positioned just after the frame's length
// prefix. The prefix must match the number of bytes that follow it.
func NewPacketReader(frame []byte) (*PacketReader, error) {
	length, n, err := DecodeVarInt(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame length: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: missing frame length", ErrTruncatedPacket)
	}
	if int(length) != len(frame)-n {
		return nil, fmt.Errorf("%w: frame declares %d bytes, has %d", ErrProtocolViolation, length, len(frame)-n)
	}
	return &PacketReader{r: bytes.NewReader(frame[n:])}, nil
}

// Remaining returns the number of unread bytes.
func (p *PacketReader) Remaining() int {
	return p.r.Len()
}

// ReadVarInt reads a VarInt field.
func (p *PacketReader) ReadVarInt() (int32, error) {
	v, err := ReadVarInt(p.r)
	if err != nil {
		return 0, truncated("varint", err)
	}
	return v, nil
}

// ReadString reads a modern protocol string of at most MaxStringLength bytes.
func (p *PacketReader) ReadString() (string, error) {
	length, err := p.ReadVarInt()
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", fmt.Errorf("%w: negative string length %d", ErrProtocolViolation, length)
	}
	if length > MaxStringLength {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrStringTooLong, length, MaxStringLength)
	}

	data, err := p.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadUint16 reads a big-endian uint16.
func (p *PacketReader) ReadUint16() (uint16, error) {
	var v uint16
	if err := binary.Read(p.r, binary.BigEndian, &v); err != nil {
		return 0, truncated("uint16", err)
	}
	return v, nil
}

// ReadInt64 reads a big-endian int64.
func (p *PacketReader) ReadInt64() (int64, error) {
	var v int64
	if err := binary.Read(p.r, binary.BigEndian, &v); err != nil {
		return 0, truncated("int64", err)
	}
	return v, nil
}

// ReadBytes reads exactly n bytes.
func (p *PacketReader) ReadBytes(n int) ([]byte, error) {
	if n > p.r.Len() {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrTruncatedPacket, n, p.r.Len())
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(p.r, data); err != nil {
		return nil, truncated("bytes", err)
	}
	return data, nil
}

// ReadHandshake reads the body of a handshake packet (after the packet id).
func ReadHandshake(p *PacketReader) (Handshake, error) {
	var hs Handshake
	var err error

	if hs.ProtocolVersion, err = p.ReadVarInt(); err != nil {
		return hs, fmt.Errorf("failed to parse handshake protocol version: %w", err)
	}
	if hs.ServerAddress, err = p.ReadString(); err != nil {
		return hs, fmt.Errorf("failed to parse handshake server address: %w", err)
	}
	if hs.ServerPort, err = p.ReadUint16(); err != nil {
		return hs, fmt.Errorf("failed to parse handshake server port: %w", err)
	}
	if hs.NextState, err = p.ReadVarInt(); err != nil {
		return hs, fmt.Errorf("failed to parse handshake next state: %w", err)
	}
	return hs, nil
}

// truncated maps end-of-input inside a complete frame to ErrTruncatedPacket.
func truncated(field string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s", ErrTruncatedPacket, field)
	}
	return fmt.Errorf("failed to read %s: %w", field, err)
}
