package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs modern protocol packets. The first write error is
// kept and reported by Build and BuildFrame, so calls can be chained.
type PacketBuilder struct {
	buf bytes.Buffer
	err error
}

// NewPacketBuilder creates a builder whose payload starts with packetID.
func NewPacketBuilder(packetID int32) *PacketBuilder {
	b := &PacketBuilder{}
	return b.WriteVarInt(packetID)
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteVarInt writes a VarInt.
func (b *PacketBuilder) WriteVarInt(v int32) *PacketBuilder {
	var tmp [MaxVarIntLength]byte
	b.buf.Write(AppendVarInt(tmp[:0], v))
	return b
}

// WriteUint16 writes a uint16 in big-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteInt64 writes an int64 in big-endian order.
func (b *PacketBuilder) WriteInt64(v int64) *PacketBuilder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteString writes a VarInt-prefixed UTF-8 string.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	if b.err != nil {
		return b
	}
	data, err := AppendString(nil, s)
	if err != nil {
		b.err = err
		return b
	}
	b.buf.Write(data)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the packet payload (packet id and fields) without a length prefix.
func (b *PacketBuilder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.buf.Bytes(), nil
}

// BuildFrame returns the packet with its VarInt length prefix.
func (b *PacketBuilder) BuildFrame() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	data := b.buf.Bytes()
	frame := make([]byte, 0, VarIntSize(int32(len(data)))+len(data))
	frame = AppendVarInt(frame, int32(len(data)))
	return append(frame, data...), nil
}

// Len returns the current payload size.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// ---- Pre-built packet constructors ----

// BuildHandshake creates a handshake frame (0x00).
// Format: [id][protocol:varint][address:string][port:u16][next_state:varint]
func BuildHandshake(hs Handshake) ([]byte, error) {
	return NewPacketBuilder(PktHandshake).
		WriteVarInt(hs.ProtocolVersion).
		WriteString(hs.ServerAddress).
		WriteUint16(hs.ServerPort).
		WriteVarInt(hs.NextState).
		BuildFrame()
}

// BuildStatusRequest creates an empty status request frame (0x00).
func BuildStatusRequest() []byte {
	frame, _ := NewPacketBuilder(PktStatusRequest).BuildFrame()
	return frame
}

// BuildStatusResponse creates a status response frame (0x00) carrying the JSON payload.
func BuildStatusResponse(payload string) ([]byte, error) {
	return NewPacketBuilder(PktStatusResponse).WriteString(payload).BuildFrame()
}

// BuildPing creates a ping frame (0x01).
func BuildPing(payload int64) []byte {
	frame, _ := NewPacketBuilder(PktPing).WriteInt64(payload).BuildFrame()
	return frame
}

// BuildPong creates a pong frame (0x01) echoing payload.
func BuildPong(payload int64) []byte {
	frame, _ := NewPacketBuilder(PktPong).WriteInt64(payload).BuildFrame()
	return frame
}

// BuildLegacyResponse creates a legacy response: [0xFF][units:u16][utf16be].
func BuildLegacyResponse(body string) ([]byte, error) {
	return AppendLegacyString([]byte{LegacyResponse}, body)
}

// String returns a hex dump of the current payload for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}
