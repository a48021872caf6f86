// Package protocol implements the Server List Ping wire format used by
// pingd: the VarInt codec, modern and legacy string encodings, the frame
// decoder that reassembles length-prefixed packets from a TCP stream, and a
// small query client. Modern packets carry a VarInt length prefix and use
// big-endian byte order for fixed-width fields.
package protocol

// Modern packet ids. Serverbound and clientbound ids share values.
const (
	PktHandshake      int32 = 0x00 // Handshake (handshake state)
	PktStatusRequest  int32 = 0x00 // Status request (status state, no body)
	PktStatusResponse int32 = 0x00 // Status response (JSON string)
	PktPing           int32 = 0x01 // Ping with 8-byte payload
	PktPong           int32 = 0x01 // Pong echoing the ping payload
)

// Handshake next-state values.
const (
	NextStateStatus int32 = 1
	NextStateLogin  int32 = 2
)

// Legacy (pre-netty) protocol bytes.
const (
	LegacyMarker        byte = 0xFE // first byte of a legacy server list ping
	LegacyExtension     byte = 0x01 // appended by 1.4+ clients
	LegacyPluginMessage byte = 0xFA // MC|PingHost, sent by 1.6 clients
	LegacyResponse      byte = 0xFF // kick packet carrying the legacy response
)

// Size limits enforced on inbound data.
const (
	// MaxFrameLength is the largest value a 3-byte VarInt can carry.
	MaxFrameLength = 2097151

	// MaxStringLength bounds modern protocol strings, in bytes.
	MaxStringLength = 32767

	// MaxVarIntLength is the longest legal VarInt encoding.
	MaxVarIntLength = 5

	// PingPayloadSize is the size of the opaque ping/pong payload.
	PingPayloadSize = 8
)

// DefaultPort is the conventional game port clients assume.
const DefaultPort = 25565
