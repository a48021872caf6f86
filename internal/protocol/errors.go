package protocol

import "errors"

// Running out of input is not an error: decoders report it as a distinct
// "need more data" result (n == 0, or a nil frame) so callers can wait for
// the next read. Everything below is fatal for the connection.
var (
	ErrMalformedVarInt    = errors.New("malformed varint")
	ErrCorruptedFrame     = errors.New("corrupted frame")
	ErrStringTooLong      = errors.New("string too long")
	ErrUnexpectedPacketID = errors.New("unexpected packet id")
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrTruncatedPacket    = errors.New("truncated packet")
)

// Reason returns a short, stable label for a protocol error, suitable for
// metrics labels and statistics. Unknown errors map to "other".
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedVarInt):
		return "malformed_varint"
	case errors.Is(err, ErrCorruptedFrame):
		return "corrupted_frame"
	case errors.Is(err, ErrStringTooLong):
		return "string_too_long"
	case errors.Is(err, ErrUnexpectedPacketID):
		return "unexpected_packet_id"
	case errors.Is(err, ErrTruncatedPacket):
		return "truncated_packet"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	default:
		return "other"
	}
}
