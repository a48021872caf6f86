package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/text/encoding/unicode"
)

var utf16BE = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// AppendString appends a modern protocol string: a VarInt byte count
// followed by the UTF-8 bytes.
func AppendString(dst []byte, s string) ([]byte, error) {
	if len(s) > MaxStringLength {
		return dst, fmt.Errorf("%w: %d bytes (max %d)", ErrStringTooLong, len(s), MaxStringLength)
	}
	dst = AppendVarInt(dst, int32(len(s)))
	return append(dst, s...), nil
}

// AppendLegacyString appends a legacy protocol string: a big-endian uint16
// count of UTF-16 code units followed by the UTF-16BE bytes.
func AppendLegacyString(dst []byte, s string) ([]byte, error) {
	encoded, err := utf16BE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return dst, fmt.Errorf("failed to encode legacy string: %w", err)
	}

	units := len(encoded) / 2
	if units > math.MaxUint16 {
		return dst, fmt.Errorf("%w: %d code units", ErrStringTooLong, units)
	}

	dst = binary.BigEndian.AppendUint16(dst, uint16(units))
	return append(dst, encoded...), nil
}

// ReadLegacyString reads a string written by AppendLegacyString.
func ReadLegacyString(r io.Reader) (string, error) {
	var units uint16
	if err := binary.Read(r, binary.BigEndian, &units); err != nil {
		return "", fmt.Errorf("failed to read legacy string length: %w", err)
	}

	raw := make([]byte, int(units)*2)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", fmt.Errorf("failed to read legacy string (%d code units): %w", units, err)
	}

	decoded, err := utf16BE.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode legacy string: %w", err)
	}
	return string(decoded), nil
}
