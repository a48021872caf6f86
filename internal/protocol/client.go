package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// DefaultClientTimeout bounds a whole query exchange.
const DefaultClientTimeout = 5 * time.Second

// Client queries a Server List Ping responder. The zero value is usable.
type Client struct {
	// Timeout bounds one query, from dial to the final read.
	Timeout time.Duration

	// ProtocolVersion is sent in the handshake.
	ProtocolVersion int32
}

// StatusResult is the outcome of a modern status query.
type StatusResult struct {
	JSON    string
	Latency time.Duration
}

// Status performs handshake, status request and ping/pong against addr
// ("host:port"; the port defaults to DefaultPort).
func (c *Client) Status(ctx context.Context, addr string) (*StatusResult, error) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx, net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	handshake, err := BuildHandshake(Handshake{
		ProtocolVersion: c.ProtocolVersion,
		ServerAddress:   host,
		ServerPort:      port,
		NextState:       NextStateStatus,
	})
	if err != nil {
		return nil, err
	}

	if _, err := conn.Write(append(handshake, BuildStatusRequest()...)); err != nil {
		return nil, fmt.Errorf("failed to send status request: %w", err)
	}

	r := bufio.NewReader(conn)
	pr, err := readPacket(r, PktStatusResponse)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}
	payload, err := pr.ReadString()
	if err != nil {
		return nil, fmt.Errorf("failed to read status payload: %w", err)
	}

	token := time.Now().UnixNano()
	start := time.Now()
	if _, err := conn.Write(BuildPing(token)); err != nil {
		return nil, fmt.Errorf("failed to send ping: %w", err)
	}

	pr, err = readPacket(r, PktPong)
	if err != nil {
		return nil, fmt.Errorf("failed to read pong: %w", err)
	}
	echoed, err := pr.ReadInt64()
	if err != nil {
		return nil, fmt.Errorf("failed to read pong payload: %w", err)
	}
	if echoed != token {
		return nil, fmt.Errorf("%w: pong payload %d does not match ping %d", ErrProtocolViolation, echoed, token)
	}

	return &StatusResult{JSON: payload, Latency: time.Since(start)}, nil
}

// Legacy performs a pre-netty ping and returns the decoded response string.
// The extended form is requested with 0xFE 0xFE 0x01, the basic one with 0xFE 0xFE.
func (c *Client) Legacy(ctx context.Context, addr string, extended bool) (string, error) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return "", err
	}

	conn, err := c.dial(ctx, net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	request := []byte{LegacyMarker, LegacyMarker}
	if extended {
		request = []byte{LegacyMarker, LegacyMarker, LegacyExtension}
	}
	if _, err := conn.Write(request); err != nil {
		return "", fmt.Errorf("failed to send legacy ping: %w", err)
	}

	r := bufio.NewReader(conn)
	marker, err := r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("failed to read legacy response: %w", err)
	}
	if marker != LegacyResponse {
		return "", fmt.Errorf("%w: legacy response marker 0x%02x", ErrProtocolViolation, marker)
	}
	return ReadLegacyString(r)
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)
	return conn, nil
}

// ReadFrame reads one length-prefixed frame from r and returns it with its
// prefix, bounded by MaxFrameLength.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if length < 0 || length > MaxFrameLength {
		return nil, fmt.Errorf("%w: declared length %d", ErrCorruptedFrame, length)
	}

	frame := AppendVarInt(make([]byte, 0, VarIntSize(length)+int(length)), length)
	frame = frame[:len(frame)+int(length)]
	if _, err := io.ReadFull(r, frame[len(frame)-int(length):]); err != nil {
		return nil, err
	}
	return frame, nil
}

func readPacket(r *bufio.Reader, want int32) (*PacketReader, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	pr, err := NewPacketReader(frame)
	if err != nil {
		return nil, err
	}
	id, err := pr.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if id != want {
		return nil, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrUnexpectedPacketID, id, want)
	}
	return pr, nil
}

func splitHostPort(addr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port given
		return addr, DefaultPort, nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, uint16(port), nil
}
