// Package ping implements the per-connection Server List Ping state
// machine. A Session consumes raw bytes from one TCP connection and returns
// the bytes to write back; it performs no I/O itself.
package ping

import (
	"context"
	"fmt"
	"net"

	"github.com/energizer-project/pingd/internal/protocol"
	"github.com/energizer-project/pingd/internal/status"
)

// State is the protocol state of a session.
type State int

const (
	StateHandshake State = iota
	StateStatus
	StateLegacy
	StateClosed
)

var stateNames = map[State]string{
	StateHandshake: "handshake",
	StateStatus:    "status",
	StateLegacy:    "legacy",
	StateClosed:    "closed",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Kind identifies a request a session answered.
type Kind string

const (
	KindStatus         Kind = "status"
	KindPing           Kind = "ping"
	KindLegacy         Kind = "legacy"
	KindLegacyExtended Kind = "legacy_extended"
)

// Responder builds response bodies. *status.Service implements it.
type Responder interface {
	Status(ctx context.Context, client status.ClientInfo) (string, error)
	Legacy(ctx context.Context, client status.ClientInfo, extended bool) (string, error)
}

// Output is the result of feeding bytes to a session.
type Output struct {
	// Data is written to the connection, even when Feed also returns an error.
	Data []byte

	// Close is set when the connection must be closed after Data is written.
	Close bool

	// Served lists the requests answered by Data, in order.
	Served []Kind
}

// Session is the protocol state of one connection. It must only be used by
// the goroutine that owns the connection.
type Session struct {
	responder Responder
	decoder   protocol.FrameDecoder
	state     State
	client    status.ClientInfo
}

// NewSession creates a session in the handshake state.
func NewSession(responder Responder, remote net.Addr) *Session {
	return &Session{
		responder: responder,
		state:     StateHandshake,
		client:    status.ClientInfo{Addr: remote},
	}
}

// State returns the current protocol state.
func (s *Session) State() State {
	return s.state
}

// Client returns what the session knows about its client.
func (s *Session) Client() status.ClientInfo {
	return s.client
}

// Feed consumes p and processes every complete packet it makes available.
// A returned error is fatal: the session is closed and the caller should
// write out.Data (if any) and close the connection.
func (s *Session) Feed(ctx context.Context, p []byte) (Output, error) {
	var out Output
	if s.state == StateClosed {
		out.Close = true
		return out, nil
	}

	s.decoder.Write(p)

	for !out.Close {
		if s.state == StateHandshake {
			if b, ok := s.decoder.Peek(0); ok && b == protocol.LegacyMarker {
				s.state = StateLegacy
			}
		}

		if s.state == StateLegacy {
			if err := s.handleLegacy(ctx, &out); err != nil {
				return s.fail(out, err)
			}
			break
		}

		frame, err := s.decoder.Next()
		if err != nil {
			return s.fail(out, err)
		}
		if frame == nil {
			break
		}

		if err := s.handleFrame(ctx, frame, &out); err != nil {
			return s.fail(out, err)
		}
	}

	return out, nil
}

// Finish ends a session whose connection delivered no more bytes. A legacy
// ping still missing its packet id fails with ErrProtocolViolation and gets
// no response.
func (s *Session) Finish() error {
	if s.state != StateLegacy {
		return nil
	}
	s.state = StateClosed
	return fmt.Errorf("%w: legacy ping without packet id", protocol.ErrProtocolViolation)
}

func (s *Session) fail(out Output, err error) (Output, error) {
	s.state = StateClosed
	out.Close = true
	return out, err
}

func (s *Session) close(out *Output) {
	s.state = StateClosed
	out.Close = true
}

func (s *Session) handleFrame(ctx context.Context, frame []byte, out *Output) error {
	r, err := protocol.NewPacketReader(frame)
	if err != nil {
		return err
	}

	id, err := r.ReadVarInt()
	if err != nil {
		return fmt.Errorf("failed to read packet id: %w", err)
	}

	switch s.state {
	case StateHandshake:
		return s.handleHandshake(id, r, out)
	case StateStatus:
		return s.handleStatus(ctx, id, r, out)
	default:
		return fmt.Errorf("%w: packet 0x%02x in state %s", protocol.ErrProtocolViolation, id, s.state)
	}
}

func (s *Session) handleHandshake(id int32, r *protocol.PacketReader, out *Output) error {
	if id != protocol.PktHandshake {
		return fmt.Errorf("%w: 0x%02x in handshake state", protocol.ErrUnexpectedPacketID, id)
	}

	hs, err := protocol.ReadHandshake(r)
	if err != nil {
		return err
	}

	s.client.ProtocolVersion = hs.ProtocolVersion
	s.client.ServerAddress = hs.ServerAddress
	s.client.ServerPort = hs.ServerPort

	if hs.NextState != protocol.NextStateStatus {
		// Login and transfer are not served here.
		s.close(out)
		return nil
	}

	s.state = StateStatus
	return nil
}

func (s *Session) handleStatus(ctx context.Context, id int32, r *protocol.PacketReader, out *Output) error {
	switch id {
	case protocol.PktStatusRequest:
		payload, err := s.responder.Status(ctx, s.client)
		if err != nil {
			return err
		}
		frame, err := protocol.BuildStatusResponse(payload)
		if err != nil {
			return err
		}
		out.Data = append(out.Data, frame...)
		out.Served = append(out.Served, KindStatus)
		return nil

	case protocol.PktPing:
		payload, err := r.ReadInt64()
		if err != nil {
			return fmt.Errorf("failed to read ping payload: %w", err)
		}
		out.Data = append(out.Data, protocol.BuildPong(payload)...)
		out.Served = append(out.Served, KindPing)
		s.close(out)
		return nil

	default:
		return fmt.Errorf("%w: 0x%02x in status state", protocol.ErrUnexpectedPacketID, id)
	}
}

// handleLegacy answers a pre-netty ping: the marker, packet id 0xFE, then
// an optional 0x01 extension byte judged on what is already buffered. Bytes
// after that (1.6 clients append a plugin message) are ignored. While only
// the marker has arrived it waits for more.
func (s *Session) handleLegacy(ctx context.Context, out *Output) error {
	id, ok := s.decoder.Peek(1)
	if !ok {
		return nil
	}

	s.close(out)
	if id != protocol.LegacyMarker {
		return fmt.Errorf("%w: legacy packet id 0x%02x", protocol.ErrProtocolViolation, id)
	}

	ext, ok := s.decoder.Peek(2)
	extended := ok && ext == protocol.LegacyExtension
	s.decoder.Discard(s.decoder.Buffered())

	s.client.Legacy = true
	s.client.ProtocolVersion = 0

	body, err := s.responder.Legacy(ctx, s.client, extended)
	if err != nil {
		return err
	}

	resp, err := protocol.BuildLegacyResponse(body)
	if err != nil {
		return err
	}

	out.Data = append(out.Data, resp...)
	if extended {
		out.Served = append(out.Served, KindLegacyExtended)
	} else {
		out.Served = append(out.Served, KindLegacy)
	}
	return nil
}
