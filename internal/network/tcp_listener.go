package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/pingd/internal/config"
	"github.com/energizer-project/pingd/internal/events"
	"github.com/energizer-project/pingd/internal/metrics"
	"github.com/energizer-project/pingd/internal/ping"
	"github.com/energizer-project/pingd/internal/protocol"
	"github.com/energizer-project/pingd/internal/status"
)

// readBufferSize fits any legitimate status exchange in one read.
const readBufferSize = 1024

// TCPListener accepts client connections on the game port and runs one
// ping.Session per connection, each in its own goroutine.
type TCPListener struct {
	cfg       *config.Config
	eventBus  *events.EventBus
	responder ping.Responder
	registry  *ConnectionRegistry
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	nextID   atomic.Uint64
	wg       sync.WaitGroup
}

// NewTCPListener creates a new TCP listener.
func NewTCPListener(cfg *config.Config, eventBus *events.EventBus, responder ping.Responder,
	registry *ConnectionRegistry, m *metrics.Metrics) *TCPListener {
	return &TCPListener{
		cfg:       cfg,
		eventBus:  eventBus,
		responder: responder,
		registry:  registry,
		metrics:   m,
		logger:    log.With().Str("component", "tcp_listener").Logger(),
	}
}

// Listen binds the configured address.
func (l *TCPListener) Listen(ctx context.Context) error {
	pd := l.cfg.GetPingData()
	addr := net.JoinHostPort(pd.BindAddress, strconv.Itoa(pd.Port))

	// SO_REUSEADDR allows immediate rebinding after a restart.
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", addr, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.logger.Info().Str("addr", ln.Addr().String()).Msg("ping listener started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *TCPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Start binds the listener and serves until ctx is cancelled.
func (l *TCPListener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled or Stop is called.
func (l *TCPListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return errors.New("listener is not bound")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logger.Info().Msg("ping listener stopping")
				return nil
			}
			l.logger.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		l.wg.Add(1)
		go l.handleConnection(ctx, conn)
	}
}

// handleConnection owns one client socket for its whole life. Every failure
// ends here: it is logged, counted and closes this connection only.
func (l *TCPListener) handleConnection(ctx context.Context, raw net.Conn) {
	defer l.wg.Done()
	start := time.Now()

	if tcp, ok := raw.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	conn := NewConnection(l.nextID.Add(1), raw)
	logger := conn.Logger()
	l.metrics.ConnectionsTotal.Inc()

	pd := l.cfg.GetPingData()
	if err := l.registry.Register(conn, pd.MaxConnections); err != nil {
		conn.Close()
		l.metrics.RejectedTotal.Inc()
		logger.Warn().Err(err).Msg("connection rejected")
		l.eventBus.Emit(ctx, events.Event{
			Type:   events.EventConnectionRejected,
			Source: "tcp_listener",
			Payload: events.ConnectionRejectedPayload{
				Remote: raw.RemoteAddr().String(),
				Active: l.registry.Count(),
			},
		})
		return
	}

	l.metrics.ActiveConnections.Inc()
	defer func() {
		l.registry.Unregister(conn.ID())
		l.metrics.ActiveConnections.Dec()
		l.metrics.ConnectionDuration.Observe(time.Since(start).Seconds())
	}()

	// A panicking collaborator takes down this connection only
	defer func() {
		if r := recover(); r != nil {
			l.metrics.ProtocolErrors.WithLabelValues("panic").Inc()
			logger.Error().
				Str("remote", raw.RemoteAddr().String()).
				Interface("panic", r).
				Msg("connection handler panicked")
		}
	}()

	session := ping.NewSession(l.responder, raw.RemoteAddr())
	timeout := time.Duration(pd.ReadTimeoutSec) * time.Second
	buf := make([]byte, readBufferSize)

	for {
		n, readErr := conn.Read(buf, timeout)
		if n > 0 {
			out, err := session.Feed(ctx, buf[:n])
			conn.SetState(session.State().String())

			if len(out.Data) > 0 {
				if werr := conn.Write(out.Data); werr != nil {
					logger.Debug().Err(werr).Msg("write failed")
					return
				}
			}
			l.recordServed(ctx, session, out.Served)

			if err != nil {
				l.recordError(ctx, logger, session, err)
				return
			}
			if out.Close {
				return
			}
		}

		if readErr != nil {
			if err := session.Finish(); err != nil {
				l.recordError(ctx, logger, session, err)
			}

			var netErr net.Error
			switch {
			case errors.Is(readErr, io.EOF), conn.IsClosed():
				logger.Trace().Msg("client closed connection")
			case errors.As(readErr, &netErr) && netErr.Timeout():
				logger.Debug().Str("state", session.State().String()).Msg("read timed out")
			default:
				logger.Debug().Err(readErr).Msg("read failed")
			}
			return
		}
	}
}

func (l *TCPListener) recordServed(ctx context.Context, session *ping.Session, served []ping.Kind) {
	if len(served) == 0 {
		return
	}

	client := session.Client()
	for _, kind := range served {
		l.metrics.RequestsTotal.WithLabelValues(string(kind)).Inc()
		l.eventBus.Emit(ctx, events.Event{
			Type:   events.EventRequestServed,
			Source: "tcp_listener",
			Payload: events.RequestServedPayload{
				Kind:            string(kind),
				Remote:          client.RemoteAddr(),
				ProtocolVersion: client.ProtocolVersion,
				ServerAddress:   client.ServerAddress,
			},
		})
	}
}

func (l *TCPListener) recordError(ctx context.Context, logger *zerolog.Logger, session *ping.Session, err error) {
	if errors.Is(err, status.ErrSuppressed) {
		logger.Debug().Msg("response suppressed by hook")
		return
	}

	reason := protocol.Reason(err)
	l.metrics.ProtocolErrors.WithLabelValues(reason).Inc()
	logger.Debug().Err(err).Str("reason", reason).Msg("closing connection after protocol error")

	l.eventBus.Emit(ctx, events.Event{
		Type:   events.EventProtocolError,
		Source: "tcp_listener",
		Payload: events.ProtocolErrorPayload{
			Remote:  session.Client().RemoteAddr(),
			Reason:  reason,
			State:   session.State().String(),
			Message: err.Error(),
		},
	})
}

// ActiveConnections returns the number of open connections.
func (l *TCPListener) ActiveConnections() int {
	return l.registry.Count()
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to exit.
func (l *TCPListener) Stop() error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	l.registry.CloseAll()
	l.wg.Wait()
	return err
}
