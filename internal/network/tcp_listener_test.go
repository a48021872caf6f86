package network

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/pingd/internal/config"
	"github.com/energizer-project/pingd/internal/events"
	"github.com/energizer-project/pingd/internal/metrics"
	"github.com/energizer-project/pingd/internal/ping"
	"github.com/energizer-project/pingd/internal/protocol"
	"github.com/energizer-project/pingd/internal/status"
)

type fixedPlayers int

func (p fixedPlayers) PlayerCount() int          { return int(p) }
func (p fixedPlayers) Players() []status.Player { return nil }

type harness struct {
	listener *TCPListener
	registry *ConnectionRegistry
	metrics  *metrics.Metrics
	bus      *events.EventBus
	addr     string
}

func startListener(t *testing.T, mutate func(pd *config.PingData)) *harness {
	t.Helper()
	return startListenerWith(t, mutate, nil)
}

// startListenerWith serves responder, or a status service over four
// players when responder is nil.
func startListenerWith(t *testing.T, mutate func(pd *config.PingData), responder ping.Responder) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	pd := cfg.GetPingData()
	pd.BindAddress = "127.0.0.1"
	pd.Port = 0
	pd.MOTD = "Loopback"
	pd.MaxPlayers = 20
	if mutate != nil {
		mutate(&pd)
	}
	cfg.SetPingData(pd)

	h := &harness{
		registry: NewConnectionRegistry(),
		metrics:  metrics.New(),
		bus:      events.NewEventBus(),
	}
	if responder == nil {
		responder = status.NewService(cfg, fixedPlayers(4))
	}
	h.listener = NewTCPListener(cfg, h.bus, responder, h.registry, h.metrics)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.listener.Listen(ctx))
	h.addr = h.listener.Addr().String()

	done := make(chan error, 1)
	go func() { done <- h.listener.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, h.listener.Stop())
		require.NoError(t, <-done)
		h.bus.Stop()
	})
	return h
}

func (h *harness) subscribe(t *testing.T, eventType events.EventType) <-chan events.Event {
	t.Helper()
	ch := make(chan events.Event, 16)
	h.bus.Subscribe(eventType, "test", func(ctx context.Context, e events.Event) error {
		ch <- e
		return nil
	})
	return ch
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestListenerStatusAndPing(t *testing.T) {
	h := startListener(t, nil)
	served := h.subscribe(t, events.EventRequestServed)

	client := &protocol.Client{Timeout: 3 * time.Second, ProtocolVersion: 763}
	result, err := client.Status(context.Background(), h.addr)
	require.NoError(t, err)

	resp, err := status.ParseResponse(result.JSON)
	require.NoError(t, err)
	assert.Equal(t, "Loopback", resp.Description.Text)
	assert.Equal(t, 4, resp.Players.Online)
	assert.Equal(t, 20, resp.Players.Max)

	kinds := map[string]bool{}
	for i := 0; i < 2; i++ {
		e := waitEvent(t, served)
		p := e.Payload.(events.RequestServedPayload)
		kinds[p.Kind] = true
		assert.Equal(t, int32(763), p.ProtocolVersion)
	}
	assert.True(t, kinds["status"])
	assert.True(t, kinds["ping"])

	require.Eventually(t, func() bool { return h.registry.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RequestsTotal.WithLabelValues("status")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ConnectionsTotal))
}

func TestListenerLegacy(t *testing.T) {
	h := startListener(t, nil)

	client := &protocol.Client{Timeout: 3 * time.Second}
	body, err := client.Legacy(context.Background(), h.addr, false)
	require.NoError(t, err)
	assert.Equal(t, "Loopback§4§20", body)

	body, err = client.Legacy(context.Background(), h.addr, true)
	require.NoError(t, err)
	fields, extended := status.ParseLegacy(body)
	require.True(t, extended)
	assert.Equal(t, []string{"0", status.DefaultVersionName, "Loopback", "4", "20"}, fields)
}

func TestListenerClosesOnProtocolError(t *testing.T) {
	h := startListener(t, nil)
	errs := h.subscribe(t, events.EventProtocolError)

	conn, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(protocol.AppendVarInt(nil, protocol.MaxFrameLength+1))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)

	e := waitEvent(t, errs)
	p := e.Payload.(events.ProtocolErrorPayload)
	assert.Equal(t, "corrupted_frame", p.Reason)
	assert.Equal(t, "closed", p.State)

	// The listener keeps serving other clients.
	client := &protocol.Client{Timeout: 3 * time.Second}
	_, err = client.Status(context.Background(), h.addr)
	require.NoError(t, err)
}

type panickingResponder struct{}

func (panickingResponder) Status(context.Context, status.ClientInfo) (string, error) {
	panic("player registry unavailable")
}

func (panickingResponder) Legacy(context.Context, status.ClientInfo, bool) (string, error) {
	panic("player registry unavailable")
}

func TestListenerSurvivesResponderPanic(t *testing.T) {
	h := startListenerWith(t, nil, panickingResponder{})

	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", h.addr)
		require.NoError(t, err)

		_, err = conn.Write([]byte{protocol.LegacyMarker, protocol.LegacyMarker})
		require.NoError(t, err)

		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		n, err := conn.Read(make([]byte, 1))
		assert.Zero(t, n)
		require.ErrorIs(t, err, io.EOF)
		conn.Close()
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.ProtocolErrors.WithLabelValues("panic")) == 2
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.registry.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestListenerLegacyMarkerOnly(t *testing.T) {
	h := startListener(t, func(pd *config.PingData) { pd.ReadTimeoutSec = 1 })
	errs := h.subscribe(t, events.EventProtocolError)

	conn, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{protocol.LegacyMarker})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(make([]byte, 1))
	assert.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)

	p := waitEvent(t, errs).Payload.(events.ProtocolErrorPayload)
	assert.Equal(t, "protocol_violation", p.Reason)
	assert.Equal(t, "closed", p.State)
	assert.Zero(t, testutil.ToFloat64(h.metrics.RequestsTotal.WithLabelValues("legacy")))
}

func TestListenerConnectionCap(t *testing.T) {
	h := startListener(t, func(pd *config.PingData) { pd.MaxConnections = 1 })
	rejected := h.subscribe(t, events.EventConnectionRejected)

	idle, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer idle.Close()
	require.Eventually(t, func() bool { return h.registry.Count() == 1 }, 3*time.Second, 10*time.Millisecond)

	extra, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer extra.Close()

	extra.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = extra.Read(make([]byte, 1))
	require.Error(t, err)

	p := waitEvent(t, rejected).Payload.(events.ConnectionRejectedPayload)
	assert.Equal(t, 1, p.Active)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RejectedTotal))
}

func TestListenerReadTimeout(t *testing.T) {
	h := startListener(t, func(pd *config.PingData) { pd.ReadTimeoutSec = 1 })

	conn, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool { return h.registry.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestListenerStopClosesConnections(t *testing.T) {
	h := startListener(t, nil)

	conn, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.listener.ActiveConnections() == 1 }, 3*time.Second, 10*time.Millisecond)

	h.registry.CloseAll()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}
