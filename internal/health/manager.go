// Package health runs the daemon's periodic checks: a self-test through
// the game port, stale connection reaping, statistics flushing, disk
// monitoring and the heartbeat.
package health

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/pingd/internal/config"
	"github.com/energizer-project/pingd/internal/db"
	"github.com/energizer-project/pingd/internal/events"
	"github.com/energizer-project/pingd/internal/network"
	"github.com/energizer-project/pingd/internal/protocol"
	"github.com/energizer-project/pingd/internal/roster"
	"github.com/energizer-project/pingd/internal/status"
	"github.com/energizer-project/pingd/internal/util"
)

const diskCheckInterval = 10 * time.Minute

// Manager runs periodic health checks.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	listener *network.TCPListener
	registry *network.ConnectionRegistry
	status   *status.Service
	roster   *roster.Roster
	recorder *db.Recorder
	client   *protocol.Client

	startedAt time.Time
	logger    zerolog.Logger
}

// NewManager creates a new health check manager. recorder may be nil when
// statistics are disabled.
func NewManager(
	cfg *config.Config,
	eventBus *events.EventBus,
	listener *network.TCPListener,
	registry *network.ConnectionRegistry,
	svc *status.Service,
	r *roster.Roster,
	recorder *db.Recorder,
) *Manager {
	return &Manager{
		cfg:       cfg,
		eventBus:  eventBus,
		listener:  listener,
		registry:  registry,
		status:    svc,
		roster:    r,
		recorder:  recorder,
		client:    &protocol.Client{Timeout: 5 * time.Second, ProtocolVersion: -1},
		startedAt: time.Now(),
		logger:    log.With().Str("component", "health").Logger(),
	}
}

// Start launches all checks and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.GetApplicationData().Timers

	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"self_test", seconds(timers.SelfTestInterval), func(ctx context.Context) { m.SelfTest(ctx) }},
		{"connection_reaper", seconds(timers.ConnectionReapInterval), m.reapConnections},
		{"stats_flush", seconds(timers.StatsFlushInterval), m.flushStats},
		{"disk_utilization", diskCheckInterval, m.checkDiskUtilization},
		{"heartbeat", seconds(timers.HeartbeatInterval), func(ctx context.Context) { m.Heartbeat(ctx) }},
	}

	started := 0
	for _, check := range checks {
		check := check
		if check.interval <= 0 {
			continue
		}
		started++

		go func() {
			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	m.logger.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()

	// Last flush so a clean shutdown loses no counters
	m.flushStats(context.Background())
	m.logger.Info().Msg("health check manager stopped")
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// SelfTest queries the listener through the game port and emits the result.
func (m *Manager) SelfTest(ctx context.Context) events.SelfTestPayload {
	var result events.SelfTestPayload

	addr := selfTestAddr(m.listener.Addr())
	if addr == "" {
		result.Error = "listener is not bound"
	} else {
		res, err := m.client.Status(ctx, addr)
		if err == nil {
			_, err = status.ParseResponse(res.JSON)
		}
		if err != nil {
			result.Error = err.Error()
		} else {
			result.OK = true
			result.LatencyMS = res.Latency.Milliseconds()
		}
	}

	if result.OK {
		m.logger.Debug().Int64("latency_ms", result.LatencyMS).Msg("self test passed")
	} else {
		m.logger.Warn().Str("error", result.Error).Msg("self test failed")
	}

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventSelfTest,
		Source:  "health_check",
		Payload: result,
	})
	return result
}

// selfTestAddr maps a wildcard bind address to loopback.
func selfTestAddr(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok || tcp == nil {
		return ""
	}

	ip := tcp.IP
	if ip == nil || ip.IsUnspecified() {
		if ip != nil && ip.To4() == nil {
			ip = net.IPv6loopback
		} else {
			ip = net.IPv4(127, 0, 0, 1)
		}
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(tcp.Port))
}

// reapConnections closes connections idle for twice the read timeout.
func (m *Manager) reapConnections(ctx context.Context) {
	timeout := 2 * seconds(m.cfg.GetPingData().ReadTimeoutSec)
	if cleaned := m.registry.CleanStale(timeout); cleaned > 0 {
		m.logger.Info().Int("cleaned", cleaned).Msg("cleaned stale connections")
	}
}

func (m *Manager) flushStats(ctx context.Context) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Flush(); err != nil {
		m.logger.Error().Err(err).Msg("failed to flush statistics")
	}
}

// checkDiskUtilization warns when the statistics volume fills up.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	stats := m.cfg.GetApplicationData().Stats
	if !stats.Enabled {
		return
	}

	usage, err := util.GetDiskUsage(filepath.Dir(stats.DatabasePath))
	if err != nil {
		m.logger.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	var event *zerolog.Event
	switch {
	case usage.UsedPercent >= 95:
		event = m.logger.Error()
	case usage.UsedPercent >= 90:
		event = m.logger.Warn()
	default:
		m.logger.Debug().Float64("used_percent", usage.UsedPercent).Msg("disk utilization")
		return
	}

	event.
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("statistics volume is almost full")
}

// Heartbeat emits a summary of the daemon's state.
func (m *Manager) Heartbeat(ctx context.Context) events.HeartbeatPayload {
	cache := m.status.Cache().Stats()
	payload := events.HeartbeatPayload{
		UptimeSec:         int64(time.Since(m.startedAt).Seconds()),
		ActiveConnections: m.registry.Count(),
		OnlinePlayers:     m.roster.PlayerCount(),
		CacheHits:         cache.Hits,
		CacheMisses:       cache.Misses,
	}

	if cpu, err := util.GetCPUUsage(); err == nil {
		payload.CPUPercent = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		payload.MemoryUsedMB = mem.Used
	}

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Source:  "heartbeat",
		Payload: payload,
	})
	return payload
}
