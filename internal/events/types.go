// Package events defines the event types carried by the pingd event bus.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Protocol events, emitted by the listener
	EventRequestServed      EventType = "request_served"
	EventProtocolError      EventType = "protocol_error"
	EventConnectionRejected EventType = "connection_rejected"

	// Status events
	EventCacheInvalidated EventType = "cache_invalidated"

	// Roster events
	EventPlayerJoined EventType = "player_joined"
	EventPlayerLeft   EventType = "player_left"
	EventRosterSynced EventType = "roster_synced"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventHeartbeat     EventType = "heartbeat"
	EventSelfTest      EventType = "self_test"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// RequestServedPayload describes one answered request. Kind is one of
// "status", "ping", "legacy" or "legacy_extended".
type RequestServedPayload struct {
	Kind            string `json:"kind"`
	Remote          string `json:"remote"`
	ProtocolVersion int32  `json:"protocol_version"`
	ServerAddress   string `json:"server_address,omitempty"`
}

// ProtocolErrorPayload describes a connection closed for a protocol error.
type ProtocolErrorPayload struct {
	Remote  string `json:"remote"`
	Reason  string `json:"reason"`
	State   string `json:"state"`
	Message string `json:"message"`
}

// ConnectionRejectedPayload is emitted when the connection cap is reached.
type ConnectionRejectedPayload struct {
	Remote string `json:"remote"`
	Active int    `json:"active"`
}

// PlayerPayload identifies a player joining or leaving.
type PlayerPayload struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// RosterSyncedPayload is emitted when the whole roster is replaced.
type RosterSyncedPayload struct {
	Players int    `json:"players"`
	Source  string `json:"source"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string `json:"section"`
	Origin  string `json:"origin"` // "file" or "api"
}

// HeartbeatPayload is a periodic summary of the daemon's state.
type HeartbeatPayload struct {
	UptimeSec         int64   `json:"uptime_sec"`
	ActiveConnections int     `json:"active_connections"`
	OnlinePlayers     int     `json:"online_players"`
	CacheHits         uint64  `json:"cache_hits"`
	CacheMisses       uint64  `json:"cache_misses"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryUsedMB      uint64  `json:"memory_used_mb"`
}

// SelfTestPayload is the result of querying our own listener.
type SelfTestPayload struct {
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}
