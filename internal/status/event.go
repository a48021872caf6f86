package status

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrSuppressed is returned when a hook cancels a ping event. No response
// is sent and the connection is closed.
var ErrSuppressed = errors.New("status response suppressed by hook")

// ClientInfo describes the client a response is being built for.
type ClientInfo struct {
	Addr            net.Addr
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	Legacy          bool
}

// RemoteAddr returns the client address as a string, or "" if unknown.
func (c ClientInfo) RemoteAddr() string {
	if c.Addr == nil {
		return ""
	}
	return c.Addr.String()
}

// PingEvent carries the fields of a response about to be serialized. Hooks
// may overwrite any exported field or cancel the response.
type PingEvent struct {
	client ClientInfo

	MOTD            string
	OnlinePlayers   int
	MaxPlayers      int
	VersionName     string
	VersionProtocol int
	PlayerSample    []PlayerSample
	Favicon         string

	cancelled bool
}

// Client returns the requesting client.
func (e *PingEvent) Client() ClientInfo {
	return e.client
}

// Cancel suppresses the response.
func (e *PingEvent) Cancel() {
	e.cancelled = true
}

// Cancelled reports whether a hook cancelled the response.
func (e *PingEvent) Cancelled() bool {
	return e.cancelled
}

// Response converts the event into a JSON response object.
func (e *PingEvent) Response() *Response {
	return &Response{
		Version: Version{
			Name:     e.VersionName,
			Protocol: e.VersionProtocol,
		},
		Players: Players{
			Max:    e.MaxPlayers,
			Online: e.OnlinePlayers,
			Sample: e.PlayerSample,
		},
		Description: Description{Text: e.MOTD},
		Favicon:     e.Favicon,
	}
}

// HookFunc observes or rewrites a ping event.
type HookFunc func(ctx context.Context, event *PingEvent) error

type hookEntry struct {
	name string
	fn   HookFunc
}

// Hooks is an ordered list of ping event observers. Fire calls them
// synchronously in registration order.
type Hooks struct {
	mu      sync.RWMutex
	entries []hookEntry
}

// NewHooks creates an empty hook list.
func NewHooks() *Hooks {
	return &Hooks{}
}

// Register appends a named hook. Names are used in logs and by Unregister.
func (h *Hooks) Register(name string, fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, hookEntry{name: name, fn: fn})

	log.Debug().Str("hook", name).Msg("ping hook registered")
}

// Unregister removes every hook registered under name.
func (h *Hooks) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.entries[:0:0]
	for _, e := range h.entries {
		if e.name != name {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// Len returns the number of registered hooks.
func (h *Hooks) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Fire runs every hook against event. A hook that returns an error or
// panics is logged and skipped; the remaining hooks still run.
func (h *Hooks) Fire(ctx context.Context, event *PingEvent) {
	h.mu.RLock()
	entries := h.entries
	h.mu.RUnlock()

	for _, e := range entries {
		h.call(ctx, e, event)
	}
}

func (h *Hooks) call(ctx context.Context, e hookEntry, event *PingEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("hook", e.name).
				Interface("panic", r).
				Msg("ping hook panicked")
		}
	}()

	if err := e.fn(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("hook", e.name).
			Str("remote", event.client.RemoteAddr()).
			Msg("ping hook failed")
	}
}
