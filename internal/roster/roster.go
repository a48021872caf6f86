// Package roster keeps the list of online players and the facts the host
// game server reports about itself. It is the status service's player
// registry, max-players provider and version provider.
package roster

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/pingd/internal/events"
	"github.com/energizer-project/pingd/internal/status"
)

// ErrNotReported is returned while the host has not reported a value.
var ErrNotReported = errors.New("not reported by host")

// ServerInfo is what the host game server reports about itself.
type ServerInfo struct {
	MaxPlayers int    `json:"max_players"`
	Version    string `json:"version"`
}

// Roster is the in-memory player registry. It is safe for concurrent use.
type Roster struct {
	mu      sync.RWMutex
	players []status.Player
	info    ServerInfo

	eventBus *events.EventBus
	logger   zerolog.Logger
}

// New creates an empty roster. eventBus may be nil.
func New(eventBus *events.EventBus) *Roster {
	return &Roster{
		eventBus: eventBus,
		logger:   log.With().Str("component", "roster").Logger(),
	}
}

// OfflinePlayerID returns the id an offline-mode server assigns to name: a
// version 3 UUID of the MD5 of "OfflinePlayer:<name>".
func OfflinePlayerID(name string) uuid.UUID {
	h := md5.Sum([]byte("OfflinePlayer:" + name))
	h[6] = (h[6] & 0x0f) | 0x30
	h[8] = (h[8] & 0x3f) | 0x80
	return uuid.UUID(h)
}

// Join adds a player. A nil id is replaced by the player's offline id. It
// returns false if a player with the same id is already online.
func (r *Roster) Join(ctx context.Context, name string, id uuid.UUID) bool {
	if id == uuid.Nil {
		id = OfflinePlayerID(name)
	}

	r.mu.Lock()
	for _, p := range r.players {
		if p.ID == id {
			r.mu.Unlock()
			return false
		}
	}
	r.players = append(r.players, status.Player{Name: name, ID: id})
	r.mu.Unlock()

	r.logger.Debug().Str("player", name).Msg("player joined")
	r.emit(ctx, events.EventPlayerJoined, events.PlayerPayload{Name: name, ID: id.String()})
	return true
}

// Leave removes the player with the given name (case-insensitive). It
// returns false if no such player is online.
func (r *Roster) Leave(ctx context.Context, name string) bool {
	r.mu.Lock()
	idx := -1
	for i, p := range r.players {
		if strings.EqualFold(p.Name, name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	left := r.players[idx]
	r.players = append(r.players[:idx], r.players[idx+1:]...)
	r.mu.Unlock()

	r.logger.Debug().Str("player", left.Name).Msg("player left")
	r.emit(ctx, events.EventPlayerLeft, events.PlayerPayload{Name: left.Name, ID: left.ID.String()})
	return true
}

// Replace swaps the whole player list.
func (r *Roster) Replace(ctx context.Context, players []status.Player, source string) {
	next := make([]status.Player, len(players))
	copy(next, players)

	r.mu.Lock()
	r.players = next
	r.mu.Unlock()

	r.emit(ctx, events.EventRosterSynced, events.RosterSyncedPayload{Players: len(next), Source: source})
}

// SetServerInfo records the host's limits. Zero values clear a field.
func (r *Roster) SetServerInfo(info ServerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = info
}

// ServerInfo returns what the host last reported.
func (r *Roster) ServerInfo() ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}

// PlayerCount returns the number of online players.
func (r *Roster) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// Players returns the online players in join order.
func (r *Roster) Players() []status.Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]status.Player, len(r.players))
	copy(out, r.players)
	return out
}

// MaxPlayers returns the host's player limit.
func (r *Roster) MaxPlayers() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.info.MaxPlayers <= 0 {
		return 0, fmt.Errorf("max players: %w", ErrNotReported)
	}
	return r.info.MaxPlayers, nil
}

// Version returns the host's version string.
func (r *Roster) Version() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.info.Version == "" {
		return "", fmt.Errorf("version: %w", ErrNotReported)
	}
	return r.info.Version, nil
}

func (r *Roster) emit(ctx context.Context, eventType events.EventType, payload interface{}) {
	if r.eventBus == nil {
		return
	}
	r.eventBus.Emit(ctx, events.Event{
		Type:    eventType,
		Source:  "roster",
		Payload: payload,
	})
}
