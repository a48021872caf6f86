package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/energizer-project/pingd/internal/status"
)

// Message events accepted by Apply.
const (
	MessageJoin  = "join"
	MessageLeave = "leave"
	MessageSync  = "sync"
)

// PlayerEntry is a player as reported by the host. ID may be empty, in
// which case the offline id is derived from the name.
type PlayerEntry struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// Player converts the entry into a status player.
func (e PlayerEntry) Player() (status.Player, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return status.Player{}, fmt.Errorf("player name is empty")
	}
	if e.ID == "" {
		return status.Player{Name: name, ID: OfflinePlayerID(name)}, nil
	}
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return status.Player{}, fmt.Errorf("invalid id for player %s: %w", name, err)
	}
	return status.Player{Name: name, ID: id}, nil
}

// Message is a roster update pushed by the host, over MQTT or the admin API.
//
//	{"event":"join","name":"Steve"}
//	{"event":"leave","name":"Steve"}
//	{"event":"sync","players":[{"name":"Steve"}],"max_players":20,"version":"1.20.1"}
type Message struct {
	Event      string        `json:"event"`
	Name       string        `json:"name,omitempty"`
	ID         string        `json:"id,omitempty"`
	Players    []PlayerEntry `json:"players,omitempty"`
	MaxPlayers int           `json:"max_players,omitempty"`
	Version    string        `json:"version,omitempty"`
}

// ParseMessage decodes a JSON roster message.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("failed to parse roster message: %w", err)
	}
	return msg, nil
}

// Apply performs the update described by msg.
func (r *Roster) Apply(ctx context.Context, msg Message, source string) error {
	switch msg.Event {
	case MessageJoin:
		p, err := PlayerEntry{Name: msg.Name, ID: msg.ID}.Player()
		if err != nil {
			return err
		}
		r.Join(ctx, p.Name, p.ID)
		return nil

	case MessageLeave:
		if strings.TrimSpace(msg.Name) == "" {
			return fmt.Errorf("player name is empty")
		}
		r.Leave(ctx, msg.Name)
		return nil

	case MessageSync:
		players, err := ToPlayers(msg.Players)
		if err != nil {
			return err
		}
		r.SetServerInfo(ServerInfo{MaxPlayers: msg.MaxPlayers, Version: msg.Version})
		r.Replace(ctx, players, source)
		return nil

	default:
		return fmt.Errorf("unknown roster event %q", msg.Event)
	}
}

// ToPlayers converts host entries, rejecting the batch on the first bad one.
func ToPlayers(entries []PlayerEntry) ([]status.Player, error) {
	players := make([]status.Player, 0, len(entries))
	for _, e := range entries {
		p, err := e.Player()
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, nil
}
