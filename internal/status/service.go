package status

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/pingd/internal/protocol"
)

// Fallbacks used when neither the host nor the configuration supplies a value.
const (
	DefaultMaxPlayers  = 100
	DefaultVersionName = "Minecraft Server"
)

// Player is one online player.
type Player struct {
	Name string
	ID   uuid.UUID
}

// PlayerRegistry reports who is online.
type PlayerRegistry interface {
	PlayerCount() int
	Players() []Player
}

// MaxPlayersProvider reports the host's player limit.
type MaxPlayersProvider interface {
	MaxPlayers() (int, error)
}

// VersionProvider reports the host's version string.
type VersionProvider interface {
	Version() (string, error)
}

// Settings is the configuration the service reads on every build.
type Settings interface {
	MOTD() string
	ShowPlayerList() bool
	Favicon() string
	MaxPlayers() int
	VersionName() string
	PlayerSampleLimit() int
}

// Service answers status and legacy queries. It gathers a fresh snapshot
// from its collaborators on every cache miss, lets hooks rewrite it, and
// serializes the result.
type Service struct {
	settings   Settings
	players    PlayerRegistry
	maxPlayers MaxPlayersProvider
	version    VersionProvider
	cache      *Cache
	hooks      *Hooks
	logger     zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxPlayersProvider sets the source of the host's player limit.
func WithMaxPlayersProvider(p MaxPlayersProvider) Option {
	return func(s *Service) { s.maxPlayers = p }
}

// WithVersionProvider sets the source of the host's version string.
func WithVersionProvider(p VersionProvider) Option {
	return func(s *Service) { s.version = p }
}

// WithCache replaces the default one-second cache.
func WithCache(c *Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithHooks shares a hook list with the service.
func WithHooks(h *Hooks) Option {
	return func(s *Service) { s.hooks = h }
}

// NewService creates a status service.
func NewService(settings Settings, players PlayerRegistry, opts ...Option) *Service {
	s := &Service{
		settings: settings,
		players:  players,
		logger:   log.With().Str("component", "status").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewCache(DefaultCacheTTL)
	}
	if s.hooks == nil {
		s.hooks = NewHooks()
	}
	return s
}

// Cache returns the service's payload cache.
func (s *Service) Cache() *Cache {
	return s.cache
}

// Hooks returns the service's hook list.
func (s *Service) Hooks() *Hooks {
	return s.hooks
}

// Invalidate drops the cached payload, e.g. after a configuration change.
func (s *Service) Invalidate() {
	s.cache.Invalidate()
	s.logger.Debug().Msg("status cache invalidated")
}

// Status returns the JSON status payload for client.
func (s *Service) Status(ctx context.Context, client ClientInfo) (string, error) {
	count := s.players.PlayerCount()

	return s.cache.GetOrBuild(count, func() (string, error) {
		event := s.newEvent(client, count)
		s.hooks.Fire(ctx, event)
		if event.Cancelled() {
			return "", ErrSuppressed
		}
		return s.encode(event.Response())
	})
}

// Legacy returns the legacy response body for client. Legacy responses are
// never cached.
func (s *Service) Legacy(ctx context.Context, client ClientInfo, extended bool) (string, error) {
	client.Legacy = true
	event := s.newEvent(client, s.players.PlayerCount())

	s.hooks.Fire(ctx, event)
	if event.Cancelled() {
		return "", ErrSuppressed
	}

	if extended {
		return LegacyExtended(event.VersionProtocol, event.VersionName, event.MOTD,
			event.OnlinePlayers, event.MaxPlayers), nil
	}
	return LegacyBasic(event.MOTD, event.OnlinePlayers, event.MaxPlayers), nil
}

// Snapshot gathers the current status without hooks or caching.
func (s *Service) Snapshot() *Response {
	return s.newEvent(ClientInfo{}, s.players.PlayerCount()).Response()
}

func (s *Service) newEvent(client ClientInfo, count int) *PingEvent {
	event := &PingEvent{
		client:        client,
		MOTD:          s.settings.MOTD(),
		OnlinePlayers: count,
		MaxPlayers:    s.resolveMaxPlayers(),
		VersionName:   s.resolveVersion(),
		Favicon:       s.settings.Favicon(),
	}

	if !client.Legacy && count > 0 && s.settings.ShowPlayerList() {
		event.PlayerSample = s.sample()
	}
	return event
}

func (s *Service) sample() []PlayerSample {
	players := s.players.Players()
	if limit := s.settings.PlayerSampleLimit(); limit > 0 && len(players) > limit {
		players = players[:limit]
	}

	sample := make([]PlayerSample, 0, len(players))
	for _, p := range players {
		sample = append(sample, PlayerSample{Name: p.Name, ID: p.ID.String()})
	}
	return sample
}

func (s *Service) resolveMaxPlayers() int {
	if s.maxPlayers != nil {
		n, err := s.maxPlayers.MaxPlayers()
		if err == nil && n > 0 {
			return n
		}
		if err != nil {
			s.logger.Debug().Err(err).Msg("max players unavailable, using fallback")
		}
	}

	if n := s.settings.MaxPlayers(); n > 0 {
		return n
	}
	return DefaultMaxPlayers
}

func (s *Service) resolveVersion() string {
	if s.version != nil {
		v, err := s.version.Version()
		if err != nil {
			s.logger.Debug().Err(err).Msg("version unavailable, using fallback")
		} else if v = TrimBuildSuffix(v); v != "" {
			return v
		}
	}

	if v := TrimBuildSuffix(s.settings.VersionName()); v != "" {
		return v
	}
	return DefaultVersionName
}

// encode serializes resp, dropping the favicon and then the player sample if
// the payload would not fit in a protocol string.
func (s *Service) encode(resp *Response) (string, error) {
	payload, err := resp.Marshal()
	if err != nil {
		return "", err
	}

	if len(payload) > protocol.MaxStringLength && resp.Favicon != "" {
		s.logger.Warn().Int("bytes", len(payload)).Msg("status payload too large, dropping favicon")
		resp.Favicon = ""
		if payload, err = resp.Marshal(); err != nil {
			return "", err
		}
	}

	if len(payload) > protocol.MaxStringLength && len(resp.Players.Sample) > 0 {
		s.logger.Warn().Int("bytes", len(payload)).Msg("status payload too large, dropping player sample")
		resp.Players.Sample = nil
		if payload, err = resp.Marshal(); err != nil {
			return "", err
		}
	}

	if len(payload) > protocol.MaxStringLength {
		return "", fmt.Errorf("%w: status payload is %d bytes", protocol.ErrStringTooLong, len(payload))
	}
	return payload, nil
}

// TrimBuildSuffix strips a trailing build identifier: "1.2.3-abc" becomes "1.2.3".
func TrimBuildSuffix(version string) string {
	version = strings.TrimSpace(version)
	if i := strings.IndexByte(version, '-'); i >= 0 {
		version = version[:i]
	}
	return version
}
