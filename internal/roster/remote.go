package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"github.com/energizer-project/pingd/internal/config"
	"github.com/energizer-project/pingd/internal/metrics"
)

const (
	userAgent        = "pingd/roster-poller"
	maxSnapshotBytes = 1 << 20
)

// Snapshot is the document served by the host's roster endpoint.
type Snapshot struct {
	MaxPlayers int           `json:"max_players"`
	Version    string        `json:"version"`
	Players    []PlayerEntry `json:"players"`
}

// Poller periodically fetches a Snapshot from the host game server and
// applies it to the roster. Fetches go through a circuit breaker; while it
// is open the roster keeps the last good snapshot.
type Poller struct {
	roster   *Roster
	url      string
	interval time.Duration
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[*Snapshot]
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewPoller creates a poller for cfg.SourceURL. m may be nil.
func NewPoller(r *Roster, cfg config.RosterConfig, m *metrics.Metrics) *Poller {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	interval := time.Duration(cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}

	p := &Poller{
		roster:   r,
		url:      cfg.SourceURL,
		interval: interval,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    2,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		metrics: m,
		logger:  log.With().Str("component", "roster_poller").Str("url", cfg.SourceURL).Logger(),
	}

	p.breaker = gobreaker.NewCircuitBreaker[*Snapshot](gobreaker.Settings{
		Name:        "roster",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     4 * interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("roster circuit breaker changed state")
			if p.metrics != nil {
				p.metrics.RosterBreakerState.Set(float64(to))
			}
		},
	})

	return p
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info().Dur("interval", p.interval).Msg("roster poller started")

	if err := p.Poll(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("initial roster poll failed")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				p.logger.Debug().Err(err).Msg("roster poll failed")
			}
		}
	}
}

// Poll fetches one snapshot and applies it.
func (p *Poller) Poll(ctx context.Context) error {
	snap, err := p.breaker.Execute(func() (*Snapshot, error) {
		return p.fetch(ctx)
	})
	if err != nil {
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "skipped"
		}
		p.count(result)
		return err
	}

	players, err := ToPlayers(snap.Players)
	if err != nil {
		p.count("invalid")
		return fmt.Errorf("invalid roster snapshot: %w", err)
	}

	p.roster.SetServerInfo(ServerInfo{MaxPlayers: snap.MaxPlayers, Version: snap.Version})
	p.roster.Replace(ctx, players, "poller")
	p.count("ok")
	return nil
}

// State returns the circuit breaker state.
func (p *Poller) State() gobreaker.State {
	return p.breaker.State()
}

func (p *Poller) fetch(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create roster request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roster endpoint returned %d", resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSnapshotBytes)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode roster snapshot: %w", err)
	}
	return &snap, nil
}

func (p *Poller) count(result string) {
	if p.metrics != nil {
		p.metrics.RosterPolls.WithLabelValues(result).Inc()
	}
}
