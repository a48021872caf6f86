package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/pingd/internal/config"
	"github.com/energizer-project/pingd/internal/db"
	"github.com/energizer-project/pingd/internal/events"
	"github.com/energizer-project/pingd/internal/metrics"
	"github.com/energizer-project/pingd/internal/network"
	"github.com/energizer-project/pingd/internal/roster"
	"github.com/energizer-project/pingd/internal/status"
)

type apiHarness struct {
	cfg    *config.Config
	roster *roster.Roster
	status *status.Service
	stats  *db.StatsDatabase
	bus    *events.EventBus
	router http.Handler
}

func newHarness(t *testing.T, token string) *apiHarness {
	t.Helper()
	dir := t.TempDir()

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	appData := cfg.GetApplicationData()
	appData.Security.APIToken = token
	cfg.SetApplicationData(appData)

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	r := roster.New(bus)
	svc := status.NewService(cfg, r,
		status.WithMaxPlayersProvider(r),
		status.WithVersionProvider(r))

	stats, err := db.NewStatsDatabase(filepath.Join(dir, "pingd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { stats.Close() })

	m := metrics.New()
	m.WatchCache(func() (uint64, uint64) {
		st := svc.Cache().Stats()
		return st.Hits, st.Misses
	})

	srv := NewServer(cfg, bus, svc, r, "test")
	srv.SetDependencies(network.NewConnectionRegistry(), stats, m)

	return &apiHarness{cfg: cfg, roster: r, status: svc, stats: stats, bus: bus, router: srv.Handler()}
}

func (h *apiHarness) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestPublicPing(t *testing.T) {
	h := newHarness(t, "")
	w := h.do(t, http.MethodGet, "/api/public/ping", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "pingd", body["service"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "pingd", w.Header().Get("Server"))
}

func TestStatusPreviewFollowsRoster(t *testing.T) {
	h := newHarness(t, "")

	w := h.do(t, http.MethodPost, "/api/control/players/join", `{"name":"Notch"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var joined map[string]interface{}
	decode(t, w, &joined)
	assert.Equal(t, "joined", joined["status"])
	assert.Equal(t, "b50ad385-829d-3141-a216-7e7d7539ba7f", joined["id"])

	w = h.do(t, http.MethodPost, "/api/control/players/join", `{"name":"Notch"}`, "")
	decode(t, w, &joined)
	assert.Equal(t, "already_online", joined["status"])

	w = h.do(t, http.MethodPut, "/api/control/server_info", `{"max_players":42,"version":"1.20.4-R0.1"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/api/public/status", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp status.Response
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Players.Online)
	assert.Equal(t, 42, resp.Players.Max)
	assert.Equal(t, "1.20.4", resp.Version.Name)
	assert.Equal(t, "A Minecraft Server", resp.Description.Text)

	w = h.do(t, http.MethodPost, "/api/control/players/leave", `{"name":"notch"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, http.MethodPost, "/api/control/players/leave", `{"name":"notch"}`, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestReplacePlayers(t *testing.T) {
	h := newHarness(t, "")

	w := h.do(t, http.MethodPut, "/api/control/players", `{"players":[{"name":"a"},{"name":"b"}]}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, h.roster.PlayerCount())

	w = h.do(t, http.MethodPut, "/api/control/players", `{"players":[{"name":"c","id":"bad"}]}`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 2, h.roster.PlayerCount())

	w = h.do(t, http.MethodPost, "/api/control/players/join", `{}`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidateCache(t *testing.T) {
	h := newHarness(t, "")

	emitted := make(chan events.Event, 1)
	h.bus.Subscribe(events.EventCacheInvalidated, "test", func(_ context.Context, e events.Event) error {
		emitted <- e
		return nil
	})

	_, err := h.status.Status(context.Background(), status.ClientInfo{})
	require.NoError(t, err)
	require.True(t, h.status.Cache().Stats().Cached)

	w := h.do(t, http.MethodPost, "/api/control/invalidate_cache", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, h.status.Cache().Stats().Cached)

	select {
	case e := <-emitted:
		assert.Equal(t, "api", e.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no cache_invalidated event")
	}

	w = h.do(t, http.MethodGet, "/api/monitor/cache", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats status.CacheStats
	decode(t, w, &stats)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestTokenRequired(t *testing.T) {
	h := newHarness(t, "s3cret")

	w := h.do(t, http.MethodGet, "/api/public/ping", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/api/monitor/connections", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = h.do(t, http.MethodGet, "/api/monitor/connections", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = h.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(t, http.MethodGet, "/api/monitor/connections", "", "s3cret")
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/api/configure/get_config", "", "s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), redacted)
	assert.NotContains(t, w.Body.String(), "s3cret")
}

func TestSetPingData(t *testing.T) {
	h := newHarness(t, "")

	changed := make(chan events.ConfigChangedPayload, 1)
	h.bus.Subscribe(events.EventConfigChanged, "test", func(_ context.Context, e events.Event) error {
		changed <- e.Payload.(events.ConfigChangedPayload)
		return nil
	})

	pd := h.cfg.GetPingData()
	pd.MOTD = "Hello from the API"
	body, err := json.Marshal(pd)
	require.NoError(t, err)

	w := h.do(t, http.MethodPost, "/api/configure/set_ping_data", string(body), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Hello from the API", h.cfg.MOTD())

	select {
	case p := <-changed:
		assert.Equal(t, "ping_data", p.Section)
		assert.Equal(t, "api", p.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("no config_changed event")
	}

	reloaded, err := config.Load(filepath.Dir(h.cfg.Path()))
	require.NoError(t, err)
	assert.Equal(t, "Hello from the API", reloaded.MOTD())

	pd.Port = 0
	body, err = json.Marshal(pd)
	require.NoError(t, err)
	w = h.do(t, http.MethodPost, "/api/configure/set_ping_data", string(body), "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "ping_data.port")
}

func TestStatsEndpoints(t *testing.T) {
	h := newHarness(t, "")
	now := time.Now()

	require.NoError(t, h.stats.AddCounts(map[db.CountKey]int64{
		{Day: db.DayOf(now), Kind: "status"}: 5,
	}))
	require.NoError(t, h.stats.InsertErrors([]db.ProtocolErrorRecord{
		{Remote: "1.2.3.4:5", Reason: "corrupted_frame", CreatedAt: now},
	}))

	w := h.do(t, http.MethodGet, "/api/monitor/stats?days=3", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Days  int              `json:"days"`
		Daily []db.DailyTotals `json:"daily"`
	}
	decode(t, w, &stats)
	assert.Equal(t, 3, stats.Days)
	require.Len(t, stats.Daily, 1)
	assert.Equal(t, int64(5), stats.Daily[0].Status)

	w = h.do(t, http.MethodGet, "/api/monitor/errors?limit=10", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "corrupted_frame")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, "")
	w := h.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "pingd_connections_total"))
	assert.True(t, strings.Contains(w.Body.String(), "pingd_status_cache_hits_total"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()

	assert.True(t, rl.allow("1.1.1.1", now))
	assert.True(t, rl.allow("1.1.1.1", now))
	assert.False(t, rl.allow("1.1.1.1", now))
	assert.True(t, rl.allow("2.2.2.2", now))
	assert.True(t, rl.allow("1.1.1.1", now.Add(time.Second)))
}
