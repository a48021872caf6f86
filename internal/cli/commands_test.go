package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
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

func startListener(t *testing.T) string {
	t.Helper()

	cfg := config.DefaultConfig()
	pd := cfg.GetPingData()
	pd.BindAddress = "127.0.0.1"
	pd.Port = 0
	pd.MOTD = "§aCLI §rtest"
	pd.MaxPlayers = 20
	pd.ShowPlayerList = true
	cfg.SetPingData(pd)

	bus := events.NewEventBus()
	r := roster.New(nil)
	r.Join(context.Background(), "Notch", uuid.Nil)

	svc := status.NewService(cfg, r)
	listener := network.NewTCPListener(cfg, bus, svc, network.NewConnectionRegistry(), metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, listener.Listen(ctx))
	done := make(chan error, 1)
	go func() { done <- listener.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		listener.Stop()
		<-done
		bus.Stop()
	})
	return listener.Addr().String()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := NewRootCommand("test", func(ctx context.Context, configDir string) error {
		t.Fatal("serve must not run")
		return nil
	})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestQueryStatus(t *testing.T) {
	addr := startListener(t)

	out, err := execute(t, "query", addr)
	require.NoError(t, err)
	assert.Contains(t, out, addr)
	assert.Contains(t, out, "CLI test")
	assert.NotContains(t, out, "§")
	assert.Contains(t, out, "1/20")
	assert.Contains(t, out, "Notch")
	assert.Contains(t, out, "b50ad385-829d-3141-a216-7e7d7539ba7f")
}

func TestQueryLegacy(t *testing.T) {
	addr := startListener(t)

	out, err := execute(t, "query", "--extended", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "extended")
	assert.Contains(t, out, "CLI test")
	assert.Contains(t, out, "1/20")

	out, err = execute(t, "query", "--legacy", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "basic")
	assert.Contains(t, out, "1/20")
}

func TestQueryUnreachable(t *testing.T) {
	_, err := execute(t, "query", "--timeout", "200ms", "127.0.0.1:1")
	require.Error(t, err)

	_, err = execute(t, "query")
	require.Error(t, err)
}

func TestServeIsDefault(t *testing.T) {
	run := func(args ...string) string {
		var gotDir string
		root := NewRootCommand("test", func(ctx context.Context, configDir string) error {
			gotDir = configDir
			return nil
		})
		root.SetArgs(args)
		require.NoError(t, root.Execute())
		return gotDir
	}

	assert.Equal(t, "/etc/pingd", run("--config", "/etc/pingd"))
	assert.Equal(t, config.DefaultConfigDir, run("serve"))
	assert.Equal(t, "conf", run("serve", "--config", "conf"))
}

func TestStatsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pingd.db")
	stats, err := db.NewStatsDatabase(path)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, stats.AddCounts(map[db.CountKey]int64{
		{Day: db.DayOf(now), Kind: "status"}: 7,
		{Day: db.DayOf(now), Kind: "ping"}:   5,
	}))
	require.NoError(t, stats.InsertErrors([]db.ProtocolErrorRecord{
		{Remote: "10.0.0.9:4000", Reason: "bad_varint", State: "handshake", CreatedAt: now},
	}))
	require.NoError(t, stats.Close())

	out, err := execute(t, "stats", "--db", path, "--days", "3")
	require.NoError(t, err)
	assert.Contains(t, out, db.DayOf(now))
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "bad_varint")
	assert.Contains(t, out, "10.0.0.9:4000")

	out, err = execute(t, "stats", "--db", path, "--errors", "0")
	require.NoError(t, err)
	assert.NotContains(t, out, "bad_varint")
}

func TestRenderLegacyRejectsGarbage(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, RenderLegacy(&buf, "x", "garbage"))
	assert.Empty(t, buf.String())
}

func TestRenderEmpty(t *testing.T) {
	var buf bytes.Buffer
	RenderStats(&buf, nil)
	RenderErrors(&buf, nil)
	assert.Equal(t, "no requests recorded\nno protocol errors recorded\n", buf.String())
}

func TestStripFormatting(t *testing.T) {
	assert.Equal(t, "Green text", StripFormatting("§aGreen §ltext"))
	assert.Equal(t, "plain", StripFormatting("plain"))
	assert.Equal(t, "end", StripFormatting("end§"))
	assert.Equal(t, "x", StripFormatting("§§x"))
}
