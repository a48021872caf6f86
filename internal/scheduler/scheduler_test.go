package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/pingd/internal/config"
	"github.com/energizer-project/pingd/internal/db"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in           string
		hour, minute int
	}{
		{"04:00", 4, 0},
		{"23:59", 23, 59},
		{"7:5", 7, 5},
		{"", 4, 0},
		{"25:00", 4, 0},
		{"ab:cd", 4, 0},
		{"12", 4, 0},
	}

	for _, tt := range tests {
		h, m := parseClock(tt.in)
		assert.Equal(t, tt.hour, h, tt.in)
		assert.Equal(t, tt.minute, m, tt.in)
	}
}

func TestNextRun(t *testing.T) {
	cfg := config.DefaultConfig()
	s := NewScheduler(cfg, nil)

	s.now = func() time.Time { return time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC) }
	assert.Equal(t, time.Date(2024, 3, 10, 4, 0, 0, 0, time.UTC), s.nextRun())

	s.now = func() time.Time { return time.Date(2024, 3, 10, 4, 0, 0, 0, time.UTC) }
	assert.Equal(t, time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC), s.nextRun())

	appData := cfg.GetApplicationData()
	appData.Stats.CleanupTime = "23:15"
	cfg.SetApplicationData(appData)
	assert.Equal(t, time.Date(2024, 3, 10, 23, 15, 0, 0, time.UTC), s.nextRun())
}

func TestPruneStats(t *testing.T) {
	stats, err := db.NewStatsDatabase(filepath.Join(t.TempDir(), "pingd.db"))
	require.NoError(t, err)
	defer stats.Close()

	now := time.Date(2024, 3, 10, 4, 0, 0, 0, time.UTC)
	require.NoError(t, stats.AddCounts(map[db.CountKey]int64{
		{Day: db.DayOf(now.AddDate(0, 0, -90)), Kind: "status"}: 3,
		{Day: db.DayOf(now), Kind: "status"}:                    1,
	}))

	s := NewScheduler(config.DefaultConfig(), stats)
	s.now = func() time.Time { return now }
	s.PruneStats()

	daily, err := stats.Daily(365, now)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, db.DayOf(now), daily[0].Day)
}
