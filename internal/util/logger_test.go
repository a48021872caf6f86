package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFileName(t *testing.T) {
	assert.Equal(t, "pingd_2024-06-15.log", LogFileName(time.Date(2024, 6, 15, 23, 0, 0, 0, time.UTC)))
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"pingd_2024-06-13.log",
		"pingd_2024-06-11.log",
		"pingd_2024-06-14.log",
		"pingd_2024-06-12.log",
		"other.log",
		"pingd_notes.txt",
	}
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0644))
	}

	assert.Equal(t, 2, CleanOldLogs(dir, 2))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"pingd_2024-06-13.log",
		"pingd_2024-06-14.log",
		"other.log",
		"pingd_notes.txt",
	}, left)

	assert.Zero(t, CleanOldLogs(dir, 0))
	assert.Zero(t, CleanOldLogs(filepath.Join(dir, "missing"), 1))
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	assert.Equal(t, GetPlatform(), info.Platform)
	assert.Positive(t, info.CPUCores)
	assert.NotEmpty(t, info.GoVersion)
}
