package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/pingd/internal/util"
)

// queryInt parses an integer query parameter clamped to [lo, hi].
func queryInt(c *gin.Context, key string, def, lo, hi int) int {
	n, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if err != nil || n < lo {
		return def
	}
	if n > hi {
		return hi
	}
	return n
}

// handleGetStats returns per-day request counters.
func (s *Server) handleGetStats(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "statistics are disabled"})
		return
	}

	days := queryInt(c, "days", 7, 1, 365)
	daily, err := s.stats.Daily(days, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read daily stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read statistics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"days":  days,
		"daily": daily,
	})
}

// handleGetErrors returns the most recent protocol errors.
func (s *Server) handleGetErrors(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "statistics are disabled"})
		return
	}

	limit := queryInt(c, "limit", 50, 1, 1000)
	records, err := s.stats.RecentErrors(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read protocol errors")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read protocol errors"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"errors": records,
		"count":  len(records),
	})
}

// handleGetConnections lists open client connections.
func (s *Server) handleGetConnections(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusOK, gin.H{"connections": []interface{}{}, "total": 0})
		return
	}

	conns := s.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"connections": conns,
		"total":       len(conns),
	})
}

// handleGetCache returns status cache counters.
func (s *Server) handleGetCache(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Cache().Stats())
}

// handleGetSystem returns host CPU and memory usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	cpuPercent, err := util.GetCPUUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	mem, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cpu_percent": cpuPercent,
		"memory":      mem,
	})
}

// handleGetLogEntries returns recent log entries.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	count := queryInt(c, "count", 100, 1, 1000)

	logDir := s.cfg.GetApplicationData().Logging.Directory
	entries, err := readRecentLogEntries(logDir, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleMetrics serves the Prometheus registry.
func (s *Server) handleMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics are disabled"})
		return
	}
	s.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// logEntry is a parsed log entry for the API response.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries parses the last count JSON lines of the newest
// pingd log file.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, err
	}

	// Dated names sort chronologically
	var logFiles []string
	for _, e := range dirEntries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".log" {
			logFiles = append(logFiles, e.Name())
		}
	}
	if len(logFiles) == 0 {
		return []logEntry{}, nil
	}
	sort.Strings(logFiles)

	data, err := os.ReadFile(filepath.Join(logDir, logFiles[len(logFiles)-1]))
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	start := len(lines) - count - 1
	if start < 0 {
		start = 0
	}

	// zerolog fields that have their own slot in logEntry
	knownKeys := map[string]bool{
		"level": true, "time": true, "message": true,
		"caller": true, "app": true,
	}

	result := make([]logEntry, 0, count)
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Timestamp: stringFromMap(raw, "time"),
			Level:     stringFromMap(raw, "level"),
			Message:   stringFromMap(raw, "message"),
		}

		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}

		result = append(result, entry)
	}

	if len(result) > count {
		result = result[len(result)-count:]
	}
	return result, nil
}

// stringFromMap extracts a string value from a map, returning "" if missing.
func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
