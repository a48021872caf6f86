package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/pingd/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pingd",
		"version": s.version,
	})
}

// handleGetStatus previews the status payload as a client would see it,
// without hooks or caching.
func (s *Server) handleGetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Snapshot())
}

// handleGetServerInfo returns basic host and listener information.
func (s *Server) handleGetServerInfo(c *gin.Context) {
	pingData := s.cfg.GetPingData()
	snap := s.status.Snapshot()
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"bind_address":    pingData.BindAddress,
		"port":            pingData.Port,
		"motd":            snap.Description.Text,
		"version":         snap.Version.Name,
		"online_players":  snap.Players.Online,
		"max_players":     snap.Players.Max,
		"hostname":        sysInfo.Hostname,
		"platform":        sysInfo.Platform,
		"os":              sysInfo.OS,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}
