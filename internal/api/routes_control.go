package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/pingd/internal/events"
	"github.com/energizer-project/pingd/internal/roster"
)

type leaveRequest struct {
	Name string `json:"name" binding:"required"`
}

type replacePlayersRequest struct {
	Players []roster.PlayerEntry `json:"players"`
}

// handlePlayerJoin adds a player to the roster.
func (s *Server) handlePlayerJoin(c *gin.Context) {
	var entry roster.PlayerEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	player, err := entry.Player()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added := s.roster.Join(c.Request.Context(), player.Name, player.ID)
	result := "joined"
	if !added {
		result = "already_online"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  result,
		"name":    player.Name,
		"id":      player.ID.String(),
		"players": s.roster.PlayerCount(),
	})
}

// handlePlayerLeave removes a player from the roster.
func (s *Server) handlePlayerLeave(c *gin.Context) {
	var req leaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.roster.Leave(c.Request.Context(), strings.TrimSpace(req.Name)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online", "name": req.Name})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "left",
		"players": s.roster.PlayerCount(),
	})
}

// handleReplacePlayers replaces the whole roster.
func (s *Server) handleReplacePlayers(c *gin.Context) {
	var req replacePlayersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	players, err := roster.ToPlayers(req.Players)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.roster.Replace(c.Request.Context(), players, "api")
	// Same count with different names would otherwise serve a stale sample
	s.status.Invalidate()

	c.JSON(http.StatusOK, gin.H{
		"status":  "replaced",
		"players": len(players),
	})
}

// handleSetServerInfo records the host-reported max players and version.
func (s *Server) handleSetServerInfo(c *gin.Context) {
	var info roster.ServerInfo
	if err := c.ShouldBindJSON(&info); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if info.MaxPlayers < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_players must not be negative"})
		return
	}

	s.roster.SetServerInfo(info)
	s.status.Invalidate()

	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"info":   s.roster.ServerInfo(),
	})
}

// handleInvalidateCache drops the cached status payload.
func (s *Server) handleInvalidateCache(c *gin.Context) {
	s.status.Invalidate()

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventCacheInvalidated,
		Source: "api",
	})

	s.logger.Info().Str("client_ip", c.ClientIP()).Msg("status cache invalidated")
	c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
}
