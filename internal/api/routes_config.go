package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/pingd/internal/config"
	"github.com/energizer-project/pingd/internal/events"
)

const redacted = "********"

// handleGetConfig returns the current configuration with secrets redacted.
func (s *Server) handleGetConfig(c *gin.Context) {
	appData := s.cfg.GetApplicationData()
	if appData.Security.APIToken != "" {
		appData.Security.APIToken = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"ping_data":        s.cfg.GetPingData(),
		"application_data": appData,
	})
}

// handleSetPingData validates, applies and persists new ping settings.
func (s *Server) handleSetPingData(c *gin.Context) {
	var pingData config.PingData
	if err := c.ShouldBindJSON(&pingData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	candidate := config.DefaultConfig()
	candidate.PingData = pingData
	candidate.ApplicationData = s.cfg.GetApplicationData()

	result := config.Validate(candidate)
	if !result.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid ping data",
			"errors": validationMessages(result.Errors),
		})
		return
	}

	s.cfg.SetPingData(pingData)
	if err := s.cfg.Save(); err != nil {
		s.logger.Error().Err(err).Msg("failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.status.Invalidate()
	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: "ping_data",
			Origin:  "api",
		},
	})

	s.logger.Info().Str("client_ip", c.ClientIP()).Msg("ping data updated")

	c.JSON(http.StatusOK, gin.H{
		"status":   "updated",
		"data":     s.cfg.GetPingData(),
		"warnings": validationMessages(result.Warnings),
	})
}

func validationMessages(errs []config.ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field+": "+e.Message)
	}
	return out
}
