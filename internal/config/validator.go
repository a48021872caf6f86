package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// maxMOTDLength is the length above which vanilla clients truncate the MOTD.
const maxMOTDLength = 256

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	ping := cfg.GetPingData()
	app := cfg.GetApplicationData()

	validatePingData(&ping, result)
	validateApplicationData(&app, result)

	if app.API.Enabled && app.API.Port == ping.Port {
		result.AddError("application_data.api.port", "admin API port conflicts with the ping port")
	}

	return result
}

func validatePingData(data *PingData, result *ValidationResult) {
	if ip := strings.TrimSpace(data.BindAddress); ip != "" && net.ParseIP(ip) == nil {
		result.AddError("ping_data.bind_address", fmt.Sprintf("not an IP address: %s", data.BindAddress))
	}

	validatePort(data.Port, "ping_data.port", result)

	if n := utf8.RuneCountInString(data.MOTD); n > maxMOTDLength {
		result.AddWarning("ping_data.motd",
			fmt.Sprintf("motd is %d characters, clients may truncate it", n))
	}

	if data.MaxPlayers < 0 {
		result.AddError("ping_data.max_players", "must not be negative")
	}
	if data.PlayerSampleLimit < 0 {
		result.AddError("ping_data.player_sample_limit", "must not be negative (0 means unlimited)")
	}

	if data.MaxConnections < 1 {
		result.AddError("ping_data.max_connections", "must allow at least 1 connection")
	}
	if data.ReadTimeoutSec < 1 {
		result.AddError("ping_data.read_timeout_sec", "read timeout must be at least 1 second")
	}

	if data.FaviconPath != "" {
		if _, err := os.Stat(data.FaviconPath); os.IsNotExist(err) {
			result.AddWarning("ping_data.favicon_path",
				fmt.Sprintf("file does not exist: %s", data.FaviconPath))
		} else if _, err := LoadFavicon(data.FaviconPath); err != nil {
			result.AddError("ping_data.favicon_path", err.Error())
		}
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	validateTimers(&data.Timers, result)

	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
	}

	if data.Roster.SourceURL != "" {
		if !strings.HasPrefix(data.Roster.SourceURL, "http://") && !strings.HasPrefix(data.Roster.SourceURL, "https://") {
			result.AddError("application_data.roster.source_url", "must be an http or https URL")
		}
		if data.Roster.PollIntervalSec < 1 {
			result.AddError("application_data.roster.poll_interval_sec", "must be at least 1 second")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	if data.API.Enabled && data.Security.APIToken == "" {
		result.AddWarning("application_data.security.api_token",
			"control and configure routes are unauthenticated")
	}

	if data.Stats.Enabled {
		if data.Stats.RetentionDays < 1 {
			result.AddError("application_data.stats.retention_days", "retention days must be at least 1")
		}
		if _, err := time.Parse("15:04", data.Stats.CleanupTime); err != nil {
			result.AddError("application_data.stats.cleanup_time", "expected HH:MM")
		}
		if strings.TrimSpace(data.Stats.DatabasePath) == "" {
			result.AddError("application_data.stats.database_path", "database path is required when stats are enabled")
		}
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
	if timers.SelfTestInterval > 0 && timers.SelfTestInterval < 10 {
		result.AddWarning("timers.self_test_interval",
			"self test interval less than 10s adds noise to the statistics")
	}
	if timers.StatsFlushInterval < 1 {
		result.AddError("timers.stats_flush_interval", "must be at least 1 second")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a TCP port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
