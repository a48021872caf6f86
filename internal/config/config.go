// Package config handles configuration loading, validation, persistence and
// hot reload for pingd.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultPingPort   = 25565
	DefaultAPIPort    = 5080
)

// Config is the root configuration structure for pingd.
type Config struct {
	mu      sync.RWMutex
	path    string
	favicon string

	PingData        PingData        `json:"ping_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// PingData configures the Server List Ping listener and the facts it reports.
type PingData struct {
	BindAddress string `json:"bind_address"`
	Port        int    `json:"port"`

	MOTD              string `json:"motd"`
	ShowPlayerList    bool   `json:"show_player_list"`
	MaxPlayers        int    `json:"max_players"`
	VersionName       string `json:"version_name"`
	FaviconPath       string `json:"favicon_path"`
	PlayerSampleLimit int    `json:"player_sample_limit"`

	MaxConnections int `json:"max_connections"`
	ReadTimeoutSec int `json:"read_timeout_sec"`
}

// ApplicationData contains daemon settings unrelated to the wire protocol.
type ApplicationData struct {
	API      APIConfig      `json:"api"`
	Roster   RosterConfig   `json:"roster"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	Timers   TimerConfig    `json:"timers"`
	Stats    StatsConfig    `json:"stats"`
}

// APIConfig holds admin API settings.
type APIConfig struct {
	Enabled     bool   `json:"enabled"`
	BindAddress string `json:"bind_address"`
	Port        int    `json:"port"`
}

// RosterConfig holds settings for polling the host game server's roster.
// Polling is disabled while SourceURL is empty.
type RosterConfig struct {
	SourceURL       string `json:"source_url"`
	PollIntervalSec int    `json:"poll_interval_sec"`
	TimeoutSec      int    `json:"timeout_sec"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	RosterTopic string `json:"roster_topic"`
}

// SecurityConfig holds admin API security settings.
type SecurityConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	APIToken       string   `json:"api_token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// TimerConfig holds health check and task interval settings.
type TimerConfig struct {
	HeartbeatInterval      int `json:"heartbeat_interval_sec"`
	SelfTestInterval       int `json:"self_test_interval_sec"`
	StatsFlushInterval     int `json:"stats_flush_interval_sec"`
	ConnectionReapInterval int `json:"connection_reap_interval_sec"`
}

// StatsConfig holds ping statistics persistence settings.
type StatsConfig struct {
	Enabled       bool   `json:"enabled"`
	DatabasePath  string `json:"database_path"`
	RetentionDays int    `json:"retention_days"`
	CleanupTime   string `json:"cleanup_time"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PingData: PingData{
			BindAddress:    "0.0.0.0",
			Port:           DefaultPingPort,
			MOTD:           "A Minecraft Server",
			MaxPlayers:     100,
			MaxConnections: 1024,
			ReadTimeoutSec: 30,
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled:     true,
				BindAddress: "127.0.0.1",
				Port:        DefaultAPIPort,
			},
			Roster: RosterConfig{
				PollIntervalSec: 10,
				TimeoutSec:      3,
			},
			MQTT: MQTTConfig{
				Port:        1883,
				ClientID:    "pingd",
				RosterTopic: "pingd/roster",
			},
			Security: SecurityConfig{
				RateLimitRPS: 50,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 7,
				Console:    true,
			},
			Timers: TimerConfig{
				HeartbeatInterval:      60,
				SelfTestInterval:       300,
				StatsFlushInterval:     30,
				ConnectionReapInterval: 60,
			},
			Stats: StatsConfig{
				Enabled:       true,
				DatabasePath:  "data/pingd.db",
				RetentionDays: 30,
				CleanupTime:   "04:00",
			},
		},
	}
}

// Load reads configuration from a JSON file in configDir. A missing file is
// created with defaults.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	cfg.favicon = loadFaviconOrWarn(cfg.PingData.FaviconPath)
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file always lists every option, including new defaults.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Reload re-reads the config file and applies it. It reports whether any
// setting changed; rewriting the same content is not a change.
func (c *Config) Reload() (bool, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return false, fmt.Errorf("failed to read config file %s: %w", c.path, err)
	}

	next := DefaultConfig()
	if err := json.Unmarshal(data, next); err != nil {
		return false, fmt.Errorf("failed to parse config file %s: %w", c.path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	before, _ := json.Marshal(c)
	after, _ := json.Marshal(next)
	if bytes.Equal(before, after) {
		return false, nil
	}

	faviconChanged := next.PingData.FaviconPath != c.PingData.FaviconPath
	c.PingData = next.PingData
	c.ApplicationData = next.ApplicationData
	if faviconChanged {
		c.favicon = loadFaviconOrWarn(c.PingData.FaviconPath)
	}

	log.Info().Str("path", c.path).Msg("configuration reloaded")
	return true, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetPingData returns a copy of the ping configuration.
func (c *Config) GetPingData() PingData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PingData
}

// SetPingData updates the ping configuration and reloads the favicon if its
// path changed.
func (c *Config) SetPingData(data PingData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data.FaviconPath != c.PingData.FaviconPath {
		c.favicon = loadFaviconOrWarn(data.FaviconPath)
	}
	c.PingData = data
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// The methods below let *Config act as the status service's settings source.

func (c *Config) MOTD() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PingData.MOTD
}

func (c *Config) ShowPlayerList() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PingData.ShowPlayerList
}

func (c *Config) MaxPlayers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PingData.MaxPlayers
}

func (c *Config) VersionName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PingData.VersionName
}

func (c *Config) PlayerSampleLimit() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PingData.PlayerSampleLimit
}

// Favicon returns the encoded favicon data URI, or "" if none is configured.
func (c *Config) Favicon() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.favicon
}
