// Package config handles configuration loading, validation, and persistence
// for rconsole.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/rcon"
	"github.com/energizer-project/rconsole/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultRCONPort   = 25575
	DefaultAPIPort    = 5080
	DefaultTimeoutMs  = 5000
)

// Environment variables that override the rcon section.
const (
	EnvHost     = "RCON_HOST"
	EnvPort     = "RCON_PORT"
	EnvPassword = "RCON_PASSWORD"
)

// Config is the root configuration structure for rconsole.
type Config struct {
	mu   sync.RWMutex
	path string

	RCON     RCONConfig     `json:"rcon"`
	Commands CommandsConfig `json:"commands"`
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Health   HealthConfig   `json:"health"`
	Store    StoreConfig    `json:"store"`
	Logging  LoggingConfig  `json:"logging"`
}

// RCONConfig describes the default server to talk to.
type RCONConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Password       string `json:"password"`
	TimeoutMs      int    `json:"timeout_ms"`
	LogAuthPackets bool   `json:"log_auth_packets"`
}

// Options converts the section into client options.
func (r RCONConfig) Options() rcon.Options {
	return rcon.Options{
		Host:           r.Host,
		Port:           r.Port,
		Password:       r.Password,
		Timeout:        time.Duration(r.TimeoutMs) * time.Millisecond,
		LogAuthPackets: r.LogAuthPackets,
	}
}

// CommandsConfig selects the command templates available to call.
type CommandsConfig struct {
	Minecraft bool     `json:"minecraft"`
	Files     []string `json:"files"`
}

// ResolveFiles returns Files with relative paths taken from configDir.
func (c CommandsConfig) ResolveFiles(configDir string) []string {
	out := make([]string, len(c.Files))
	for i, path := range c.Files {
		if !filepath.IsAbs(path) {
			path = filepath.Join(configDir, path)
		}
		out[i] = path
	}
	return out
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Address        string   `json:"address"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
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
	TopicPrefix string `json:"topic_prefix"`
}

// HealthConfig controls the periodic checks run by serve. An interval of
// zero disables that check.
type HealthConfig struct {
	PingIntervalSec int    `json:"ping_interval_sec"`
	PingCommand     string `json:"ping_command"`
	HostIntervalSec int    `json:"host_interval_sec"`
	// DiskPath is the filesystem whose usage the host check reports.
	DiskPath string `json:"disk_path"`
}

// StoreConfig locates the SQLite profile database.
type StoreConfig struct {
	// Path defaults to profiles.db next to the config file.
	Path string `json:"path"`
}

// ResolvePath returns the database path for a config stored in configDir.
func (s StoreConfig) ResolvePath(configDir string) string {
	if s.Path == "" {
		return filepath.Join(configDir, "profiles.db")
	}
	return s.Path
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// LogConfig converts the section for util.InitLogger.
func (l LoggingConfig) LogConfig() util.LogConfig {
	cfg := util.DefaultLogConfig()
	if l.Level != "" {
		cfg.Level = l.Level
	}
	cfg.Directory = l.Directory
	if l.MaxBackups > 0 {
		cfg.MaxBackups = l.MaxBackups
	}
	return cfg
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RCON: RCONConfig{
			Host:      "localhost",
			Port:      DefaultRCONPort,
			TimeoutMs: DefaultTimeoutMs,
		},
		Commands: CommandsConfig{
			Minecraft: true,
		},
		API: APIConfig{
			Address:      "127.0.0.1",
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Port:        1883,
			ClientID:    "rconsole",
			TopicPrefix: "rconsole",
		},
		Health: HealthConfig{
			PingIntervalSec: 30,
			PingCommand:     "list",
			HostIntervalSec: 60,
			DiskPath:        "/",
		},
		Logging: LoggingConfig{
			Level:      "warn",
			MaxBackups: 7,
		},
	}
}

// Load reads configuration from configDir, creating a default file on first
// run. Fields missing from the file keep their defaults and the file is
// re-saved so it always lists every option.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Debug().Str("path", configPath).Msg("configuration loaded")

	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// ApplyEnv overrides the rcon section from RCON_HOST, RCON_PORT and
// RCON_PASSWORD. Overrides are not saved.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := strings.TrimSpace(getenv(EnvHost)); v != "" {
		c.RCON.Host = v
	}
	if v := strings.TrimSpace(getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.RCON.Port = port
	}
	if v := getenv(EnvPassword); v != "" {
		c.RCON.Password = v
	}
	return nil
}

// Save writes the current configuration to disk. The file holds the RCON
// password, so it is readable by the owner only.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetRCON returns a copy of the rcon section.
func (c *Config) GetRCON() RCONConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RCON
}

// SetRCON replaces the rcon section.
func (c *Config) SetRCON(r RCONConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RCON = r
}

// GetCommands returns a copy of the commands section.
func (c *Config) GetCommands() CommandsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Commands
}

// GetAPI returns a copy of the api section.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetMQTT returns a copy of the mqtt section.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetHealth returns a copy of the health section.
func (c *Config) GetHealth() HealthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Health
}

// GetStore returns a copy of the store section.
func (c *Config) GetStore() StoreConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Store
}

// GetLogging returns a copy of the logging section.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// UpdateField sets one field addressed as "section.key", for example
// "rcon.host". String fields take raw as is; other fields decode it as JSON,
// so "25575" sets a number and "true" a bool.
func (c *Config) UpdateField(path string, raw string) error {
	section, key, ok := strings.Cut(path, ".")
	if !ok || section == "" || key == "" {
		return fmt.Errorf("invalid field %q, expected section.key", path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	root := make(map[string]map[string]interface{})
	if err := json.Unmarshal(data, &root); err != nil {
		return err
	}

	fields, exists := root[section]
	if !exists {
		return fmt.Errorf("unknown config section %q", section)
	}
	current, exists := fields[key]
	if !exists {
		return fmt.Errorf("unknown config field %q", path)
	}

	var value interface{} = raw
	if _, isString := current.(string); !isString {
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", path, err)
		}
	}
	fields[key] = value

	updated, err := json.Marshal(root)
	if err != nil {
		return err
	}
	next := &Config{}
	if err := json.Unmarshal(updated, next); err != nil {
		return fmt.Errorf("failed to update field %s: %w", path, err)
	}

	c.RCON, c.Commands, c.API = next.RCON, next.Commands, next.API
	c.MQTT, c.Health, c.Store, c.Logging = next.MQTT, next.Health, next.Store, next.Logging
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RCON.Password == ""
}
