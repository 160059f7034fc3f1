package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/energizer-project/rconsole/internal/util"
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

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validateRCON(&cfg.RCON, result)
	validateCommands(&cfg.Commands, filepath.Dir(cfg.path), result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)
	validateHealth(&cfg.Health, result)

	return result
}

func validateRCON(r *RCONConfig, result *ValidationResult) {
	if strings.TrimSpace(r.Host) == "" {
		result.AddError("rcon.host", "server host is required")
	}
	if r.Port < 1 || r.Port > 65535 {
		result.AddError("rcon.port", fmt.Sprintf("invalid port number: %d (must be 1-65535)", r.Port))
	}
	if r.Password == "" {
		result.AddError("rcon.password", "rcon password is required")
	}

	if r.TimeoutMs < 0 {
		result.AddError("rcon.timeout_ms", "timeout cannot be negative")
	} else if r.TimeoutMs == 0 {
		result.AddWarning("rcon.timeout_ms", "timeout disabled, a silent server will block commands forever")
	} else if r.TimeoutMs < 100 {
		result.AddWarning("rcon.timeout_ms", "timeout below 100ms will fail on slow links")
	}

	if r.LogAuthPackets {
		result.AddWarning("rcon.log_auth_packets", "the rcon password will be written to debug logs")
	}
}

func validateCommands(c *CommandsConfig, configDir string, result *ValidationResult) {
	for i, path := range c.ResolveFiles(configDir) {
		if !util.FileExists(path) {
			result.AddError(fmt.Sprintf("commands.files[%d]", i), fmt.Sprintf("file does not exist: %s", path))
		}
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	validatePort(a.Port, "api.port", result)

	if a.Token == "" && !isLoopback(a.Address) {
		result.AddWarning("api.token", "API listens beyond localhost without a token, anyone can run commands")
	}

	if (a.TLSCertFile == "") != (a.TLSKeyFile == "") {
		result.AddError("api.tls_cert_file", "TLS needs both a certificate and a key file")
	}

	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the game server to command floods")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if strings.TrimSpace(m.TopicPrefix) == "" {
		result.AddError("mqtt.topic_prefix", "topic prefix is required when enabled")
	}
	if m.UseTLS && (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client certificate needs both cert_file and key_file")
	}
}

func validateHealth(h *HealthConfig, result *ValidationResult) {
	if h.PingIntervalSec < 0 {
		result.AddError("health.ping_interval_sec", "interval cannot be negative")
	}
	if h.HostIntervalSec < 0 {
		result.AddError("health.host_interval_sec", "interval cannot be negative")
	}
	if h.PingIntervalSec > 0 && strings.TrimSpace(h.PingCommand) == "" {
		result.AddWarning("health.ping_command", "empty ping command, some servers never reply to it")
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

func isLoopback(address string) bool {
	if address == "localhost" {
		return true
	}
	ip := net.ParseIP(address)
	return ip != nil && ip.IsLoopback()
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
