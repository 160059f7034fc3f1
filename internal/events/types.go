// Package events defines the event types flowing through the rconsole event bus.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection lifecycle events
	EventConnected    EventType = "rcon_connected"
	EventDisconnected EventType = "rcon_disconnected"
	EventStats        EventType = "rcon_stats"

	// Command events
	EventCommandExecuted EventType = "command_executed"
	EventCommandFailed   EventType = "command_failed"

	// Health events
	EventHealth EventType = "health_check"

	// System events
	EventShutdown EventType = "shutdown"
)

// ConnectionState is the lifecycle state of an RCON connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAuthenticating
	StateReady
)

// connectionStateStrings maps ConnectionState values to their lowercase JSON string representation.
var connectionStateStrings = map[ConnectionState]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateReady:          "ready",
}

// String returns the string representation of ConnectionState.
func (s ConnectionState) String() string {
	if str, ok := connectionStateStrings[s]; ok {
		return str
	}
	return "disconnected"
}

// MarshalJSON serializes ConnectionState as a JSON string (e.g. "ready").
func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// StatsPayload carries a connection stats snapshot. It is emitted with
// EventConnected, EventDisconnected and EventStats.
type StatsPayload struct {
	Address             string        `json:"address"`
	IsConnected         bool          `json:"is_connected"`
	LastResponseLatency time.Duration `json:"last_response_latency"`
	LastResponseAt      time.Time     `json:"last_response_at"`
}

// CommandPayload describes a finished command.
type CommandPayload struct {
	Address  string        `json:"address"`
	Command  string        `json:"command"`
	Response string        `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HealthPayload is the result of one periodic health check.
type HealthPayload struct {
	Check     string        `json:"check"`
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`

	CPUPercent    float64 `json:"cpu_percent,omitempty"`
	MemoryPercent float64 `json:"memory_percent,omitempty"`
	DiskPercent   float64 `json:"disk_percent,omitempty"`
}
