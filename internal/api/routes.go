package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconsole/internal/command"
	"github.com/energizer-project/rconsole/internal/rcon"
)

// Version is reported by the ping endpoint.
var Version = "dev"

type execRequest struct {
	Command string `json:"command" binding:"required"`
}

type callRequest struct {
	Params map[string]any `json:"params"`
}

type commandInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Request     string         `json:"request"`
	Params      command.Params `json:"params,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rconsole",
		"version": Version,
	})
}

// handleStats reports connection health and host metadata.
func (s *Server) handleStats(c *gin.Context) {
	stats := s.client.Stats()
	info := s.hostInfo()

	body := gin.H{
		"address":                  s.client.Options().Address(),
		"state":                    s.client.State(),
		"is_connected":             stats.IsConnected,
		"last_response_latency_ms": stats.LastResponseLatency.Milliseconds(),
		"api_uptime_seconds":       int64(time.Since(s.started).Seconds()),
		"host": gin.H{
			"hostname":        info.Hostname,
			"os":              info.OS,
			"arch":            info.Architecture,
			"cpu_model":       info.CPUModel,
			"cpu_cores":       info.CPUCores,
			"total_memory_mb": info.TotalMemory,
			"uptime_seconds":  int64(info.Uptime(time.Now()).Seconds()),
			"go_version":      info.GoVersion,
		},
	}
	if !stats.LastResponseAt.IsZero() {
		body["last_response_at"] = stats.LastResponseAt.UTC().Format(time.RFC3339Nano)
	}
	c.JSON(http.StatusOK, body)
}

// handleExec runs a raw command.
func (s *Server) handleExec(c *gin.Context) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	start := time.Now()
	reply, err := s.client.Exec(c.Request.Context(), req.Command)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"command":     req.Command,
		"response":    reply,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// handleListCommands lists the available command templates.
func (s *Server) handleListCommands(c *gin.Context) {
	out := []commandInfo{}
	if s.games != nil {
		for _, name := range s.games.Names() {
			cmd, _ := s.games.Command(name)
			out = append(out, commandInfo{
				Name:        name,
				Description: cmd.Description,
				Request:     cmd.Request.Body,
				Params:      cmd.Request.Params,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"commands": out, "total": len(out)})
}

// handleCallCommand runs a command template with the posted params.
func (s *Server) handleCallCommand(c *gin.Context) {
	name := c.Param("name")
	if s.games == nil {
		s.respondError(c, command.ErrUnknownCommand)
		return
	}

	var req callRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	result, err := s.games.Call(c.Request.Context(), name, req.Params)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"command": name,
		"result":  result,
	})
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// statusFor maps client and template errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, command.ErrMissingParam):
		return http.StatusBadRequest
	case errors.Is(err, command.ErrNoMatch), errors.Is(err, command.ErrInvalidNumber):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rcon.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, rcon.ErrClientClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, rcon.ErrInvalidPassword),
		errors.Is(err, rcon.ErrTCPConnectionOpen),
		errors.Is(err, rcon.ErrTCPConnectionClosed),
		errors.Is(err, rcon.ErrTCPConnection),
		errors.Is(err, rcon.ErrTCPWrite):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
