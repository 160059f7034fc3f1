// Package util provides logging and host helpers shared by rconsole's commands.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level string `json:"level"`
	// Directory receives one JSON log file per day. Empty disables file logging.
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
	NoColor    bool   `json:"no_color"`
}

// DefaultLogConfig returns the default logging configuration. The CLI prints
// command output on stdout, so logs stay quiet and go to stderr.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "warn",
		MaxBackups: 7,
		Console:    true,
	}
}

// InitLogger configures the global zerolog logger. It returns the path of
// the log file, or "" when file logging is disabled.
func InitLogger(cfg LogConfig) (string, error) {
	return initLogger(cfg, os.Stderr, time.Now())
}

func initLogger(cfg LogConfig, console io.Writer, now time.Time) (string, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	logFilePath := ""

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
			return "", fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
		}

		logFilePath = filepath.Join(cfg.Directory, fmt.Sprintf("rconsole_%s.log", now.Format("2006-01-02")))
		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return "", fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
		}
		writers = append(writers, logFile)
	}

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: "15:04:05",
			NoColor:    cfg.NoColor,
		})
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "rconsole")
	if level <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()

	log.Debug().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	if logFilePath != "" {
		cleanOldLogs(cfg.Directory, cfg.MaxBackups)
	}
	return logFilePath, nil
}

// cleanOldLogs keeps the newest maxBackups log files. File names carry the
// date, so lexical order is chronological.
func cleanOldLogs(directory string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "rconsole_") && filepath.Ext(entry.Name()) == ".log" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for i := 0; i < len(names)-maxBackups; i++ {
		path := filepath.Join(directory, names[i])
		if err := os.Remove(path); err == nil {
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
