package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Version is the release string, overridden at link time.
var Version = "0.1.0"

// LogLevel represents the available logging levels
type LogLevel string

const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
)

// ParseLogLevel converts a string to a LogLevel
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

// Verbosity raises a level by the number of -v flags given.
func Verbosity(level LogLevel, v int) LogLevel {
	if v <= 0 {
		return level
	}
	order := []LogLevel{LogLevelError, LogLevelWarn, LogLevelInfo, LogLevelDebug}
	i := 0
	for j, l := range order {
		if l == level {
			i = j
		}
	}
	i += v
	if i >= len(order) {
		i = len(order) - 1
	}
	return order[i]
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// SetupLogger creates a text slog logger on stdout.
func SetupLogger(level LogLevel) *slog.Logger {
	return NewLogger(os.Stdout, level)
}

// NewLogger creates a text slog logger writing to w.
func NewLogger(w io.Writer, level LogLevel) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	return slog.New(handler)
}
