package infra

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new slog.Logger with log rotation support
func NewLogger(cfg *Config) *slog.Logger {
	logDir := cfg.Logging.Dir
	if logDir == "" {
		logDir = "logs"
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Logging.Level)}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		// Fallback to stderr if directory creation fails
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "market.log"),
		MaxSize:    10, // Megabytes
		MaxBackups: 3,
		MaxAge:     28, // Days
		Compress:   true,
	}

	// Log to both file and stdout
	writer := io.MultiWriter(os.Stdout, fileLogger)

	return slog.New(slog.NewJSONHandler(writer, opts))
}

// ParseLevel maps a config level name to a slog.Level. Unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
