package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewFanoutLogger writes human-readable text to console and JSON to file.
func NewFanoutLogger(console, file io.Writer, level slog.Level) *slog.Logger {
	consoleHandler := slog.NewTextHandler(console, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(consoleHandler, fileHandler))
}

// SetupLogger builds the process logger. Without a log file it logs JSON to
// stderr; with one it fans out to stderr and the file. The returned cleanup
// closes the file.
func SetupLogger(cfg Config) (*slog.Logger, func() error, error) {
	if cfg.LogFile == "" {
		return NewLogger(os.Stderr, cfg.LogLevel), func() error { return nil }, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return NewFanoutLogger(os.Stderr, f, cfg.LogLevel), f.Close, nil
}
