// Package logging configures the default slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a level name onto a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Setup sets the level and format for the default logger.
func Setup(w io.Writer, level string, jsonLogs bool) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if jsonLogs {
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))
		return nil
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
	return nil
}
