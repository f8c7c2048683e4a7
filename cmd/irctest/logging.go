package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	multi "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// parseLevel maps a -log-level value to a slog level.
func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}

// newLogger builds the operational logger: text on console and, when
// file is set, JSON on a rotating log file. The returned closer releases
// the file.
func newLogger(console io.Writer, level slog.Level, file string) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: level}
	text := slog.NewTextHandler(console, opts)
	if file == "" {
		return slog.New(text), io.NopCloser(nil)
	}

	logFile := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    16,
		MaxBackups: 4,
		MaxAge:     14,
		Compress:   true,
	}
	logger := slog.New(multi.Fanout(
		text,
		slog.NewJSONHandler(logFile, opts),
	))
	return logger, logFile
}
