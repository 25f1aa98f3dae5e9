// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for ClassChat components.
//
// The package is a thin layer over log/slog: it standardizes level
// parsing, output format selection and the service attribute, and installs
// the configured logger as the process-wide slog default so library code
// can keep using plain slog calls.
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers must
// keep message content, credentials and PII out of log fields:
//
//	// BAD: logs user content
//	logger.Info("chat", "message", msg.Content)
//
//	// GOOD: log metadata only
//	logger.Info("chat", "message_bytes", len(msg.Content))
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a level name to a Level. Unknown names map to Info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity emitted.
	Level Level

	// JSON selects JSON output (the service default). Text output is for
	// local development.
	JSON bool

	// Service is attached to every record as the "service" attribute.
	Service string

	// Output overrides the destination, stderr when nil.
	Output io.Writer
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps a slog.Logger built from a Config.
type Logger struct {
	slogger *slog.Logger
}

// New builds a Logger and installs it as the slog default.
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	var handler slog.Handler
	if config.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	slogger := slog.New(handler)
	if config.Service != "" {
		slogger = slogger.With("service", config.Service)
	}
	slog.SetDefault(slogger)
	return &Logger{slogger: slogger}
}

// FromEnv builds a Logger from CLASSCHAT_LOG_LEVEL and
// CLASSCHAT_LOG_FORMAT ("json" or "text", json by default).
func FromEnv(service string) *Logger {
	return New(Config{
		Level:   ParseLevel(os.Getenv("CLASSCHAT_LOG_LEVEL")),
		JSON:    strings.ToLower(os.Getenv("CLASSCHAT_LOG_FORMAT")) != "text",
		Service: service,
	})
}

func (l *Logger) Debug(msg string, args ...any) { l.slogger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slogger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slogger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slogger.Error(msg, args...) }

// With returns a Logger with the given attributes attached to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...)}
}

// Slog exposes the underlying slog.Logger for APIs that require one.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}
