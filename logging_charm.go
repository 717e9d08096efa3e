// logging_charm.go: charmbracelet/log adapter for the Logger interface
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"io"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// CharmLoggerOptions configures NewCharmLoggerWithOptions.
type CharmLoggerOptions struct {
	Output     io.Writer
	Level      string // debug, info, warn, error
	JSON       bool
	TimeFormat string
}

type charmLogger struct {
	l *charmlog.Logger
}

// NewCharmLogger adapts an existing charmbracelet/log logger.
func NewCharmLogger(l *charmlog.Logger) Logger {
	return &charmLogger{l: l}
}

// NewCharmLoggerWithOptions builds a charmbracelet/log logger and adapts it.
func NewCharmLoggerWithOptions(opts CharmLoggerOptions) Logger {
	if opts.TimeFormat == "" {
		opts.TimeFormat = "15:04:05"
	}
	l := charmlog.NewWithOptions(opts.Output, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      opts.TimeFormat,
		Level:           ParseCharmLevel(opts.Level),
	})
	if opts.JSON {
		l.SetFormatter(charmlog.JSONFormatter)
	} else {
		l.SetFormatter(charmlog.TextFormatter)
	}
	return &charmLogger{l: l}
}

// ParseCharmLevel maps a level name to a charm level; unknown names mean info.
func ParseCharmLevel(level string) charmlog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

func (c *charmLogger) Debug(msg string, args ...any) { c.l.Debug(msg, args...) }
func (c *charmLogger) Info(msg string, args ...any)  { c.l.Info(msg, args...) }
func (c *charmLogger) Warn(msg string, args ...any)  { c.l.Warn(msg, args...) }
func (c *charmLogger) Error(msg string, args ...any) { c.l.Error(msg, args...) }

func (c *charmLogger) With(args ...any) Logger {
	return &charmLogger{l: c.l.With(args...)}
}
