// logging.go: pluggable logging interface
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import "sync"

// Logger is the logging interface used throughout the package.
//
// Any structured logger can be plugged in with a small adapter; see
// NewCharmLogger for the charmbracelet/log one. Arguments are key-value
// pairs with snake_case keys.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a logger that adds args to every entry.
	With(args ...any) Logger
}

// NewLogger accepts a Logger or nil (silent logger). Any other type panics.
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case Logger:
		return l
	case nil:
		return NewNoOpLogger()
	default:
		panic("unsupported logger type: expected Logger interface or nil")
	}
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Debug(msg string, args ...any) {}
func (n *NoOpLogger) Info(msg string, args ...any)  {}
func (n *NoOpLogger) Warn(msg string, args ...any)  {}
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger.
func (n *NoOpLogger) With(args ...any) Logger { return n }

// TestLogger captures messages for assertions. Loggers derived with With
// share the capture buffer and prepend their context args.
type TestLogger struct {
	store   *testLogStore
	context []any
}

type testLogStore struct {
	mu       sync.RWMutex
	messages []TestLogMessage
}

// TestLogMessage represents a captured log message.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// Arg returns the value logged under key.
func (m TestLogMessage) Arg(key string) (any, bool) {
	for i := 0; i+1 < len(m.Args); i += 2 {
		if k, ok := m.Args[i].(string); ok && k == key {
			return m.Args[i+1], true
		}
	}
	return nil, false
}

// NewTestLogger creates a new test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{store: &testLogStore{}}
}

func (t *TestLogger) log(level, msg string, args []any) {
	all := make([]any, 0, len(t.context)+len(args))
	all = append(all, t.context...)
	all = append(all, args...)

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.messages = append(t.store.messages, TestLogMessage{Level: level, Message: msg, Args: all})
}

func (t *TestLogger) Debug(msg string, args ...any) { t.log("DEBUG", msg, args) }
func (t *TestLogger) Info(msg string, args ...any)  { t.log("INFO", msg, args) }
func (t *TestLogger) Warn(msg string, args ...any)  { t.log("WARN", msg, args) }
func (t *TestLogger) Error(msg string, args ...any) { t.log("ERROR", msg, args) }

// With implements Logger.
func (t *TestLogger) With(args ...any) Logger {
	ctx := make([]any, 0, len(t.context)+len(args))
	ctx = append(ctx, t.context...)
	ctx = append(ctx, args...)
	return &TestLogger{store: t.store, context: ctx}
}

// Messages returns a copy of everything captured so far.
func (t *TestLogger) Messages() []TestLogMessage {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	out := make([]TestLogMessage, len(t.store.messages))
	copy(out, t.store.messages)
	return out
}

// HasMessage reports whether a message was captured at level.
func (t *TestLogger) HasMessage(level, message string) bool {
	_, ok := t.Find(level, message)
	return ok
}

// Find returns the first message captured at level.
func (t *TestLogger) Find(level, message string) (TestLogMessage, bool) {
	for _, msg := range t.Messages() {
		if msg.Level == level && msg.Message == message {
			return msg, true
		}
	}
	return TestLogMessage{}, false
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.store.mu.Lock()
	t.store.messages = nil
	t.store.mu.Unlock()
}
