// config_watcher.go: hot reload of the configuration file through argus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// WatcherOptions configures a ConfigWatcher.
type WatcherOptions struct {
	PollInterval  time.Duration
	CacheTTL      time.Duration
	ReloadTimeout time.Duration
	// Audit is handed to argus for its own file-event trail.
	Audit argus.AuditConfig
	// ErrorHandler receives argus polling errors; nil logs them.
	ErrorHandler func(err error, path string)
}

// DefaultWatcherOptions polls every two seconds.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		PollInterval:  2 * time.Second,
		CacheTTL:      time.Second,
		ReloadTimeout: 10 * time.Second,
	}
}

// ConfigWatcher reloads a Manager when its file changes. A change that
// fails to load leaves the live configuration untouched.
type ConfigWatcher struct {
	manager *Manager
	store   *FileStore
	watcher *argus.Watcher
	options WatcherOptions
	logger  Logger

	mu       sync.Mutex
	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	reloads  atomic.Int64
	failures atomic.Int64
}

// NewConfigWatcher creates a watcher for store feeding m.
func NewConfigWatcher(m *Manager, store *FileStore, options WatcherOptions, logger any) *ConfigWatcher {
	defaults := DefaultWatcherOptions()
	if options.PollInterval <= 0 {
		options.PollInterval = defaults.PollInterval
	}
	if options.CacheTTL <= 0 || options.CacheTTL > options.PollInterval {
		options.CacheTTL = options.PollInterval / 2
	}
	if options.ReloadTimeout <= 0 {
		options.ReloadTimeout = defaults.ReloadTimeout
	}

	w := &ConfigWatcher{
		manager: m,
		store:   store,
		options: options,
		logger:  NewLogger(logger).With("component", "config_watcher", "path", store.Path()),
	}
	w.watcher = argus.New(argus.Config{
		PollInterval:         options.PollInterval,
		CacheTTL:             options.CacheTTL,
		MaxWatchedFiles:      1,
		Audit:                options.Audit,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, path string) {
			if options.ErrorHandler != nil {
				options.ErrorHandler(err, path)
				return
			}
			w.logger.Error("Configuration file watching error", "error", err, "file", path)
		},
	})
	return w
}

// Start begins polling. A stopped watcher cannot be restarted.
func (w *ConfigWatcher) Start() error {
	if w.stopped.Load() {
		return NewWatcherError("config watcher has been stopped and cannot be restarted", nil)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.enabled.CompareAndSwap(false, true) {
		return NewWatcherError("config watcher is already running", nil)
	}
	if err := w.watcher.Watch(w.store.Path(), w.handleChange); err != nil {
		w.enabled.Store(false)
		return NewWatcherError("failed to watch configuration file", err)
	}
	if err := w.watcher.Start(); err != nil {
		w.enabled.Store(false)
		return NewWatcherError("failed to start configuration watcher", err)
	}
	w.logger.Info("Configuration watcher started", "poll_interval", w.options.PollInterval)
	return nil
}

// Stop ends polling permanently.
func (w *ConfigWatcher) Stop() error {
	if w.stopped.Load() {
		return NewWatcherError("config watcher is already stopped", nil)
	}
	var stopErr error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()

		w.stopped.Store(true)
		if !w.enabled.CompareAndSwap(true, false) {
			return
		}
		if err := w.watcher.Stop(); err != nil {
			stopErr = NewWatcherError("failed to stop configuration watcher", err)
			return
		}
		w.logger.Info("Configuration watcher stopped",
			"reloads", w.reloads.Load(), "failures", w.failures.Load())
	})
	return stopErr
}

// IsRunning reports whether the watcher is polling.
func (w *ConfigWatcher) IsRunning() bool {
	return w.enabled.Load() && !w.stopped.Load()
}

// Reloads returns how many changes were applied and how many failed.
func (w *ConfigWatcher) Reloads() (applied, failed int64) {
	return w.reloads.Load(), w.failures.Load()
}

func (w *ConfigWatcher) handleChange(event argus.ChangeEvent) {
	defer withStackRecover(w.logger)()

	if event.IsDelete {
		w.logger.Warn("Configuration file deleted, keeping current settings")
		return
	}
	w.logger.Debug("Configuration file change detected",
		"mod_time", event.ModTime, "size", event.Size, "is_create", event.IsCreate)

	ctx, cancel := context.WithTimeout(context.Background(), w.options.ReloadTimeout)
	defer cancel()

	snap, err := w.manager.Reload(ctx)
	if err != nil {
		w.failures.Add(1)
		w.logger.Error("Configuration reload rejected", "error", err, "error_code", ErrorCode(err))
		return
	}
	w.reloads.Add(1)
	w.logger.Info("Configuration reloaded from file change", "revision", snap.Revision())
}
