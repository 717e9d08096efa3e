// config_watcher_test.go: tests for file-change driven reloads
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agilira/argus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWatchedManager(t *testing.T, content string) (*Manager, *FileStore, *TestLogger) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	store, err := NewFileStore(path)
	require.NoError(t, err)

	m, logger, _ := newTestManager(t, nil)
	_, err = m.Load(context.Background(), store)
	require.NoError(t, err)
	return m, store, logger
}

func TestConfigWatcherHandleChange(t *testing.T) {
	m, store, logger := newWatchedManager(t, "version: 81\nport: 9601\n")
	w := NewConfigWatcher(m, store, DefaultWatcherOptions(), logger)

	require.NoError(t, os.WriteFile(store.Path(), []byte("version: 81\nport: 9602\n"), 0o600))
	w.handleChange(argus.ChangeEvent{Path: store.Path()})
	port, _ := m.Get("port")
	assert.True(t, Int(9602).Equal(port))

	require.NoError(t, os.WriteFile(store.Path(), []byte("port: [9603\n"), 0o600))
	w.handleChange(argus.ChangeEvent{Path: store.Path()})
	port, _ = m.Get("port")
	assert.True(t, Int(9602).Equal(port), "a broken file keeps the previous settings")
	assert.Equal(t, StateReady, m.State())
	assert.True(t, logger.HasMessage("ERROR", "Configuration reload rejected"))

	w.handleChange(argus.ChangeEvent{Path: store.Path(), IsDelete: true})
	assert.True(t, logger.HasMessage("WARN", "Configuration file deleted, keeping current settings"))

	applied, failed := w.Reloads()
	assert.Equal(t, int64(1), applied)
	assert.Equal(t, int64(1), failed)
}

func TestConfigWatcherLifecycle(t *testing.T) {
	m, store, _ := newWatchedManager(t, "version: 81\n")
	w := NewConfigWatcher(m, store, WatcherOptions{PollInterval: 50 * time.Millisecond}, nil)

	assert.Equal(t, 25*time.Millisecond, w.options.CacheTTL)
	assert.Equal(t, DefaultWatcherOptions().ReloadTimeout, w.options.ReloadTimeout)

	assert.False(t, w.IsRunning())
	require.NoError(t, w.Start())
	assert.True(t, w.IsRunning())
	assert.Equal(t, ErrCodeWatcher, ErrorCode(w.Start()))

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	assert.Equal(t, ErrCodeWatcher, ErrorCode(w.Stop()))
	assert.Equal(t, ErrCodeWatcher, ErrorCode(w.Start()), "a stopped watcher cannot be restarted")
}

func TestConfigWatcherReloadsOnFileChange(t *testing.T) {
	m, store, _ := newWatchedManager(t, "version: 81\nport: 9601\n")
	w := NewConfigWatcher(m, store, WatcherOptions{PollInterval: 50 * time.Millisecond}, nil)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(store.Path(), []byte("version: 81\nport: 19602\nseed: 7\n"), 0o600))

	require.Eventually(t, func() bool {
		port, _ := m.Get("port")
		return Int(19602).Equal(port)
	}, 5*time.Second, 20*time.Millisecond)
}
