// file_store.go: document sources and sinks
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Source provides the raw document bytes.
type Source interface {
	Name() string
	Read(ctx context.Context) ([]byte, Format, error)
}

// Sink persists encoded documents.
type Sink interface {
	Write(ctx context.Context, data []byte, format Format) error
}

// Store is a Source that can also be written back.
type Store interface {
	Source
	Sink
}

const (
	filePermissions = 0o600
	lockRetryDelay  = 25 * time.Millisecond
)

// FileStore reads and writes a YAML or JSON file. Writes hold an advisory
// lock on a sibling ".lock" file and replace the target atomically.
type FileStore struct {
	path   string
	format Format
	lock   *flock.Flock
}

// NewFileStore creates a store for path; the format comes from the extension.
func NewFileStore(path string) (*FileStore, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	clean := filepath.Clean(path)
	return &FileStore{path: clean, format: format, lock: flock.New(clean + ".lock")}, nil
}

// Name implements Source.
func (s *FileStore) Name() string { return s.path }

// Path returns the file path.
func (s *FileStore) Path() string { return s.path }

// Read implements Source. A missing file yields an error wrapping
// os.ErrNotExist.
func (s *FileStore) Read(ctx context.Context) ([]byte, Format, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.format, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, s.format, err
	}
	return data, s.format, nil
}

// Write implements Sink. The format argument must match the file's.
func (s *FileStore) Write(ctx context.Context, data []byte, format Format) error {
	if format != s.format {
		return fmt.Errorf("cannot write %s data to %s file %s", format, s.format, s.path)
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", s.path, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock %s", s.path)
	}
	defer func() { _ = s.lock.Unlock() }()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(filePermissions); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	committed = true
	return nil
}

// BytesSource serves a fixed document.
type BytesSource struct {
	Label  string
	Data   []byte
	Format Format
}

// Name implements Source.
func (b BytesSource) Name() string {
	if b.Label == "" {
		return "bytes"
	}
	return b.Label
}

// Read implements Source.
func (b BytesSource) Read(context.Context) ([]byte, Format, error) {
	return b.Data, b.Format, nil
}

// MemoryStore is an in-memory Store. FailWrites makes the next n writes fail.
type MemoryStore struct {
	mu         sync.Mutex
	label      string
	data       []byte
	format     Format
	failWrites int
	writes     int
}

// NewMemoryStore creates a store holding data.
func NewMemoryStore(label string, data []byte, format Format) *MemoryStore {
	return &MemoryStore{label: label, data: data, format: format}
}

// ErrInjectedWrite is returned by MemoryStore writes set to fail.
var ErrInjectedWrite = errors.New("injected write failure")

// Name implements Source.
func (m *MemoryStore) Name() string { return m.label }

// Read implements Source.
func (m *MemoryStore) Read(context.Context) ([]byte, Format, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, m.format, os.ErrNotExist
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, m.format, nil
}

// Write implements Sink.
func (m *MemoryStore) Write(_ context.Context, data []byte, format Format) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failWrites > 0 {
		m.failWrites--
		return ErrInjectedWrite
	}
	m.data = append([]byte(nil), data...)
	m.format = format
	return nil
}

// FailWrites makes the next n writes fail.
func (m *MemoryStore) FailWrites(n int) {
	m.mu.Lock()
	m.failWrites = n
	m.mu.Unlock()
}

// Writes returns how many writes were attempted.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Data returns the last successfully written bytes.
func (m *MemoryStore) Data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}
