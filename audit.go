// audit.go: audit trail for loads, updates and gate decisions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"sync"
	"time"

	"github.com/agilira/argus"
)

// Audit event types.
const (
	AuditConfigLoaded     = "config_loaded"
	AuditConfigDegraded   = "config_degraded"
	AuditConfigReloaded   = "config_reloaded"
	AuditSettingChanged   = "setting_changed"
	AuditSettingUnchecked = "setting_changed_unchecked"
	AuditSettingRejected  = "setting_rejected"
	AuditConfigSaved      = "config_saved"
	AuditGateDenied       = "gate_denied"
)

// Auditor records security-relevant configuration events. Callers redact
// sensitive values before recording.
type Auditor interface {
	Record(event, message string, fields map[string]any)
	Close() error
}

// NoOpAuditor discards every event.
type NoOpAuditor struct{}

func (NoOpAuditor) Record(string, string, map[string]any) {}
func (NoOpAuditor) Close() error                          { return nil }

// ArgusAuditor writes events through an argus audit logger.
type ArgusAuditor struct {
	logger *argus.AuditLogger
}

// DefaultAuditConfig returns the audit settings used by hubctl.
func DefaultAuditConfig(outputFile string) argus.AuditConfig {
	return argus.AuditConfig{
		Enabled:       true,
		OutputFile:    outputFile,
		MinLevel:      argus.AuditInfo,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}

// NewArgusAuditor opens an argus audit logger.
func NewArgusAuditor(cfg argus.AuditConfig) (*ArgusAuditor, error) {
	logger, err := argus.NewAuditLogger(cfg)
	if err != nil {
		return nil, err
	}
	return &ArgusAuditor{logger: logger}, nil
}

// Record implements Auditor.
func (a *ArgusAuditor) Record(event, message string, fields map[string]any) {
	a.logger.LogSecurityEvent(event, message, fields)
}

// Close flushes and closes the audit log.
func (a *ArgusAuditor) Close() error { return a.logger.Close() }

// AuditEntry is one event captured by TestAuditor.
type AuditEntry struct {
	Event   string
	Message string
	Fields  map[string]any
}

// TestAuditor captures events in memory.
type TestAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewTestAuditor creates an empty TestAuditor.
func NewTestAuditor() *TestAuditor { return &TestAuditor{} }

// Record implements Auditor.
func (t *TestAuditor) Record(event, message string, fields map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, AuditEntry{Event: event, Message: message, Fields: fields})
}

// Close implements Auditor.
func (t *TestAuditor) Close() error { return nil }

// Entries returns the captured events.
func (t *TestAuditor) Entries() []AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AuditEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Events returns the captured entries of one type.
func (t *TestAuditor) Events(event string) []AuditEntry {
	var out []AuditEntry
	for _, e := range t.Entries() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
