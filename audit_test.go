// audit_test.go: tests for the audit trail backends
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgusAuditorWritesEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	auditor, err := NewArgusAuditor(DefaultAuditConfig(path))
	require.NoError(t, err)

	auditor.Record(AuditGateDenied, "Privileged action denied", map[string]any{
		"gate":   GateRemoteAccess,
		"action": "connection from 10.0.0.5:1",
	})
	require.NoError(t, auditor.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), AuditGateDenied)
	assert.Contains(t, string(data), "10.0.0.5")
}

func TestTestAuditor(t *testing.T) {
	auditor := NewTestAuditor()
	auditor.Record(AuditSettingChanged, "Setting changed", map[string]any{"key": "port"})
	auditor.Record(AuditConfigSaved, "Configuration saved", nil)
	auditor.Record(AuditSettingChanged, "Setting changed", map[string]any{"key": "seed"})

	assert.Len(t, auditor.Entries(), 3)
	changed := auditor.Events(AuditSettingChanged)
	require.Len(t, changed, 2)
	assert.Equal(t, "seed", changed[1].Fields["key"])
	assert.Empty(t, auditor.Events(AuditGateDenied))
	assert.NoError(t, auditor.Close())
}

func TestNoOpAuditor(t *testing.T) {
	var a Auditor = NoOpAuditor{}
	assert.NotPanics(t, func() { a.Record(AuditConfigLoaded, "x", nil) })
	assert.NoError(t, a.Close())
}
