// manager_gates.go: gate checks against the published configuration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

// CheckGate reports whether the named gate is on in the published snapshot.
// Unknown gates read false; missing or malformed flags and an unloaded or
// degraded configuration read the gate's restrictive value.
func (m *Manager) CheckGate(name string) bool {
	g, ok := LookupGate(name)
	if !ok {
		m.logger.Warn("Unknown security gate queried", "gate", name)
		return false
	}
	snap := m.Snapshot()
	return gateValue(snap.doc, g, snap.State().restrictive())
}

// gateLocked reads a gate while the manager lock is held. The published
// snapshot already reflects the lock holder's last commit.
func (m *Manager) gateLocked(name string) bool {
	return m.CheckGate(name)
}

// Authorize returns an AuthorizationError when the named permission gate is
// off. Validation gates never deny.
func (m *Manager) Authorize(gate string) error {
	return m.AuthorizeAction(gate, gate)
}

// AuthorizeAction is Authorize with the denied action named in the error
// and audit trail.
func (m *Manager) AuthorizeAction(gate, action string) error {
	g, ok := LookupGate(gate)
	if !ok {
		m.deny(gate, action, "unknown gate")
		return NewAuthorizationError(gate, action)
	}
	if g.Kind != GatePermission {
		return nil
	}
	if m.CheckGate(gate) {
		return nil
	}
	m.deny(gate, action, "gate off")
	return NewAuthorizationError(gate, action)
}

// AuthorizeRemote lets loopback peers through and requires the
// remote_access gate for everything else.
func (m *Manager) AuthorizeRemote(addr string) error {
	if isLoopback(addr) {
		return nil
	}
	return m.AuthorizeAction(GateRemoteAccess, "connection from "+addr)
}

func (m *Manager) deny(gate, action, reason string) {
	snap := m.Snapshot()
	m.logger.Warn("Privileged action denied", "gate", gate, "action", action, "reason", reason,
		"state", snap.State().String())
	m.audit.Record(AuditGateDenied, "Privileged action denied", map[string]any{
		"gate":     gate,
		"action":   action,
		"reason":   reason,
		"state":    snap.State().String(),
		"revision": snap.Revision(),
	})
	m.metrics.IncrementCounter(MetricGateDenials, map[string]string{"gate": gate}, 1)
}
