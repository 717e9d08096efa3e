// manager_state.go: live document state machine and load reports
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import "time"

// State is the lifecycle state of the live document.
//
//	Unloaded -> Loading -> Migrating -> Validating -> Ready
//	any failure before Ready -> Degraded
//	Ready -> Updating -> Ready
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateMigrating
	StateValidating
	StateReady
	StateUpdating
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateMigrating:
		return "migrating"
	case StateValidating:
		return "validating"
	case StateReady:
		return "ready"
	case StateUpdating:
		return "updating"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// restrictive reports whether gates must read as their restrictive values.
func (s State) restrictive() bool {
	return s == StateUnloaded || s == StateDegraded
}

// LoadReport describes the outcome of the last Load or Reload.
type LoadReport struct {
	Source string
	// Fresh is set when the source did not exist and defaults were used.
	Fresh       bool
	FromVersion int
	Version     int
	Migrations  []MigrationRecord
	// Warnings lists every key reset to its default, and why.
	Warnings    []Warning
	Quarantined []string
	// Overrides lists the environment variables applied over the document.
	Overrides []string
	Degraded  bool
	Err       error
	LoadedAt  time.Time
}

// ResetKeys returns the keys reset to their defaults, excluding quarantined ones.
func (r LoadReport) ResetKeys() []string {
	var out []string
	for _, w := range r.Warnings {
		if w.Reason != ReasonUnknownKey {
			out = append(out, w.Key)
		}
	}
	return out
}
