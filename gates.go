// gates.go: security gates guarding privileged hub operations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"net"
	"net/netip"
	"strings"
)

// GateKind tells whether a gate grants a permission or enables a check.
type GateKind string

const (
	// GatePermission gates allow a privileged action when true.
	GatePermission GateKind = "permission"
	// GateValidation gates enable a safety check when true.
	GateValidation GateKind = "validation"
)

// Gate names.
const (
	GateCodeExecution           = "code_execution"
	GateCodeValidation          = "code_validation"
	GateSettingUpdateValidation = "setting_update_validation"
	GateRemoteAccess            = "remote_access"
	GateOpenFileValidation      = "open_file_validation"
	GateSendFileValidation      = "send_file_validation"
)

// SecurityGate maps a gate name to the document flag backing it.
type SecurityGate struct {
	Name        string
	Key         string
	Kind        GateKind
	Restrictive bool

	introducedIn int
	description  string
}

var gateTable = []SecurityGate{
	{Name: GateCodeExecution, Key: KeyCodeExecution, Kind: GatePermission, Restrictive: false,
		introducedIn: 50, description: "Allow executing code sent by clients"},
	{Name: GateCodeValidation, Key: KeyCodeValidation, Kind: GateValidation, Restrictive: true,
		introducedIn: 50, description: "Validate code before execution"},
	{Name: GateSettingUpdateValidation, Key: KeySettingUpdateValidation, Kind: GateValidation, Restrictive: true,
		introducedIn: 52, description: "Validate setting updates before commit"},
	{Name: GateRemoteAccess, Key: KeyRemoteAccess, Kind: GatePermission, Restrictive: false,
		introducedIn: 73, description: "Accept connections from non-loopback addresses"},
	{Name: GateOpenFileValidation, Key: KeyOpenFileValidation, Kind: GateValidation, Restrictive: true,
		introducedIn: 60, description: "Validate paths before opening files"},
	{Name: GateSendFileValidation, Key: KeySendFileValidation, Kind: GateValidation, Restrictive: true,
		introducedIn: 60, description: "Validate files before sending them"},
}

// Gates returns the gate table.
func Gates() []SecurityGate {
	out := make([]SecurityGate, len(gateTable))
	copy(out, gateTable)
	return out
}

// LookupGate finds a gate by name.
func LookupGate(name string) (SecurityGate, bool) {
	for _, g := range gateTable {
		if g.Name == name {
			return g, true
		}
	}
	return SecurityGate{}, false
}

func gateForKey(key string) (SecurityGate, bool) {
	for _, g := range gateTable {
		if g.Key == key {
			return g, true
		}
	}
	return SecurityGate{}, false
}

// gateValue reads a gate from doc. Missing or malformed flags read as the
// restrictive value, and degraded documents always do.
func gateValue(doc *Document, g SecurityGate, degraded bool) bool {
	if degraded || doc == nil {
		return g.Restrictive
	}
	v, ok := doc.Get(g.Key)
	if !ok {
		return g.Restrictive
	}
	b, ok := v.AsBool()
	if !ok {
		return g.Restrictive
	}
	return b
}

// isLoopback reports whether addr (host, host:port or IP) is a loopback
// address. Unparseable addresses are not loopback, except the literal
// "localhost".
func isLoopback(addr string) bool {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.Unmap().IsLoopback()
}
