// export.go: protobuf Struct views of snapshots and service descriptors
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const redacted = "[REDACTED]"

// SnapshotStruct renders snap as a protobuf Struct with sensitive values
// redacted:
//
//	{version, revision, state, published_at, settings: {...}, quarantined: [...]}
func SnapshotStruct(snap *Snapshot, schema *SchemaRegistry) (*structpb.Struct, error) {
	settings := make(map[string]any, len(snap.Keys()))
	for _, key := range snap.Keys() {
		v, _ := snap.Get(key)
		settings[key] = exportValue(schema, key, v)
	}
	quarantined := []any{}
	for _, q := range snap.doc.Quarantined() {
		quarantined = append(quarantined, q.Key)
	}

	s, err := structpb.NewStruct(map[string]any{
		"version":      int64(snap.Version()),
		"revision":     snap.Revision(),
		"state":        snap.State().String(),
		"published_at": snap.PublishedAt().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"settings":     settings,
		"quarantined":  quarantined,
	})
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	return s, nil
}

// ServicesStruct renders the resolved service descriptors keyed by name.
func ServicesStruct(set ServiceSet, schema *SchemaRegistry) (*structpb.Struct, error) {
	out := make(map[string]any, len(set))
	for _, d := range set.Sorted() {
		extras := make(map[string]any, len(d.ExtraParams))
		for key, v := range d.ExtraParams {
			extras[key] = exportValue(schema, key, v)
		}
		out[d.Name] = map[string]any{
			"enabled":   d.Enabled,
			"available": d.Available(),
			"base_url":  d.BaseURL,
			"urlless":   d.URLLess,
			"extra":     extras,
		}
	}
	s, err := structpb.NewStruct(out)
	if err != nil {
		return nil, fmt.Errorf("export services: %w", err)
	}
	return s, nil
}

// MarshalProtoJSON renders m as indented protojson.
func MarshalProtoJSON(m proto.Message) ([]byte, error) {
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
}

func exportValue(schema *SchemaRegistry, key string, v Value) any {
	if d, err := schema.Describe(key); err == nil && d.Render(v) == redacted {
		return redacted
	}
	return v.Interface()
}

// Redact returns a copy of doc with sensitive settings replaced by a marker.
func Redact(doc *Document, schema *SchemaRegistry) *Document {
	out := doc.Clone()
	for _, key := range out.Keys() {
		v, _ := out.Get(key)
		if exportValue(schema, key, v) == redacted {
			out.Set(key, String(redacted))
		}
	}
	return out
}
