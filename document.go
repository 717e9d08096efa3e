// document.go: ordered configuration documents and published snapshots
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"bytes"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// versionKey is the document field holding the schema version.
const versionKey = "version"

// floorVersion is assumed for documents that carry no version field.
const floorVersion = 1

// QuarantinedKey is a key with no descriptor. It is never applied and never
// visible through Get, but it is written back verbatim on save.
type QuarantinedKey struct {
	Key  string
	Node *yaml.Node
}

// Document is an ordered mapping from setting key to Value plus the schema
// version it conforms to.
//
// Documents are not safe for concurrent mutation. The Manager owns the live
// document and hands out Snapshots, which wrap private clones.
type Document struct {
	Version    int
	keys       []string
	values     map[string]Value
	quarantine []QuarantinedKey
}

// NewDocument creates an empty document at the given version.
func NewDocument(version int) *Document {
	return &Document{Version: version, values: make(map[string]Value)}
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Set stores v under key. New keys are appended; existing keys keep their position.
func (d *Document) Set(key string, v Value) {
	if d.values == nil {
		d.values = make(map[string]Value)
	}
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
		d.unquarantine(key)
	}
	d.values[key] = v
}

// unquarantine drops a quarantined entry once the key is applied, so a key is
// never written twice.
func (d *Document) unquarantine(key string) {
	for i := range d.quarantine {
		if d.quarantine[i].Key == key {
			d.quarantine = append(d.quarantine[:i], d.quarantine[i+1:]...)
			return
		}
	}
}

// SetDefault stores v only when key is absent and reports whether it did.
func (d *Document) SetDefault(key string, v Value) bool {
	if d.Has(key) {
		return false
	}
	d.Set(key, v)
	return true
}

// Delete removes key and reports whether it was present.
func (d *Document) Delete(key string) bool {
	if _, ok := d.values[key]; !ok {
		return false
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return true
}

// Rename moves the value under from to to, keeping its position. It does
// nothing when from is absent or to already exists. A quarantined entry
// under to is dropped.
func (d *Document) Rename(from, to string) bool {
	v, ok := d.values[from]
	if !ok || d.Has(to) {
		return false
	}
	d.unquarantine(to)
	delete(d.values, from)
	d.values[to] = v
	for i, k := range d.keys {
		if k == from {
			d.keys[i] = to
			break
		}
	}
	return true
}

// Keys returns the document keys in insertion order.
func (d *Document) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of applied keys.
func (d *Document) Len() int { return len(d.keys) }

// Quarantine moves key out of the applied set, keeping node for re-serialization.
// A nil node is built from the current value.
func (d *Document) Quarantine(key string, node *yaml.Node) {
	if node == nil {
		if v, ok := d.values[key]; ok {
			node = valueNode(v)
		} else {
			node = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
		}
	}
	d.Delete(key)
	for i := range d.quarantine {
		// re-quarantining replaces the stored node
		if d.quarantine[i].Key == key {
			d.quarantine[i].Node = node
			return
		}
	}
	d.quarantine = append(d.quarantine, QuarantinedKey{Key: key, Node: node})
}

// Quarantined returns the quarantined keys in the order they were found.
func (d *Document) Quarantined() []QuarantinedKey {
	out := make([]QuarantinedKey, len(d.quarantine))
	copy(out, d.quarantine)
	return out
}

// Clone returns a deep copy. Quarantined nodes are shared; they are never mutated.
func (d *Document) Clone() *Document {
	cp := &Document{
		Version:    d.Version,
		keys:       make([]string, len(d.keys)),
		values:     make(map[string]Value, len(d.values)),
		quarantine: make([]QuarantinedKey, len(d.quarantine)),
	}
	copy(cp.keys, d.keys)
	for k, v := range d.values {
		cp.values[k] = v
	}
	copy(cp.quarantine, d.quarantine)
	return cp
}

// Equal reports whether both documents hold the same version, the same
// key/value pairs and the same quarantined content. Key order is ignored.
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.Version != other.Version || len(d.values) != len(other.values) {
		return false
	}
	for k, v := range d.values {
		ov, ok := other.values[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	if len(d.quarantine) != len(other.quarantine) {
		return false
	}
	mine := quarantineIndex(d.quarantine)
	for _, q := range other.quarantine {
		n, ok := mine[q.Key]
		if !ok || !nodesEqual(n, q.Node) {
			return false
		}
	}
	return true
}

func quarantineIndex(entries []QuarantinedKey) map[string]*yaml.Node {
	idx := make(map[string]*yaml.Node, len(entries))
	for _, q := range entries {
		idx[q.Key] = q.Node
	}
	return idx
}

func nodesEqual(a, b *yaml.Node) bool {
	ab, errA := yaml.Marshal(a)
	bb, errB := yaml.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ab, bb)
}

// orderedKeys returns known keys in schema order followed by any key the
// schema does not list, in document order.
func (d *Document) orderedKeys(schema *SchemaRegistry) []string {
	if schema == nil {
		return d.Keys()
	}
	out := make([]string, 0, len(d.keys))
	seen := make(map[string]bool, len(d.keys))
	for _, key := range schema.Keys() {
		if d.Has(key) {
			out = append(out, key)
			seen[key] = true
		}
	}
	for _, key := range d.keys {
		if !seen[key] {
			out = append(out, key)
		}
	}
	return out
}

// Snapshot is an immutable view of a published document.
type Snapshot struct {
	doc         *Document
	revision    string
	state       State
	publishedAt time.Time

	// services is the resolution committed with this snapshot.
	services ServiceSet
}

func newSnapshot(doc *Document, revision string, state State, at time.Time) *Snapshot {
	return &Snapshot{doc: doc.Clone(), revision: revision, state: state, publishedAt: at}
}

// Version returns the schema version of the snapshot.
func (s *Snapshot) Version() int { return s.doc.Version }

// Get returns the value stored under key.
func (s *Snapshot) Get(key string) (Value, bool) { return s.doc.Get(key) }

// Keys returns the applied keys, sorted.
func (s *Snapshot) Keys() []string {
	keys := s.doc.Keys()
	sort.Strings(keys)
	return keys
}

// Document returns a private, mutable copy of the snapshot's document.
func (s *Snapshot) Document() *Document { return s.doc.Clone() }

// Revision identifies the commit that produced the snapshot.
func (s *Snapshot) Revision() string { return s.revision }

// State is the manager state at publication time.
func (s *Snapshot) State() State { return s.state }

// Degraded reports whether the snapshot holds defaults after a failed load.
func (s *Snapshot) Degraded() bool { return s.state == StateDegraded }

// PublishedAt returns the publication timestamp.
func (s *Snapshot) PublishedAt() time.Time { return s.publishedAt }
