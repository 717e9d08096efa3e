// schema.go: setting descriptors and the schema registry
//
// The schema registry is the single source of truth for which keys a
// configuration document may contain, how their values are typed, what
// their defaults are and in which schema version they appeared.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// SettingType is the declared type of a setting.
type SettingType string

const (
	TypeBool   SettingType = "bool"
	TypeInt    SettingType = "int"
	TypeFloat  SettingType = "float"
	TypeString SettingType = "string"
	TypeEnum   SettingType = "enum"
	TypeURL    SettingType = "url"
	TypePath   SettingType = "path"
	TypeList   SettingType = "list"
)

func (t SettingType) valid() bool {
	switch t {
	case TypeBool, TypeInt, TypeFloat, TypeString, TypeEnum, TypeURL, TypePath, TypeList:
		return true
	}
	return false
}

func (t SettingType) numeric() bool { return t == TypeInt || t == TypeFloat }

// Constraint restricts the values a setting accepts beyond its type.
// A nil Constraint accepts every well-typed value.
type Constraint interface {
	// Check returns a human-readable reason when v violates the constraint.
	Check(v Value) (reason string, ok bool)
	// String describes the constraint, e.g. "(0,1]".
	String() string
}

// Range bounds a numeric setting. Nil bounds are open to infinity.
type Range struct {
	Min          *float64
	Max          *float64
	MinExclusive bool
	MaxExclusive bool
}

// Bound is a helper for building Range literals.
func Bound(f float64) *float64 { return &f }

// Check implements Constraint.
func (r Range) Check(v Value) (string, bool) {
	f, ok := v.AsFloat()
	if !ok || math.IsNaN(f) {
		return "out of range " + r.String(), false
	}
	if r.Min != nil {
		if f < *r.Min || (r.MinExclusive && f == *r.Min) {
			return "out of range " + r.String(), false
		}
	}
	if r.Max != nil {
		if f > *r.Max || (r.MaxExclusive && f == *r.Max) {
			return "out of range " + r.String(), false
		}
	}
	return "", true
}

// String renders the range in interval notation.
func (r Range) String() string {
	var b strings.Builder
	if r.Min == nil || r.MinExclusive {
		b.WriteByte('(')
	} else {
		b.WriteByte('[')
	}
	if r.Min == nil {
		b.WriteString("-inf")
	} else {
		b.WriteString(strconv.FormatFloat(*r.Min, 'g', -1, 64))
	}
	b.WriteByte(',')
	if r.Max == nil {
		b.WriteString("inf")
	} else {
		b.WriteString(strconv.FormatFloat(*r.Max, 'g', -1, 64))
	}
	if r.Max == nil || r.MaxExclusive {
		b.WriteByte(')')
	} else {
		b.WriteByte(']')
	}
	return b.String()
}

// AllowedSet restricts a string or enum setting to a fixed set of values.
type AllowedSet []string

// Check implements Constraint.
func (a AllowedSet) Check(v Value) (string, bool) {
	s, ok := v.AsString()
	if ok {
		for _, allowed := range a {
			if s == allowed {
				return "", true
			}
		}
	}
	return "not one of " + a.String(), false
}

// String implements Constraint.
func (a AllowedSet) String() string { return "{" + strings.Join(a, ", ") + "}" }

// Pattern restricts a string setting to values matching a regular expression.
type Pattern struct {
	re *regexp.Regexp
}

// MustPattern compiles expr, panicking on malformed expressions. Intended for
// package-level catalogs.
func MustPattern(expr string) Pattern { return Pattern{re: regexp.MustCompile(expr)} }

// Check implements Constraint.
func (p Pattern) Check(v Value) (string, bool) {
	s, ok := v.AsString()
	if ok && p.re != nil && p.re.MatchString(s) {
		return "", true
	}
	return "does not match " + p.String(), false
}

// String implements Constraint.
func (p Pattern) String() string {
	if p.re == nil {
		return "//"
	}
	return "/" + p.re.String() + "/"
}

// SettingDescriptor declares one recognized setting.
type SettingDescriptor struct {
	Key          string
	Type         SettingType
	Default      Value
	Constraint   Constraint
	IntroducedIn int
	Sensitive    bool
	Description  string
}

// Render formats value for logs, redacting sensitive settings.
func (d SettingDescriptor) Render(v Value) string {
	if d.Sensitive && !(v.Kind() == KindString && v.s == "") {
		return "[REDACTED]"
	}
	return v.String()
}

// check coerces v to the descriptor type and applies its constraint.
func (d SettingDescriptor) check(v Value) (Value, string, bool) {
	coerced, err := Coerce(d.Type, v)
	if err != nil {
		return v, err.Error(), false
	}
	if d.Type == TypeURL {
		if reason, ok := checkURL(coerced); !ok {
			return coerced, reason, false
		}
	}
	if d.Constraint != nil {
		if reason, ok := d.Constraint.Check(coerced); !ok {
			return coerced, reason, false
		}
	}
	return coerced, "", true
}

// SchemaRegistry holds every recognized setting descriptor.
//
// The registry is filled once at startup and sealed; after Seal it is
// read-only, so validation never races with schema definition.
type SchemaRegistry struct {
	mu          sync.RWMutex
	descriptors map[string]SettingDescriptor
	order       []string
	current     int
	sealed      bool
}

// NewSchemaRegistry creates an empty, unsealed registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{descriptors: make(map[string]SettingDescriptor)}
}

// Register adds a setting definition.
func (r *SchemaRegistry) Register(d SettingDescriptor) error {
	def, err := validateDescriptor(d)
	if err != nil {
		return err
	}
	d.Default = def

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return NewRegistrySealedError("schema")
	}
	if _, exists := r.descriptors[d.Key]; exists {
		return NewDuplicateKeyError(d.Key)
	}

	r.descriptors[d.Key] = d
	r.order = append(r.order, d.Key)
	if d.IntroducedIn > r.current {
		r.current = d.IntroducedIn
	}
	return nil
}

// MustRegister is Register for static catalogs.
func (r *SchemaRegistry) MustRegister(descriptors ...SettingDescriptor) {
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// validateDescriptor checks d and returns its default in coerced form.
func validateDescriptor(d SettingDescriptor) (Value, error) {
	if strings.TrimSpace(d.Key) == "" {
		return Value{}, NewInvalidDescriptorError(d.Key, "empty key")
	}
	if d.Key == versionKey {
		return Value{}, NewInvalidDescriptorError(d.Key, "key is reserved for the document version")
	}
	if !d.Type.valid() {
		return Value{}, NewInvalidDescriptorError(d.Key, fmt.Sprintf("unknown type %q", d.Type))
	}
	if d.IntroducedIn < 1 {
		return Value{}, NewInvalidDescriptorError(d.Key, "introduced_in_version must be >= 1")
	}
	if _, isRange := d.Constraint.(Range); isRange && !d.Type.numeric() {
		return Value{}, NewInvalidDescriptorError(d.Key, "range constraint on non-numeric type")
	}
	if d.Type == TypeEnum {
		if _, isSet := d.Constraint.(AllowedSet); !isSet {
			return Value{}, NewInvalidDescriptorError(d.Key, "enum requires an allowed set")
		}
	}
	def, reason, ok := d.check(d.Default)
	if !ok {
		return Value{}, NewInvalidDescriptorError(d.Key, "default "+reason)
	}
	return def, nil
}

// Seal makes the registry read-only.
func (r *SchemaRegistry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Describe returns the descriptor registered for key.
func (r *SchemaRegistry) Describe(key string) (SettingDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[key]
	if !ok {
		return SettingDescriptor{}, NewUnknownKeyError(key)
	}
	return d, nil
}

// Has reports whether key is registered.
func (r *SchemaRegistry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptors[key]
	return ok
}

// CurrentVersion returns the highest version referenced by any descriptor.
func (r *SchemaRegistry) CurrentVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// AllKeys returns every registered key, sorted.
func (r *SchemaRegistry) AllKeys() []string {
	keys := r.Keys()
	sort.Strings(keys)
	return keys
}

// Keys returns registered keys in registration order. Documents serialize
// known keys in this order.
func (r *SchemaRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// IntroducedIn returns the keys first appearing in version v, in registration order.
func (r *SchemaRegistry) IntroducedIn(v int) []SettingDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SettingDescriptor
	for _, key := range r.order {
		if d := r.descriptors[key]; d.IntroducedIn == v {
			out = append(out, d)
		}
	}
	return out
}

// Defaults builds a document holding every default at the current version.
func (r *SchemaRegistry) Defaults() *Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc := NewDocument(r.current)
	for _, key := range r.order {
		doc.Set(key, r.descriptors[key].Default)
	}
	return doc
}
