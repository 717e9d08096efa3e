// validator.go: document validation, repair and single-update checks
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
)

// Reasons reported for structural problems.
const (
	ReasonMissing    = "missing"
	ReasonUnknownKey = "unknown key"
)

var urlValidate = validator.New()

// checkURL accepts the empty string (no endpoint) and absolute URLs with a
// host. Environment placeholders are expanded before checking.
func checkURL(v Value) (string, bool) {
	s, _ := v.AsString()
	s = expandEnv(s)
	if s == "" {
		return "", true
	}
	if err := urlValidate.Var(s, "url"); err != nil {
		return "not an absolute URL", false
	}
	if u, err := url.Parse(s); err != nil || u.Host == "" {
		return "URL has no host", false
	}
	return "", true
}

// FieldError is one problem found in a document.
type FieldError struct {
	Key    string
	Value  Value
	Reason string
	// Rule names the cross-field rule that failed, if any.
	Rule string
}

// ValidationResult lists every problem found by Validate.
type ValidationResult struct {
	Errors []FieldError
}

// Valid reports whether no problem was found.
func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// Keys returns the offending keys, in report order.
func (r ValidationResult) Keys() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Key)
	}
	return out
}

// Warning records a key changed by Repair.
type Warning struct {
	Key      string
	Previous string
	Reason   string
}

// CrossFieldRule is an invariant spanning several keys.
type CrossFieldRule struct {
	Name string
	// Keys are the settings the rule reads.
	Keys []string
	// Reset lists the keys restored to their defaults, one at a time and in
	// order, until the rule holds again.
	Reset []string
	// Check inspects a well-typed document.
	Check func(doc *Document) (reason string, ok bool)
}

func (r CrossFieldRule) reads(key string) bool {
	for _, k := range r.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Validator checks documents and proposed updates against the schema.
type Validator struct {
	schema *SchemaRegistry
	rules  []CrossFieldRule
}

// NewValidator creates a validator for schema with the given cross-field rules.
func NewValidator(schema *SchemaRegistry, rules ...CrossFieldRule) *Validator {
	return &Validator{schema: schema, rules: rules}
}

// DefaultValidator validates against schema with the built-in generation
// rules and the enable/URL rule of every spec.
func DefaultValidator(schema *SchemaRegistry, specs []ServiceSpec) *Validator {
	rules := GenerationRules()
	for _, spec := range specs {
		if rule, ok := spec.Rule(); ok {
			rules = append(rules, rule)
		}
	}
	return NewValidator(schema, rules...)
}

// GenerationRules returns the n_predict ordering rules.
func GenerationRules() []CrossFieldRule {
	return []CrossFieldRule{
		intOrderRule("min_n_predict", "max_n_predict", []string{"min_n_predict", "max_n_predict"}),
		intOrderRule("n_predict", "max_n_predict", []string{"n_predict", "max_n_predict"}),
	}
}

func intOrderRule(lo, hi string, reset []string) CrossFieldRule {
	return CrossFieldRule{
		Name:  lo + "<=" + hi,
		Keys:  []string{lo, hi},
		Reset: reset,
		Check: func(doc *Document) (string, bool) {
			a, okA := doc.Get(lo)
			b, okB := doc.Get(hi)
			if !okA || !okB {
				return "", true
			}
			av, _ := a.AsInt()
			bv, _ := b.AsInt()
			if av > bv {
				return fmt.Sprintf("%s must not exceed %s (%d > %d)", lo, hi, av, bv), false
			}
			return "", true
		},
	}
}

// Validate reports every problem in doc without modifying it.
func (v *Validator) Validate(doc *Document) ValidationResult {
	var result ValidationResult
	for _, key := range v.schema.Keys() {
		d, _ := v.schema.Describe(key)
		value, ok := doc.Get(key)
		if !ok {
			result.Errors = append(result.Errors, FieldError{Key: key, Value: Null(), Reason: ReasonMissing})
			continue
		}
		if _, reason, ok := d.check(value); !ok {
			result.Errors = append(result.Errors, FieldError{Key: key, Value: value, Reason: reason})
		}
	}
	for _, key := range doc.Keys() {
		if !v.schema.Has(key) {
			value, _ := doc.Get(key)
			result.Errors = append(result.Errors, FieldError{Key: key, Value: value, Reason: ReasonUnknownKey})
		}
	}

	normalized, _ := v.normalize(doc)
	for _, rule := range v.rules {
		if reason, ok := rule.Check(normalized); !ok {
			key := rule.Reset[0]
			value, _ := doc.Get(key)
			result.Errors = append(result.Errors, FieldError{Key: key, Value: value, Reason: reason, Rule: rule.Name})
		}
	}
	return result
}

// normalize returns a clone holding coerced values, with missing or invalid
// keys replaced by their defaults and unknown keys quarantined.
func (v *Validator) normalize(doc *Document) (*Document, []Warning) {
	out := doc.Clone()
	var warnings []Warning
	for _, key := range out.Keys() {
		if !v.schema.Has(key) {
			value, _ := out.Get(key)
			warnings = append(warnings, Warning{Key: key, Previous: value.String(), Reason: ReasonUnknownKey})
			out.Quarantine(key, nil)
		}
	}
	for _, key := range v.schema.Keys() {
		d, _ := v.schema.Describe(key)
		value, ok := out.Get(key)
		if !ok {
			out.Set(key, d.Default)
			warnings = append(warnings, Warning{Key: key, Previous: "", Reason: ReasonMissing})
			continue
		}
		coerced, reason, ok := d.check(value)
		if !ok {
			out.Set(key, d.Default)
			warnings = append(warnings, Warning{Key: key, Previous: d.Render(value), Reason: reason})
			continue
		}
		out.Set(key, coerced)
	}
	return out, warnings
}

// Repair returns a copy of doc with every problem fixed: missing and invalid
// keys hold their defaults, unknown keys are quarantined and failing
// cross-field rules have their reset keys restored. The input is not modified.
func (v *Validator) Repair(doc *Document) (*Document, []Warning) {
	out, warnings := v.normalize(doc)
	for _, rule := range v.rules {
		for _, key := range rule.Reset {
			reason, ok := rule.Check(out)
			if ok {
				break
			}
			d, err := v.schema.Describe(key)
			if err != nil {
				continue
			}
			previous, _ := out.Get(key)
			out.Set(key, d.Default)
			warnings = append(warnings, Warning{Key: key, Previous: d.Render(previous), Reason: reason})
		}
	}
	return out, warnings
}

// ValidateUpdate checks a proposed value for key against its descriptor and
// against every cross-field rule reading key, evaluated on doc with the value
// applied. It returns the coerced value.
func (v *Validator) ValidateUpdate(doc *Document, key string, value Value) (Value, error) {
	d, err := v.schema.Describe(key)
	if err != nil {
		return Value{}, err
	}
	coerced, reason, ok := d.check(value)
	if !ok {
		return Value{}, NewInvalidValueError(key, d.Render(value), reason)
	}

	var candidate *Document
	for _, rule := range v.rules {
		if !rule.reads(key) {
			continue
		}
		if candidate == nil {
			candidate, _ = v.normalize(doc)
			candidate.Set(key, coerced)
		}
		if reason, ok := rule.Check(candidate); !ok {
			return Value{}, NewInvalidValueError(key, d.Render(value), reason)
		}
	}
	return coerced, nil
}

// Schema returns the registry the validator checks against.
func (v *Validator) Schema() *SchemaRegistry { return v.schema }
