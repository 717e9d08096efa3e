// env_overrides.go: HUB_* environment overrides layered over the loaded document
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"fmt"
	"sort"
	"strings"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables overriding settings,
// e.g. HUB_PORT=9601 overrides "port".
const EnvPrefix = "HUB_"

// Override is one environment value applied over the document.
type Override struct {
	Key      string
	Variable string
	Raw      string
}

// EnvOverrides reads setting overrides from the process environment.
// Overrides are applied to published snapshots only; they are never saved.
type EnvOverrides struct {
	prefix string
}

// NewEnvOverrides creates an override reader. An empty prefix means EnvPrefix.
func NewEnvOverrides(prefix string) *EnvOverrides {
	if prefix == "" {
		prefix = EnvPrefix
	}
	return &EnvOverrides{prefix: prefix}
}

// Read returns the overrides naming keys known to schema, sorted by key.
func (o *EnvOverrides) Read(schema *SchemaRegistry) ([]Override, error) {
	k := koanf.New(".")
	variables := make(map[string]string)
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: o.prefix,
		TransformFunc: func(name, value string) (string, any) {
			key := strings.ToLower(strings.TrimPrefix(name, o.prefix))
			variables[key] = name
			return key, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}

	var out []Override
	for _, key := range k.Keys() {
		if !schema.Has(key) {
			continue
		}
		raw := k.String(key)
		if raw == "" {
			continue
		}
		out = append(out, Override{Key: key, Variable: variables[key], Raw: raw})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Apply returns a copy of doc with every valid override set. Invalid
// overrides are skipped and reported as warnings.
func (o *EnvOverrides) Apply(doc *Document, validator *Validator, overrides []Override) (*Document, []Warning) {
	out := doc.Clone()
	var warnings []Warning
	for _, ov := range overrides {
		d, err := validator.Schema().Describe(ov.Key)
		if err != nil {
			continue
		}
		proposed := ParseRaw(d.Type, ov.Raw)
		coerced, err := validator.ValidateUpdate(out, ov.Key, proposed)
		if err != nil {
			warnings = append(warnings, Warning{
				Key:      ov.Key,
				Previous: d.Render(proposed),
				Reason:   fmt.Sprintf("ignored %s: %v", ov.Variable, err),
			})
			continue
		}
		out.Set(ov.Key, coerced)
	}
	return out, warnings
}

// ParseRaw turns command-line or environment text into a Value for a
// setting of type typ. Lists are comma separated; everything else stays a
// string for Coerce to convert.
func ParseRaw(typ SettingType, raw string) Value {
	if typ == TypeList {
		return splitList(raw)
	}
	return String(raw)
}

// splitList turns "a, b,c" into a list of strings.
func splitList(raw string) Value {
	parts := strings.Split(raw, ",")
	items := make([]Value, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, String(p))
		}
	}
	return List(items...)
}
