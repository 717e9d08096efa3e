// env_config.go: ${VAR} expansion in url and path settings
//
// URL and path settings may reference the environment, e.g.
// "${HUB_DATA_DIR:-personal_data}/models". The stored document keeps the
// placeholders; published snapshots and resolved services see the expansion.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// EnvConfigOptions configures environment variable expansion.
type EnvConfigOptions struct {
	// Prefix is tried before the bare variable name (e.g. "HUB_").
	Prefix string `json:"prefix" yaml:"prefix"`

	// FailOnMissing makes unresolved variables without a default an error.
	FailOnMissing bool `json:"fail_on_missing" yaml:"fail_on_missing"`

	// ValidateValues rejects values with null bytes, control characters or
	// excessive length.
	ValidateValues bool `json:"validate_values" yaml:"validate_values"`

	// Defaults apply to variables that are unset and have no inline default.
	Defaults map[string]string `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// Overrides win over inline defaults but not over the environment.
	Overrides map[string]string `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// DefaultEnvConfigOptions returns the options used by the Manager.
func DefaultEnvConfigOptions() EnvConfigOptions {
	return EnvConfigOptions{
		Prefix:         EnvPrefix,
		FailOnMissing:  false,
		ValidateValues: true,
		Defaults:       make(map[string]string),
		Overrides:      make(map[string]string),
	}
}

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

const maxExpandedValueLength = 4096

// ExpandEnvironmentVariables replaces ${VAR} and ${VAR:-default} placeholders.
//
// Resolution order: prefixed environment variable, bare environment
// variable, configured override, inline default, configured default.
func ExpandEnvironmentVariables(input string, options EnvConfigOptions) (string, error) {
	if !strings.Contains(input, "${") {
		return input, nil
	}

	var firstErr error
	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := variablePattern.FindStringSubmatch(match)
		expanded, err := expandSingleEnvironmentVariable(sub[1], sub[3], options)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return expanded
	})
	return result, firstErr
}

// expandEnv expands with the default options, keeping the input on error.
func expandEnv(input string) string {
	out, err := ExpandEnvironmentVariables(input, DefaultEnvConfigOptions())
	if err != nil {
		return input
	}
	return out
}

func expandSingleEnvironmentVariable(name, inlineDefault string, options EnvConfigOptions) (string, error) {
	if options.Prefix != "" && !strings.HasPrefix(name, options.Prefix) {
		if value := os.Getenv(options.Prefix + name); value != "" {
			return validateAndSanitizeValue(name, value, options)
		}
	}
	if value := os.Getenv(name); value != "" {
		return validateAndSanitizeValue(name, value, options)
	}
	if value, ok := options.Overrides[name]; ok {
		return validateAndSanitizeValue(name, value, options)
	}
	if inlineDefault != "" {
		return validateAndSanitizeValue(name, inlineDefault, options)
	}
	if value, ok := options.Defaults[name]; ok {
		return validateAndSanitizeValue(name, value, options)
	}
	if options.FailOnMissing {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return "", nil
}

func validateAndSanitizeValue(name, value string, options EnvConfigOptions) (string, error) {
	if !options.ValidateValues {
		return value, nil
	}
	if strings.Contains(value, "\x00") {
		return "", fmt.Errorf("environment variable %s contains a null byte", name)
	}
	if len(value) > maxExpandedValueLength {
		return "", fmt.Errorf("environment variable %s is too long: %d bytes (max %d)", name, len(value), maxExpandedValueLength)
	}
	for i, r := range value {
		if r < 32 && r != '\t' {
			return "", fmt.Errorf("environment variable %s contains a control character at position %d", name, i)
		}
	}
	return value, nil
}

// ExpandDocument returns a copy of doc with placeholders expanded in every
// url and path setting. Values that fail to expand are kept as stored.
func ExpandDocument(doc *Document, schema *SchemaRegistry, options EnvConfigOptions) (*Document, []error) {
	out := doc.Clone()
	var errs []error
	for _, key := range out.Keys() {
		d, err := schema.Describe(key)
		if err != nil || (d.Type != TypeURL && d.Type != TypePath) {
			continue
		}
		v, _ := out.Get(key)
		raw, ok := v.AsString()
		if !ok {
			continue
		}
		expanded, err := ExpandEnvironmentVariables(raw, options)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		out.Set(key, String(expanded))
	}
	return out, errs
}
