// migration_catalog.go: the built-in migration chain up to CurrentSchemaVersion
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// delta is the explicit part of a step, applied before new keys are filled.
type delta struct {
	description string
	apply       func(doc *Document) error
}

// versionDeltas is indexed by the target version of a step.
var versionDeltas = map[int]delta{
	42: {"rename auto_sd_base_url to sd_base_url", renameKey("auto_sd_base_url", "sd_base_url")},
	58: {"rename vllm_base_url to vllm_url", renameKey("vllm_base_url", "vllm_url")},
	65: {"store seed, n_threads and ctx_size as integers", stringsToInts("seed", "n_threads", "ctx_size")},
	69: {"split elastic_search_service into a flag and elastic_search_url", splitElasticSearch},
	73: {"rename allow_remote_access to force_accept_remote_access", renameKey("allow_remote_access", KeyRemoteAccess)},
	77: {"merge xtts_host and xtts_port into xtts_base_url", mergeXTTSAddress},
	79: {"raise the untouched repeat_penalty default from 1.2 to 1.3", replaceUntouched("repeat_penalty", Float(1.2), Float(1.3))},
}

// DefaultMigrations returns an engine holding one step per version from the
// floor version to schema's current version. Each step applies its explicit
// delta, then fills keys introduced in its target version with defaults.
func DefaultMigrations(schema *SchemaRegistry) *MigrationEngine {
	engine := NewMigrationEngine(schema)
	for from := floorVersion; from < schema.CurrentVersion(); from++ {
		engine.MustRegister(catalogStep(schema, from))
	}
	return engine
}

func catalogStep(schema *SchemaRegistry, from int) MigrationStep {
	to := from + 1
	introduced := schema.IntroducedIn(to)
	d, hasDelta := versionDeltas[to]

	description := fmt.Sprintf("introduce %d setting(s)", len(introduced))
	if hasDelta {
		description = d.description + "; " + description
	}

	return MigrationStep{
		FromVersion: from,
		ToVersion:   to,
		Description: description,
		Transform: func(doc *Document) (*Document, error) {
			if hasDelta {
				if err := d.apply(doc); err != nil {
					return nil, err
				}
			}
			for _, desc := range introduced {
				doc.SetDefault(desc.Key, desc.Default)
			}
			return doc, nil
		},
	}
}

func renameKey(from, to string) func(*Document) error {
	return func(doc *Document) error {
		if !doc.Rename(from, to) {
			// both present: the new key wins
			doc.Delete(from)
		}
		return nil
	}
}

// stringsToInts converts string values that parse as integers. Anything else
// is left for validation to repair.
func stringsToInts(keys ...string) func(*Document) error {
	return func(doc *Document) error {
		for _, key := range keys {
			v, ok := doc.Get(key)
			if !ok {
				continue
			}
			s, isString := v.AsString()
			if !isString {
				continue
			}
			if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				doc.Set(key, Int(n))
			}
		}
		return nil
	}
}

func splitElasticSearch(doc *Document) error {
	v, ok := doc.Get("elastic_search_service")
	if !ok {
		return nil
	}
	address, isString := v.AsString()
	if !isString {
		return nil
	}
	address = strings.TrimSpace(address)
	doc.Set("elastic_search_service", Bool(address != ""))
	if address != "" {
		doc.SetDefault("elastic_search_url", String(address))
	}
	return nil
}

// mergeXTTSAddress folds the legacy host and port into one URL. A host that
// does not parse is left in place; repair quarantines it as an unknown key and
// xtts_base_url takes its default.
func mergeXTTSAddress(doc *Document) error {
	hostValue, hasHost := doc.Get("xtts_host")
	portValue, hasPort := doc.Get("xtts_port")
	if !hasHost {
		doc.Delete("xtts_port")
		return nil
	}

	host, _ := hostValue.AsString()
	host = strings.TrimSpace(host)
	if host == "" {
		doc.Delete("xtts_host")
		doc.Delete("xtts_port")
		return nil
	}

	base := &url.URL{Scheme: "http", Host: host}
	if strings.Contains(host, "://") {
		parsed, err := url.Parse(host)
		if err != nil || parsed.Host == "" {
			return nil
		}
		base = parsed
	}
	doc.Delete("xtts_host")
	doc.Delete("xtts_port")

	if hasPort {
		port := ""
		if p, ok := portValue.AsInt(); ok {
			port = strconv.FormatInt(p, 10)
		} else if p, ok := portValue.AsString(); ok {
			port = strings.TrimSpace(p)
		}
		if port != "" {
			base.Host = net.JoinHostPort(base.Hostname(), port)
		}
	}
	doc.SetDefault("xtts_base_url", String(base.String()))
	return nil
}

// replaceUntouched swaps a retired default for the new one when the stored
// value still equals the retired default.
func replaceUntouched(key string, old, replacement Value) func(*Document) error {
	return func(doc *Document) error {
		v, ok := doc.Get(key)
		if !ok {
			return nil
		}
		if f, isNum := v.AsFloat(); isNum {
			if of, _ := old.AsFloat(); f == of {
				doc.Set(key, replacement)
			}
		}
		return nil
	}
}
