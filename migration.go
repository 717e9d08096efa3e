// migration.go: versioned migration chain for configuration documents
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"fmt"
	"sort"
	"sync"
)

// MigrationStep upgrades a document by exactly one schema version.
//
// Transform receives a private copy and may modify and return it; it must not
// keep references to it or touch anything else.
type MigrationStep struct {
	FromVersion int
	ToVersion   int
	Description string
	Transform   func(doc *Document) (*Document, error)
}

// MigrationRecord describes one applied step.
type MigrationRecord struct {
	FromVersion int
	ToVersion   int
	Description string
}

// MigrationEngine holds the append-only step list indexed by from_version.
type MigrationEngine struct {
	schema *SchemaRegistry

	mu    sync.RWMutex
	steps map[int]MigrationStep
}

// NewMigrationEngine creates an engine targeting schema's current version.
func NewMigrationEngine(schema *SchemaRegistry) *MigrationEngine {
	return &MigrationEngine{schema: schema, steps: make(map[int]MigrationStep)}
}

// Register appends a step. Steps must advance by one version, must not go
// past the current version and may be registered once per from_version.
func (e *MigrationEngine) Register(step MigrationStep) error {
	name := fmt.Sprintf("migration %d->%d", step.FromVersion, step.ToVersion)
	switch {
	case step.Transform == nil:
		return NewInvalidDescriptorError(name, "step has no transform")
	case step.FromVersion < floorVersion:
		return NewInvalidDescriptorError(name, "from_version below the floor version")
	case step.ToVersion != step.FromVersion+1:
		return NewInvalidDescriptorError(name, "steps must advance exactly one version")
	case step.ToVersion > e.schema.CurrentVersion():
		return NewInvalidDescriptorError(name, "step targets a version beyond the current schema")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.steps[step.FromVersion]; exists {
		return NewDuplicateKeyError(name)
	}
	e.steps[step.FromVersion] = step
	return nil
}

// MustRegister is Register for static chains.
func (e *MigrationEngine) MustRegister(steps ...MigrationStep) {
	for _, step := range steps {
		if err := e.Register(step); err != nil {
			panic(err)
		}
	}
}

// CurrentVersion returns the version documents are migrated to.
func (e *MigrationEngine) CurrentVersion() int { return e.schema.CurrentVersion() }

// Steps returns the registered steps ordered by from_version.
func (e *MigrationEngine) Steps() []MigrationStep {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]MigrationStep, 0, len(e.steps))
	for _, s := range e.steps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FromVersion < out[j].FromVersion })
	return out
}

// Path returns the steps leading from version from to the current version,
// or a NoMigrationPathError naming the first missing step.
func (e *MigrationEngine) Path(from int) ([]MigrationStep, error) {
	current := e.schema.CurrentVersion()
	if from > current {
		return nil, NewNoMigrationPathError(from, current, -1)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	path := make([]MigrationStep, 0, current-from)
	for v := from; v < current; v++ {
		step, ok := e.steps[v]
		if !ok {
			return nil, NewNoMigrationPathError(from, current, v)
		}
		path = append(path, step)
	}
	return path, nil
}

// Migrate brings doc to the current version, applying every intermediate
// step in order. The input is not modified. A document already at the
// current version is returned as a copy with no records.
func (e *MigrationEngine) Migrate(doc *Document) (*Document, []MigrationRecord, error) {
	path, err := e.Path(doc.Version)
	if err != nil {
		return nil, nil, err
	}

	out := doc.Clone()
	records := make([]MigrationRecord, 0, len(path))
	for _, step := range path {
		next, err := applyStep(step, out)
		if err != nil {
			return nil, records, NewMigrationStepError(step.FromVersion, step.ToVersion, err)
		}
		next.Version = step.ToVersion
		out = next
		records = append(records, MigrationRecord{
			FromVersion: step.FromVersion,
			ToVersion:   step.ToVersion,
			Description: step.Description,
		})
	}
	return out, records, nil
}

func applyStep(step MigrationStep, doc *Document) (out *Document, err error) {
	defer withCustomRecoveryHandler(func(recovered any, _ []byte) {
		out, err = nil, fmt.Errorf("transform panicked: %v", recovered)
	})()

	out, err = step.Transform(doc.Clone())
	if err == nil && out == nil {
		err = fmt.Errorf("transform returned no document")
	}
	return out, err
}
