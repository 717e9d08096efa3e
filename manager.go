// manager.go: the configuration manager owning the live document
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
	"github.com/romdo/go-debounce"
	"github.com/sethvargo/go-retry"
)

// ManagerOptions wires the Manager's collaborators. Zero fields are filled
// by NewManager from DefaultManagerOptions.
type ManagerOptions struct {
	Schema     *SchemaRegistry
	Migrations *MigrationEngine
	Validator  *Validator
	Services   *ServiceRegistry

	// Sink receives saves. When nil, a loaded Source that is also a Sink is used.
	Sink Sink

	Logger  any
	Metrics MetricsCollector
	Audit   Auditor

	// EnvOverrides applies HUB_* variables over published snapshots; nil disables them.
	EnvOverrides *EnvOverrides
	Env          EnvConfigOptions

	// AutoSaveDelay coalesces saves after Set. Zero saves synchronously inside Set.
	AutoSaveDelay   time.Duration
	AutoSaveMaxWait time.Duration

	// SaveTimeout bounds each write attempt; a failed attempt is retried once.
	SaveTimeout    time.Duration
	SaveRetryDelay time.Duration

	// OnTransition observes every state change.
	OnTransition func(from, to State)
}

// DefaultManagerOptions returns options wired to the built-in catalog.
func DefaultManagerOptions() ManagerOptions {
	schema := DefaultSchema()
	return ManagerOptions{
		Schema:          schema,
		Migrations:      DefaultMigrations(schema),
		Validator:       DefaultValidator(schema, DefaultServiceSpecs()),
		Metrics:         NoOpMetrics{},
		Audit:           NoOpAuditor{},
		Env:             DefaultEnvConfigOptions(),
		AutoSaveDelay:   500 * time.Millisecond,
		AutoSaveMaxWait: 5 * time.Second,
		SaveTimeout:     5 * time.Second,
		SaveRetryDelay:  100 * time.Millisecond,
	}
}

// Manager owns the live configuration document.
//
// Load, Reload, Set and Save are serialized by one mutex. Readers go through
// an atomically published Snapshot and never observe a partial update.
type Manager struct {
	schema     *SchemaRegistry
	migrations *MigrationEngine
	validator  *Validator
	services   *ServiceRegistry
	logger     Logger
	metrics    MetricsCollector
	audit      Auditor
	overrides  *EnvOverrides
	env        EnvConfigOptions
	opts       ManagerOptions

	mu     sync.Mutex
	base   *Document
	source Source
	sink   Sink
	format Format

	state      atomic.Int32
	current    atomic.Pointer[Snapshot]
	report     atomic.Pointer[LoadReport]
	persistErr atomic.Pointer[persistenceFailure]
	dirty      atomic.Bool

	subMu       sync.RWMutex
	subscribers []func(*Snapshot)

	autoSave       func()
	cancelAutoSave func()

	closed    atomic.Bool
	closeOnce sync.Once
}

type persistenceFailure struct{ err error }

// NewManager creates a manager holding an Unloaded defaults snapshot.
func NewManager(opts ManagerOptions) (*Manager, error) {
	defaults := DefaultManagerOptions()
	if opts.Schema == nil {
		opts.Schema = defaults.Schema
	}
	if opts.Migrations == nil {
		opts.Migrations = DefaultMigrations(opts.Schema)
	}
	if opts.Validator == nil {
		opts.Validator = DefaultValidator(opts.Schema, DefaultServiceSpecs())
	}
	if opts.Services == nil {
		opts.Services = DefaultServices(opts.Logger)
	}
	if opts.Metrics == nil {
		opts.Metrics = NoOpMetrics{}
	}
	if opts.Audit == nil {
		opts.Audit = NoOpAuditor{}
	}
	if opts.Env.Prefix == "" && opts.Env.Defaults == nil && opts.Env.Overrides == nil {
		opts.Env = defaults.Env
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = defaults.SaveTimeout
	}
	if opts.SaveRetryDelay <= 0 {
		opts.SaveRetryDelay = defaults.SaveRetryDelay
	}
	if opts.AutoSaveDelay < 0 {
		opts.AutoSaveDelay = 0
	}
	if opts.AutoSaveMaxWait < opts.AutoSaveDelay {
		opts.AutoSaveMaxWait = opts.AutoSaveDelay * 10
	}

	if opts.Migrations.CurrentVersion() != opts.Schema.CurrentVersion() {
		return nil, NewInvalidDescriptorError("migrations", "migration engine targets a different schema version")
	}
	if opts.Validator.Schema() != opts.Schema {
		return nil, NewInvalidDescriptorError("validator", "validator checks a different schema")
	}

	m := &Manager{
		schema:     opts.Schema,
		migrations: opts.Migrations,
		validator:  opts.Validator,
		services:   opts.Services,
		logger:     NewLogger(opts.Logger).With("component", "hubconfig"),
		metrics:    opts.Metrics,
		audit:      opts.Audit,
		overrides:  opts.EnvOverrides,
		env:        opts.Env,
		opts:       opts,
		sink:       opts.Sink,
		format:     FormatYAML,
	}
	m.base = m.schema.Defaults()
	m.current.Store(newSnapshot(m.base, uuid.NewString(), StateUnloaded, timecache.CachedTime()))

	if opts.AutoSaveDelay > 0 {
		m.autoSave, m.cancelAutoSave = debounce.NewWithMaxWait(opts.AutoSaveDelay, opts.AutoSaveMaxWait, m.runAutoSave)
	}
	return m, nil
}

// Load reads src and publishes the migrated, validated document.
//
// A source that cannot be parsed or migrated publishes the defaults-only
// document in the Degraded state and returns the error; the returned
// snapshot is usable either way. Per-key problems never fail a load: they
// are repaired and listed in LastReport.
func (m *Manager) Load(ctx context.Context, src Source) (*Snapshot, error) {
	m.mu.Lock()
	m.source = src
	if m.opts.Sink == nil {
		if sink, ok := src.(Sink); ok {
			m.sink = sink
		} else {
			m.sink = nil
		}
	}

	doc, report, err := m.loadLocked(ctx, src, true)
	var snap *Snapshot
	if err != nil {
		snap = m.degradeLocked(report, err)
	} else {
		m.base = doc
		m.dirty.Store(false)
		snap = m.publishLocked(doc, StateReady, report)
		m.auditLoad(AuditConfigLoaded, "Configuration loaded", report, snap)
		m.metrics.IncrementCounter(MetricLoads, map[string]string{"result": "ok"}, 1)
	}
	m.mu.Unlock()

	m.notify(snap)
	return snap, err
}

// Reload re-reads the last source. The live document is replaced only on
// success; on failure, including a source that no longer exists, the
// previous document and state stay in place.
func (m *Manager) Reload(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	if m.source == nil {
		m.mu.Unlock()
		return m.Snapshot(), NewUnreadableSourceError("", errors.New("no source loaded"))
	}

	previous := m.State()
	doc, report, err := m.loadLocked(ctx, m.source, false)
	if err != nil {
		m.setState(previous)
		m.mu.Unlock()
		m.logger.Error("Configuration reload failed, keeping previous document",
			"source", m.source.Name(), "error", err)
		m.metrics.IncrementCounter(MetricLoads, map[string]string{"result": "reload_failed"}, 1)
		return m.Snapshot(), err
	}

	m.base = doc
	snap := m.publishLocked(doc, StateReady, report)
	m.auditLoad(AuditConfigReloaded, "Configuration reloaded", report, snap)
	m.metrics.IncrementCounter(MetricLoads, map[string]string{"result": "reloaded"}, 1)
	m.mu.Unlock()

	m.notify(snap)
	return snap, nil
}

// loadLocked runs Loading -> Migrating -> Validating without publishing.
// A missing source is a fresh start only when allowMissing is set; a reload
// must not swap the live document for defaults because the file vanished.
func (m *Manager) loadLocked(ctx context.Context, src Source, allowMissing bool) (*Document, *LoadReport, error) {
	report := &LoadReport{Source: src.Name(), LoadedAt: timecache.CachedTime()}

	m.setState(StateLoading)
	data, format, err := src.Read(ctx)
	var doc *Document
	switch {
	case errors.Is(err, fs.ErrNotExist) && allowMissing:
		m.logger.Info("Configuration source not found, starting from defaults", "source", src.Name())
		report.Fresh = true
		doc = m.schema.Defaults()
	case err != nil:
		return nil, report, NewUnreadableSourceError(src.Name(), err)
	default:
		doc, err = Decode(data, format)
		if err != nil {
			return nil, report, NewUnreadableSourceError(src.Name(), err)
		}
	}
	if format != "" {
		m.format = format
	}
	report.FromVersion = doc.Version

	m.setState(StateMigrating)
	migrated, records, err := m.migrations.Migrate(doc)
	report.Migrations = records
	if err != nil {
		return nil, report, err
	}
	if len(records) > 0 {
		m.metrics.IncrementCounter(MetricMigrationSteps, nil, int64(len(records)))
		m.logger.Info("Configuration migrated",
			"from_version", report.FromVersion, "to_version", migrated.Version, "steps", len(records))
	}

	m.setState(StateValidating)
	repaired, warnings := m.validator.Repair(migrated)
	report.Version = repaired.Version
	report.Warnings = warnings
	for _, q := range repaired.Quarantined() {
		report.Quarantined = append(report.Quarantined, q.Key)
	}
	for _, w := range warnings {
		m.logger.Warn("Configuration key reset", "key", w.Key, "previous", w.Previous, "reason", w.Reason)
	}
	m.metrics.SetGauge(MetricResetKeys, nil, float64(len(report.ResetKeys())))
	return repaired, report, nil
}

// degradeLocked publishes the defaults-only document after a failed load.
func (m *Manager) degradeLocked(report *LoadReport, err error) *Snapshot {
	report.Degraded = true
	report.Err = err
	report.Version = m.schema.CurrentVersion()

	m.base = m.schema.Defaults()
	snap := m.publishLocked(m.base, StateDegraded, report)

	m.logger.Error("Configuration load failed, running on defaults with restrictive gates",
		"source", report.Source, "error", err, "error_code", ErrorCode(err))
	m.audit.Record(AuditConfigDegraded, "Configuration degraded to defaults", map[string]any{
		"source":     report.Source,
		"error_code": ErrorCode(err),
		"error":      err.Error(),
		"revision":   snap.Revision(),
	})
	m.metrics.IncrementCounter(MetricLoads, map[string]string{"result": "degraded"}, 1)
	return snap
}

// publishLocked layers environment overrides and expansions over doc and
// makes the result the live snapshot.
func (m *Manager) publishLocked(doc *Document, state State, report *LoadReport) *Snapshot {
	effective := doc
	if m.overrides != nil && state != StateDegraded {
		overrides, err := m.overrides.Read(m.schema)
		if err != nil {
			m.logger.Warn("Environment overrides unavailable", "error", err)
		}
		var warnings []Warning
		effective, warnings = m.overrides.Apply(effective, m.validator, overrides)
		for _, w := range warnings {
			m.logger.Warn("Environment override rejected", "key", w.Key, "reason", w.Reason)
		}
		if report != nil {
			report.Overrides = report.Overrides[:0]
			for _, ov := range overrides {
				report.Overrides = append(report.Overrides, ov.Variable)
			}
		}
	}
	expanded, errs := ExpandDocument(effective, m.schema, m.env)
	for _, err := range errs {
		m.logger.Warn("Environment expansion failed", "error", err)
	}

	set := m.services.Commit(expanded)
	snap := newSnapshot(expanded, uuid.NewString(), state, timecache.CachedTime())
	snap.services = set
	m.current.Store(snap)
	m.setState(state)
	if report != nil {
		m.report.Store(report)
	}

	available := 0
	for _, d := range set {
		if d.Available() {
			available++
		}
	}
	m.metrics.SetGauge(MetricServicesEnabled, nil, float64(available))
	return snap
}

// Snapshot returns the published document.
func (m *Manager) Snapshot() *Snapshot { return m.current.Load() }

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(to State) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	m.logger.Debug("Configuration state changed", "from", from.String(), "to", to.String())
	if m.opts.OnTransition != nil {
		m.opts.OnTransition(from, to)
	}
}

// Get returns the published value of key.
func (m *Manager) Get(key string) (Value, error) {
	d, err := m.schema.Describe(key)
	if err != nil {
		return Value{}, err
	}
	if v, ok := m.Snapshot().Get(key); ok {
		return v, nil
	}
	return d.Default, nil
}

// Set changes one setting.
//
// Unknown keys are always rejected. With the setting_update_validation gate
// on, the value must pass ValidateUpdate or Set fails and nothing changes.
// With the gate off the value is stored even if invalid, with a warning and
// an audit entry; gate keys themselves must still be booleans.
func (m *Manager) Set(ctx context.Context, key string, value Value) error {
	if m.closed.Load() {
		return NewPersistenceError("", errors.New("manager is closed"))
	}
	d, err := m.schema.Describe(key)
	if err != nil {
		m.metrics.IncrementCounter(MetricUpdates, map[string]string{"result": "rejected"}, 1)
		return err
	}

	m.mu.Lock()
	stored, checked, err := m.admitLocked(d, value)
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("Setting update rejected", "key", key, "value", d.Render(value), "error", err)
		m.audit.Record(AuditSettingRejected, "Setting update rejected", map[string]any{
			"key":    key,
			"value":  d.Render(value),
			"reason": reasonOf(err),
		})
		m.metrics.IncrementCounter(MetricUpdates, map[string]string{"result": "rejected"}, 1)
		return err
	}

	previous, _ := m.base.Get(key)
	target := m.State()
	degraded := target == StateDegraded
	if target == StateReady {
		m.setState(StateUpdating)
	}

	next := m.base.Clone()
	next.Set(key, stored)
	m.base = next
	snap := m.publishLocked(next, target, nil)

	event, result := AuditSettingChanged, "committed"
	if !checked {
		event, result = AuditSettingUnchecked, "unchecked"
	}
	m.audit.Record(event, "Setting changed", map[string]any{
		"key":      key,
		"previous": d.Render(previous),
		"value":    d.Render(stored),
		"revision": snap.Revision(),
		"degraded": degraded,
	})
	m.metrics.IncrementCounter(MetricUpdates, map[string]string{"result": result}, 1)
	m.logger.Info("Setting changed", "key", key, "value", d.Render(stored), "revision", snap.Revision())

	m.schedulePersistenceLocked(ctx, degraded)
	m.mu.Unlock()

	m.notify(snap)
	return nil
}

// admitLocked decides what Set stores. checked is false when the value went
// in without validation.
func (m *Manager) admitLocked(d SettingDescriptor, value Value) (stored Value, checked bool, err error) {
	if m.gateLocked(GateSettingUpdateValidation) {
		coerced, err := m.validator.ValidateUpdate(m.base, d.Key, value)
		return coerced, true, err
	}

	if _, isGate := gateForKey(d.Key); isGate {
		coerced, err := Coerce(TypeBool, value)
		if err != nil {
			return Value{}, true, NewInvalidValueError(d.Key, d.Render(value), err.Error())
		}
		return coerced, true, nil
	}

	coerced, err := m.validator.ValidateUpdate(m.base, d.Key, value)
	if err == nil {
		return coerced, true, nil
	}
	stored = value
	if c, coerceErr := Coerce(d.Type, value); coerceErr == nil {
		stored = c
	}
	m.logger.Warn("Setting accepted without validation",
		"key", d.Key, "value", d.Render(value), "reason", reasonOf(err), "gate", GateSettingUpdateValidation)
	return stored, false, nil
}

func (m *Manager) schedulePersistenceLocked(ctx context.Context, degraded bool) {
	if degraded {
		m.logger.Debug("Degraded configuration is kept in memory only")
		return
	}
	if m.sink == nil {
		return
	}
	m.dirty.Store(true)
	if m.autoSave != nil {
		m.autoSave()
		return
	}
	_ = m.saveLocked(ctx)
}

func (m *Manager) runAutoSave() {
	defer withStackRecover(m.logger)()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty.Load() || m.State() == StateDegraded {
		return
	}
	_ = m.saveLocked(context.Background())
}

// Save persists the live document. I/O failures are retried once and then
// reported as a PersistenceError; the in-memory document stays authoritative.
func (m *Manager) Save(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(ctx)
}

func (m *Manager) saveLocked(ctx context.Context) error {
	target := ""
	if m.source != nil {
		target = m.source.Name()
	}
	if m.State() == StateDegraded {
		m.metrics.IncrementCounter(MetricSaves, map[string]string{"result": "refused"}, 1)
		return NewDegradedSaveError(target)
	}
	if m.sink == nil {
		return m.recordPersistenceFailure(NewPersistenceError(target, errors.New("no sink configured")))
	}

	data, err := Encode(m.base, m.schema, m.format)
	if err != nil {
		return m.recordPersistenceFailure(NewPersistenceError(target, err))
	}

	start := time.Now()
	attempt := 0
	backoff := retry.WithMaxRetries(1, retry.NewConstant(m.opts.SaveRetryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, m.opts.SaveTimeout)
		defer cancel()
		if err := m.sink.Write(attemptCtx, data, m.format); err != nil {
			m.logger.Warn("Configuration write failed", "target", target, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		m.metrics.RecordHistogram(MetricSaveDuration, map[string]string{"result": "error"}, elapsed)
		return m.recordPersistenceFailure(NewPersistenceError(target, err))
	}

	m.dirty.Store(false)
	m.persistErr.Store(nil)
	m.metrics.RecordHistogram(MetricSaveDuration, map[string]string{"result": "ok"}, elapsed)
	m.metrics.IncrementCounter(MetricSaves, map[string]string{"result": "ok"}, 1)
	m.audit.Record(AuditConfigSaved, "Configuration saved", map[string]any{
		"target":   target,
		"revision": m.Snapshot().Revision(),
		"attempts": attempt,
	})
	m.logger.Debug("Configuration saved", "target", target, "attempts", attempt)
	return nil
}

func (m *Manager) recordPersistenceFailure(err error) error {
	m.persistErr.Store(&persistenceFailure{err: err})
	m.metrics.IncrementCounter(MetricSaves, map[string]string{"result": "error"}, 1)
	m.logger.Error("Configuration not persisted, in-memory settings remain active", "error", err)
	return err
}

// LastPersistenceError returns the error of the last failed save, or nil
// once a later save succeeded.
func (m *Manager) LastPersistenceError() error {
	if f := m.persistErr.Load(); f != nil {
		return f.err
	}
	return nil
}

// LastReport returns the report of the last Load or successful Reload.
func (m *Manager) LastReport() LoadReport {
	if r := m.report.Load(); r != nil {
		return *r
	}
	return LoadReport{}
}

// OnChange registers fn to receive every published snapshot. Callbacks run
// outside the manager lock, in publication order per caller.
func (m *Manager) OnChange(fn func(*Snapshot)) {
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.subMu.Unlock()
}

// notify runs after the manager lock is released, so subscribers may call
// back into the manager. Service subscribers only see snap while it is still
// current; a newer publication notifies them itself.
func (m *Manager) notify(snap *Snapshot) {
	if m.current.Load() == snap {
		m.services.Broadcast(snap.services)
	}

	m.subMu.RLock()
	subscribers := make([]func(*Snapshot), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.subMu.RUnlock()

	for _, fn := range subscribers {
		func() {
			defer withStackRecover(m.logger)()
			fn(snap)
		}()
	}
}

// Services returns the service registry fed by this manager.
func (m *Manager) Services() *ServiceRegistry { return m.services }

// Schema returns the schema registry.
func (m *Manager) Schema() *SchemaRegistry { return m.schema }

// Stored returns a copy of the document as it is persisted: without
// environment overrides or expansion.
func (m *Manager) Stored() *Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.base.Clone()
}

// Format returns the encoding used for saves.
func (m *Manager) Format() Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}

// Close flushes a pending auto-save. It is safe to call more than once.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		if m.cancelAutoSave != nil {
			m.cancelAutoSave()
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.dirty.Load() && m.State() != StateDegraded {
			err = m.saveLocked(ctx)
		}
	})
	return err
}

func (m *Manager) auditLoad(event, message string, report *LoadReport, snap *Snapshot) {
	m.audit.Record(event, message, map[string]any{
		"source":       report.Source,
		"from_version": report.FromVersion,
		"version":      report.Version,
		"migrations":   len(report.Migrations),
		"reset_keys":   report.ResetKeys(),
		"quarantined":  report.Quarantined,
		"revision":     snap.Revision(),
	})
	m.logger.Info(message,
		"source", report.Source,
		"version", report.Version,
		"reset_keys", len(report.ResetKeys()),
		"quarantined", len(report.Quarantined))
}

func reasonOf(err error) string {
	if reason, ok := ErrorContext(err, "reason"); ok {
		if s, ok := reason.(string); ok {
			return s
		}
	}
	return err.Error()
}
