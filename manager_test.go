// manager_test.go: tests for the configuration manager lifecycle
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, configure func(*ManagerOptions)) (*Manager, *TestLogger, *TestAuditor) {
	t.Helper()
	logger := NewTestLogger()
	audit := NewTestAuditor()

	opts := DefaultManagerOptions()
	opts.Logger = logger
	opts.Audit = audit
	opts.AutoSaveDelay = 0
	opts.SaveRetryDelay = time.Millisecond
	if configure != nil {
		configure(&opts)
	}
	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, logger, audit
}

func yamlSource(data string) BytesSource {
	return BytesSource{Label: "test.yaml", Data: []byte(data), Format: FormatYAML}
}

func currentDefaultsYAML(t *testing.T) []byte {
	t.Helper()
	schema := DefaultSchema()
	data, err := Encode(schema.Defaults(), schema, FormatYAML)
	require.NoError(t, err)
	return data
}

func TestNewManagerStartsUnloaded(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	assert.Equal(t, StateUnloaded, m.State())
	snap := m.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, CurrentSchemaVersion, snap.Version())
	assert.NotEmpty(t, snap.Revision())
	assert.False(t, m.CheckGate(GateCodeExecution))
	assert.True(t, m.CheckGate(GateSettingUpdateValidation))
}

func TestNewManagerRejectsMismatchedCollaborators(t *testing.T) {
	schema := DefaultSchema()
	other := NewSchemaRegistry()
	require.NoError(t, other.Register(SettingDescriptor{Key: "a", Type: TypeInt, Default: Int(1), IntroducedIn: 2}))
	other.Seal()

	opts := DefaultManagerOptions()
	opts.Schema = schema
	opts.Migrations = NewMigrationEngine(other)
	_, err := NewManager(opts)
	assert.Error(t, err)

	opts = DefaultManagerOptions()
	opts.Validator = DefaultValidator(DefaultSchema(), nil)
	_, err = NewManager(opts)
	assert.Error(t, err)
}

func TestLoadMigratesAndRepairs(t *testing.T) {
	m, logger, audit := newTestManager(t, nil)

	snap, err := m.Load(context.Background(), yamlSource(`
version: 40
temperature: 0.9
port: 70000
legacy_plugin_dir: /opt/plugins
`))
	require.NoError(t, err)
	assert.Equal(t, StateReady, m.State())
	assert.Equal(t, 81, snap.Version())

	experts, err := m.Get("num_experts_per_token")
	require.NoError(t, err)
	assert.True(t, Int(2).Equal(experts))
	temp, _ := m.Get("temperature")
	assert.True(t, Float(0.9).Equal(temp))
	port, _ := m.Get("port")
	assert.True(t, Int(9600).Equal(port))

	report := m.LastReport()
	assert.Equal(t, 40, report.FromVersion)
	assert.Equal(t, 81, report.Version)
	assert.Len(t, report.Migrations, 41)
	assert.Contains(t, report.ResetKeys(), "port")
	assert.NotContains(t, report.ResetKeys(), "legacy_plugin_dir")
	assert.Equal(t, []string{"legacy_plugin_dir"}, report.Quarantined)
	assert.False(t, report.Degraded)

	assert.True(t, logger.HasMessage("WARN", "Configuration key reset"))
	require.Len(t, audit.Events(AuditConfigLoaded), 1)

	_, err = m.Get("legacy_plugin_dir")
	assert.True(t, IsSchemaError(err))
	assert.Len(t, m.Stored().Quarantined(), 1)
}

func TestLoadUnreadableSourceDegrades(t *testing.T) {
	m, _, audit := newTestManager(t, nil)

	snap, err := m.Load(context.Background(), yamlSource("turn_on_code_execution: true\nport: [1, 2\n"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnreadableSource, ErrorCode(err))
	assert.True(t, IsPersistenceError(err))

	require.NotNil(t, snap)
	assert.True(t, snap.Degraded())
	assert.Equal(t, StateDegraded, m.State())
	assert.True(t, m.LastReport().Degraded)

	assert.False(t, m.CheckGate(GateCodeExecution))
	assert.False(t, m.CheckGate(GateRemoteAccess))
	assert.True(t, m.CheckGate(GateCodeValidation))
	assert.True(t, m.CheckGate(GateSettingUpdateValidation))

	port, _ := m.Get("port")
	assert.True(t, Int(9600).Equal(port))
	assert.Len(t, audit.Events(AuditConfigDegraded), 1)

	err = m.Save(context.Background())
	assert.Equal(t, ErrCodeDegradedSaveRefuse, ErrorCode(err))
}

func TestLoadMigrationFailureDegrades(t *testing.T) {
	schema := DefaultSchema()
	m, _, _ := newTestManager(t, func(o *ManagerOptions) {
		o.Schema = schema
		o.Migrations = NewMigrationEngine(schema)
		o.Validator = DefaultValidator(schema, DefaultServiceSpecs())
	})

	_, err := m.Load(context.Background(), yamlSource("version: 40\nturn_on_code_execution: true\n"))
	require.Error(t, err)
	assert.True(t, IsMigrationError(err))
	assert.Equal(t, StateDegraded, m.State())
	assert.False(t, m.CheckGate(GateCodeExecution))
}

func TestLoadMissingSourceStartsFresh(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	store := NewMemoryStore("missing.yaml", nil, FormatYAML)

	snap, err := m.Load(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, StateReady, snap.State())
	assert.True(t, m.LastReport().Fresh)
	assert.Zero(t, store.Writes(), "loading never writes")

	require.NoError(t, m.Set(context.Background(), "port", Int(9700)))
	require.Equal(t, 1, store.Writes())

	saved, err := Decode(store.Data(), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, saved.Version)
	port, _ := saved.Get("port")
	assert.True(t, Int(9700).Equal(port))
}

func TestSetRejectsInvalidValueWhenGateOn(t *testing.T) {
	m, _, audit := newTestManager(t, nil)
	_, err := m.Load(context.Background(), BytesSource{Data: currentDefaultsYAML(t), Format: FormatYAML})
	require.NoError(t, err)
	before := m.Snapshot().Revision()

	err = m.Set(context.Background(), "top_p", Float(1.5))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	key, _ := ErrorContext(err, "key")
	assert.Equal(t, "top_p", key)
	reason, _ := ErrorContext(err, "reason")
	assert.Equal(t, "out of range (0,1]", reason)

	topP, _ := m.Get("top_p")
	assert.True(t, Float(0.6).Equal(topP))
	assert.Equal(t, before, m.Snapshot().Revision())
	assert.Len(t, audit.Events(AuditSettingRejected), 1)
}

func TestSetAcceptsInvalidValueWhenGateOff(t *testing.T) {
	m, logger, audit := newTestManager(t, nil)
	_, err := m.Load(context.Background(), yamlSource("version: 81\nturn_on_setting_update_validation: false\n"))
	require.NoError(t, err)
	require.False(t, m.CheckGate(GateSettingUpdateValidation))

	require.NoError(t, m.Set(context.Background(), "top_p", Float(1.5)))
	topP, _ := m.Get("top_p")
	assert.True(t, Float(1.5).Equal(topP))
	assert.True(t, logger.HasMessage("WARN", "Setting accepted without validation"))
	assert.Len(t, audit.Events(AuditSettingUnchecked), 1)

	// Values are still coerced when possible.
	require.NoError(t, m.Set(context.Background(), "top_k", String("7")))
	topK, _ := m.Get("top_k")
	assert.True(t, Int(7).Equal(topK))

	// Gate flags must stay booleans.
	err = m.Set(context.Background(), KeyCodeExecution, String("sometimes"))
	assert.True(t, IsValidationError(err))

	require.NoError(t, m.Set(context.Background(), KeyCodeExecution, String("true")))
	assert.True(t, m.CheckGate(GateCodeExecution))
}

// outOfRange returns the values just below and just above each bound of a
// range-constrained descriptor.
func outOfRange(d SettingDescriptor) []Value {
	r, ok := d.Constraint.(Range)
	if !ok {
		return nil
	}
	var bounds []float64
	if r.Min != nil {
		bounds = append(bounds, *r.Min-1)
	}
	if r.Max != nil {
		bounds = append(bounds, *r.Max+1)
	}
	out := make([]Value, 0, len(bounds))
	for _, b := range bounds {
		switch d.Type {
		case TypeInt:
			out = append(out, Int(int64(b)))
		case TypeFloat:
			out = append(out, Float(b))
		}
	}
	return out
}

func TestSetRangeBoundsFollowUpdateGate(t *testing.T) {
	schema := DefaultSchema()
	ctx := context.Background()

	on, _, _ := newTestManager(t, nil)
	_, err := on.Load(ctx, BytesSource{Data: currentDefaultsYAML(t), Format: FormatYAML})
	require.NoError(t, err)
	off, _, _ := newTestManager(t, nil)
	_, err = off.Load(ctx, yamlSource("version: 81\nturn_on_setting_update_validation: false\n"))
	require.NoError(t, err)

	checked := 0
	for _, key := range schema.Keys() {
		d, err := schema.Describe(key)
		require.NoError(t, err)
		for _, v := range outOfRange(d) {
			checked++
			t.Run(key+"="+v.String(), func(t *testing.T) {
				before, _ := on.Get(key)
				err := on.Set(ctx, key, v)
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
				after, _ := on.Get(key)
				assert.True(t, before.Equal(after))

				require.NoError(t, off.Set(ctx, key, v))
				stored, _ := off.Get(key)
				assert.True(t, v.Equal(stored), "got %s", stored)
			})
		}
	}
	assert.Greater(t, checked, 10)
}

func TestSetUnknownKeyAlwaysRejected(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	_, err := m.Load(context.Background(), yamlSource("version: 81\nturn_on_setting_update_validation: false\n"))
	require.NoError(t, err)

	err = m.Set(context.Background(), "does_not_exist", Int(1))
	assert.Equal(t, ErrCodeUnknownKey, ErrorCode(err))
}

func TestSetPublishesServicesAndNotifies(t *testing.T) {
	m, _, audit := newTestManager(t, nil)
	_, err := m.Load(context.Background(), BytesSource{Data: currentDefaultsYAML(t), Format: FormatYAML})
	require.NoError(t, err)

	var mu sync.Mutex
	var revisions []string
	m.OnChange(func(s *Snapshot) {
		mu.Lock()
		revisions = append(revisions, s.Revision())
		mu.Unlock()
	})
	m.OnChange(func(*Snapshot) { panic("subscriber bug") })

	assert.False(t, m.Services().IsEnabled(ServiceOllama))
	require.NoError(t, m.Set(context.Background(), "enable_ollama_service", Bool(true)))
	assert.True(t, m.Services().IsEnabled(ServiceOllama))
	assert.Equal(t, StateReady, m.State())

	mu.Lock()
	assert.Equal(t, []string{m.Snapshot().Revision()}, revisions)
	mu.Unlock()

	changed := audit.Events(AuditSettingChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "enable_ollama_service", changed[0].Fields["key"])
}

func TestSetRedactsSensitiveValuesInAudit(t *testing.T) {
	m, _, audit := newTestManager(t, nil)
	_, err := m.Load(context.Background(), BytesSource{Data: currentDefaultsYAML(t), Format: FormatYAML})
	require.NoError(t, err)

	require.NoError(t, m.Set(context.Background(), "hf_token", String("hf_abcdef")))
	changed := audit.Events(AuditSettingChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "[REDACTED]", changed[0].Fields["value"])
}

func TestSetInDegradedStaysInMemory(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	store := NewMemoryStore("broken.yaml", []byte("{{{"), FormatYAML)
	_, err := m.Load(context.Background(), store)
	require.Error(t, err)
	writesAfterLoad := store.Writes()

	require.NoError(t, m.Set(context.Background(), "temperature", Float(0.7)))
	assert.Equal(t, StateDegraded, m.State())
	temp, _ := m.Get("temperature")
	assert.True(t, Float(0.7).Equal(temp))
	assert.Equal(t, writesAfterLoad, store.Writes())
	assert.Equal(t, "{{{", string(store.Data()))
}

func TestSaveRetriesOnce(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	store := NewMemoryStore("mem.yaml", currentDefaultsYAML(t), FormatYAML)
	_, err := m.Load(context.Background(), store)
	require.NoError(t, err)

	store.FailWrites(1)
	require.NoError(t, m.Set(context.Background(), "port", Int(9601)))
	assert.Equal(t, 2, store.Writes())
	assert.NoError(t, m.LastPersistenceError())

	store.FailWrites(2)
	require.NoError(t, m.Set(context.Background(), "port", Int(9602)), "persistence failures do not fail Set")
	assert.Equal(t, 4, store.Writes())
	err = m.LastPersistenceError()
	require.Error(t, err)
	assert.Equal(t, ErrCodePersistenceFailed, ErrorCode(err))

	port, _ := m.Get("port")
	assert.True(t, Int(9602).Equal(port), "memory stays authoritative")

	require.NoError(t, m.Save(context.Background()))
	assert.NoError(t, m.LastPersistenceError())
	saved, err := Decode(store.Data(), FormatYAML)
	require.NoError(t, err)
	port, _ = saved.Get("port")
	assert.True(t, Int(9602).Equal(port))
}

func TestAutoSaveCoalesces(t *testing.T) {
	m, _, _ := newTestManager(t, func(o *ManagerOptions) {
		o.AutoSaveDelay = 20 * time.Millisecond
		o.AutoSaveMaxWait = time.Second
	})
	store := NewMemoryStore("mem.yaml", currentDefaultsYAML(t), FormatYAML)
	_, err := m.Load(context.Background(), store)
	require.NoError(t, err)

	for _, port := range []int64{9601, 9602, 9603} {
		require.NoError(t, m.Set(context.Background(), "port", Int(port)))
	}
	require.Eventually(t, func() bool { return store.Writes() >= 1 }, 2*time.Second, 5*time.Millisecond)

	saved, err := Decode(store.Data(), FormatYAML)
	require.NoError(t, err)
	port, _ := saved.Get("port")
	assert.True(t, Int(9603).Equal(port))
}

func TestCloseFlushesPendingSave(t *testing.T) {
	m, _, _ := newTestManager(t, func(o *ManagerOptions) {
		o.AutoSaveDelay = time.Hour
		o.AutoSaveMaxWait = time.Hour
	})
	store := NewMemoryStore("mem.yaml", currentDefaultsYAML(t), FormatYAML)
	_, err := m.Load(context.Background(), store)
	require.NoError(t, err)

	require.NoError(t, m.Set(context.Background(), "seed", Int(42)))
	assert.Zero(t, store.Writes())

	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, 1, store.Writes())
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, 1, store.Writes())

	assert.Error(t, m.Set(context.Background(), "seed", Int(1)))
}

func TestReloadKeepsPreviousOnFailure(t *testing.T) {
	m, _, audit := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Reload(ctx)
	require.Error(t, err, "nothing loaded yet")

	store := NewMemoryStore("mem.yaml", []byte("version: 81\nport: 9601\n"), FormatYAML)
	_, err = m.Load(ctx, store)
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, []byte("version: 81\nport: 9602\n"), FormatYAML))
	_, err = m.Reload(ctx)
	require.NoError(t, err)
	port, _ := m.Get("port")
	assert.True(t, Int(9602).Equal(port))
	assert.Len(t, audit.Events(AuditConfigReloaded), 1)

	revision := m.Snapshot().Revision()
	require.NoError(t, store.Write(ctx, []byte("port: [broken\n"), FormatYAML))
	_, err = m.Reload(ctx)
	require.Error(t, err)
	assert.Equal(t, StateReady, m.State())
	assert.Equal(t, revision, m.Snapshot().Revision())
	port, _ = m.Get("port")
	assert.True(t, Int(9602).Equal(port))
}

func TestReloadKeepsPreviousWhenSourceVanishes(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 81\nport: 9601\n"), 0o600))
	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = m.Load(ctx, store)
	require.NoError(t, err)
	revision := m.Snapshot().Revision()

	require.NoError(t, os.Remove(path))
	_, err = m.Reload(ctx)
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	assert.Equal(t, StateReady, m.State())
	assert.Equal(t, revision, m.Snapshot().Revision())
	port, _ := m.Get("port")
	assert.True(t, Int(9601).Equal(port))
	assert.False(t, m.LastReport().Fresh)
}

func TestLoadKeepsSettingsWhenLegacyAddressIsMalformed(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	_, err := m.Load(context.Background(),
		yamlSource("version: 76\ntemperature: 0.9\nxtts_host: \"http://[::1\"\nxtts_port: 8020\n"))
	require.NoError(t, err)
	assert.Equal(t, StateReady, m.State())

	temp, _ := m.Get("temperature")
	assert.True(t, Float(0.9).Equal(temp))
	url, _ := m.Get("xtts_base_url")
	assert.True(t, String("http://localhost:8020").Equal(url))
	assert.Contains(t, m.LastReport().Quarantined, "xtts_host")
	assert.Contains(t, m.LastReport().Quarantined, "xtts_port")
}

func TestEnvironmentOverridesAreNotPersisted(t *testing.T) {
	t.Setenv("HUB_PORT", "9800")
	t.Setenv("HUB_TOP_P", "7")
	t.Setenv("HUB_DATA_DIR", "/srv/hub")

	m, logger, _ := newTestManager(t, func(o *ManagerOptions) {
		o.EnvOverrides = NewEnvOverrides(EnvPrefix)
	})
	store := NewMemoryStore("mem.yaml", currentDefaultsYAML(t), FormatYAML)
	_, err := m.Load(context.Background(), store)
	require.NoError(t, err)

	port, _ := m.Get("port")
	assert.True(t, Int(9800).Equal(port))
	topP, _ := m.Get("top_p")
	assert.True(t, Float(0.6).Equal(topP), "invalid overrides are ignored")
	assert.True(t, logger.HasMessage("WARN", "Environment override rejected"))
	assert.Contains(t, m.LastReport().Overrides, "HUB_PORT")

	modelsPath, _ := m.Get("models_path")
	assert.True(t, String("/srv/hub/models").Equal(modelsPath))

	stored := m.Stored()
	storedPort, _ := stored.Get("port")
	assert.True(t, Int(9600).Equal(storedPort))
	storedPath, _ := stored.Get("models_path")
	assert.True(t, String("${HUB_DATA_DIR:-personal_data}/models").Equal(storedPath))

	require.NoError(t, m.Set(context.Background(), "seed", Int(3)))
	saved, err := Decode(store.Data(), FormatYAML)
	require.NoError(t, err)
	savedPort, _ := saved.Get("port")
	assert.True(t, Int(9600).Equal(savedPort))
}

func TestStateTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	m, _, _ := newTestManager(t, func(o *ManagerOptions) {
		o.OnTransition = func(_, to State) {
			mu.Lock()
			seen = append(seen, to)
			mu.Unlock()
		}
	})
	_, err := m.Load(context.Background(), BytesSource{Data: currentDefaultsYAML(t), Format: FormatYAML})
	require.NoError(t, err)
	require.NoError(t, m.Set(context.Background(), "seed", Int(5)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateLoading, StateMigrating, StateValidating, StateReady, StateUpdating, StateReady}, seen)
}

func TestConcurrentSetsAndReads(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	_, err := m.Load(context.Background(), BytesSource{Data: currentDefaultsYAML(t), Format: FormatYAML})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, m.Set(context.Background(), "top_k", Int(int64(n+1))))
		}(i)
		go func() {
			defer wg.Done()
			snap := m.Snapshot()
			v, ok := snap.Get("top_k")
			assert.True(t, ok)
			_, isInt := v.AsInt()
			assert.True(t, isInt)
			_ = m.CheckGate(GateRemoteAccess)
		}()
	}
	wg.Wait()
	assert.Equal(t, StateReady, m.State())
}
