// errors.go: structured error definitions for the hub configuration core
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/agilira/go-errors"
)

// Error codes. The prefix of each code names its taxonomy class.
const (
	// Schema errors (3000-3099): programmer or config-author mistakes
	ErrCodeUnknownKey        = "SCHEMA_3001"
	ErrCodeDuplicateKey      = "SCHEMA_3002"
	ErrCodeInvalidDescriptor = "SCHEMA_3003"
	ErrCodeRegistrySealed    = "SCHEMA_3004"

	// Migration errors (3100-3199)
	ErrCodeNoMigrationPath     = "MIGRATION_3101"
	ErrCodeMigrationStepFailed = "MIGRATION_3102"

	// Validation errors (3200-3299)
	ErrCodeInvalidValue = "VALIDATION_3201"

	// Persistence errors (3300-3399)
	ErrCodeUnreadableSource   = "PERSIST_3301"
	ErrCodePersistenceFailed  = "PERSIST_3302"
	ErrCodeDegradedSaveRefuse = "PERSIST_3303"
	ErrCodeWatcher            = "PERSIST_3304"

	// Authorization errors (3400-3499)
	ErrCodeGateDenied = "AUTH_3401"
)

const (
	classSchema        = "SCHEMA_"
	classMigration     = "MIGRATION_"
	classValidation    = "VALIDATION_"
	classPersistence   = "PERSIST_"
	classAuthorization = "AUTH_"
)

// Schema error constructors

func NewUnknownKeyError(key string) *goerrors.Error {
	return goerrors.New(ErrCodeUnknownKey, "Unknown setting key: "+key).
		WithUserMessage("The setting is not part of the configuration schema").
		WithContext("key", key).
		WithSeverity("error")
}

func NewDuplicateKeyError(key string) *goerrors.Error {
	return goerrors.New(ErrCodeDuplicateKey, "Duplicate setting key: "+key).
		WithUserMessage("Each setting can be registered only once").
		WithContext("key", key).
		WithSeverity("error")
}

func NewInvalidDescriptorError(key, reason string) *goerrors.Error {
	return goerrors.New(ErrCodeInvalidDescriptor, "Invalid setting descriptor: "+reason).
		WithUserMessage("The setting definition is inconsistent").
		WithContext("key", key).
		WithContext("reason", reason).
		WithSeverity("error")
}

func NewRegistrySealedError(registry string) *goerrors.Error {
	return goerrors.New(ErrCodeRegistrySealed, "Registry is sealed: "+registry).
		WithUserMessage("Registrations are only accepted during startup").
		WithContext("registry", registry).
		WithSeverity("error")
}

// Migration error constructors

func NewNoMigrationPathError(from, to, missing int) *goerrors.Error {
	msg := fmt.Sprintf("No migration path from version %d to %d", from, to)
	if missing >= 0 {
		msg += fmt.Sprintf(" (no step registered from version %d)", missing)
	}
	return goerrors.New(ErrCodeNoMigrationPath, msg).
		WithUserMessage("The configuration document cannot be upgraded to the current schema").
		WithContext("from_version", from).
		WithContext("to_version", to).
		WithContext("missing_step", missing).
		WithSeverity("critical")
}

func NewMigrationStepError(from, to int, cause error) *goerrors.Error {
	return goerrors.Wrap(cause, ErrCodeMigrationStepFailed, fmt.Sprintf("Migration step %d->%d failed", from, to)).
		WithUserMessage("A configuration migration step failed").
		WithContext("from_version", from).
		WithContext("to_version", to).
		WithSeverity("critical")
}

// Validation error constructors

// NewInvalidValueError reports a rejected value. Callers pass an already
// redacted rendering for sensitive settings.
func NewInvalidValueError(key, value, reason string) *goerrors.Error {
	return goerrors.New(ErrCodeInvalidValue, fmt.Sprintf("Invalid value for %s: %s", key, reason)).
		WithUserMessage("The setting value was rejected").
		WithContext("key", key).
		WithContext("value", value).
		WithContext("reason", reason).
		WithSeverity("warning")
}

// Persistence error constructors

func NewUnreadableSourceError(source string, cause error) *goerrors.Error {
	return goerrors.Wrap(cause, ErrCodeUnreadableSource, "Configuration source is unreadable").
		WithUserMessage("The configuration could not be read; defaults are in effect").
		WithContext("source", source).
		WithSeverity("error")
}

func NewPersistenceError(target string, cause error) *goerrors.Error {
	return goerrors.Wrap(cause, ErrCodePersistenceFailed, "Failed to persist configuration").
		WithUserMessage("The configuration could not be saved; in-memory settings remain active").
		WithContext("target", target).
		WithSeverity("error").
		AsRetryable()
}

func NewDegradedSaveError(target string) *goerrors.Error {
	return goerrors.New(ErrCodeDegradedSaveRefuse, "Refusing to persist a degraded configuration").
		WithUserMessage("Defaults-only configuration is not written over the original source").
		WithContext("target", target).
		WithSeverity("warning")
}

// NewWatcherError reports a hot-reload watcher that cannot start or stop.
func NewWatcherError(message string, cause error) *goerrors.Error {
	if cause == nil {
		return goerrors.New(ErrCodeWatcher, message).WithSeverity("warning")
	}
	return goerrors.Wrap(cause, ErrCodeWatcher, message).WithSeverity("error")
}

// Authorization error constructors

func NewAuthorizationError(gate, action string) *goerrors.Error {
	return goerrors.New(ErrCodeGateDenied, fmt.Sprintf("Security gate %s denies %s", gate, action)).
		WithUserMessage("The operation is disabled by the hub security settings").
		WithContext("gate", gate).
		WithContext("action", action).
		WithSeverity("warning")
}

// Classification helpers

// ErrorCode returns the go-errors code carried by err, or "".
func ErrorCode(err error) string {
	var coded *goerrors.Error
	if errors.As(err, &coded) {
		return string(coded.Code)
	}
	return ""
}

func hasClass(err error, prefix string) bool {
	return strings.HasPrefix(ErrorCode(err), prefix)
}

// IsSchemaError reports unknown keys, duplicate registrations and bad descriptors.
func IsSchemaError(err error) bool { return hasClass(err, classSchema) }

// IsMigrationError reports missing or failing migration steps.
func IsMigrationError(err error) bool { return hasClass(err, classMigration) }

// IsValidationError reports rejected setting values.
func IsValidationError(err error) bool { return hasClass(err, classValidation) }

// IsPersistenceError reports source read and sink write failures.
func IsPersistenceError(err error) bool { return hasClass(err, classPersistence) }

// IsAuthorizationError reports security gate denials.
func IsAuthorizationError(err error) bool { return hasClass(err, classAuthorization) }

// ErrorContext returns a context value attached to a coded error.
func ErrorContext(err error, key string) (any, bool) {
	var coded *goerrors.Error
	if !errors.As(err, &coded) || coded.Context == nil {
		return nil, false
	}
	v, ok := coded.Context[key]
	return v, ok
}
