// panic_recovery.go: panic recovery for callbacks supplied by library users
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"runtime"
)

// RecoveryHandler receives a recovered panic and the goroutine stack.
type RecoveryHandler func(recovered any, stack []byte)

// withStackRecover returns a deferred function that logs a recovered panic
// with its stack trace. Subscriber callbacks, descriptor factories and
// migration transforms all run under it.
//
//	defer withStackRecover(logger)()
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered",
				"panic", r,
				"stack", string(captureStack()))
		}
	}
}

// withCustomRecoveryHandler is withStackRecover with a caller-supplied handler.
func withCustomRecoveryHandler(handler RecoveryHandler) func() {
	return func() {
		if r := recover(); r != nil {
			handler(r, captureStack())
		}
	}
}

// SafeGo runs fn in a new goroutine, logging instead of crashing on panic.
func SafeGo(logger Logger, fn func()) {
	go func() {
		defer withStackRecover(logger)()
		fn()
	}()
}

func captureStack() []byte {
	buf := make([]byte, 64<<10)
	n := runtime.Stack(buf, false)
	return buf[:n]
}
