// panic_recovery_test.go: panic recovery tests with logging and custom handlers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// TestWithStackRecover checks that a panic is logged with its stack
func TestWithStackRecover(t *testing.T) {
	logger := NewTestLogger()

	func() {
		defer withStackRecover(logger)()
		panic("test panic message")
	}()

	msg, ok := logger.Find("ERROR", "Panic recovered")
	if !ok {
		t.Fatalf("Expected a recovered panic to be logged, got %v", logger.Messages())
	}
	if v, _ := msg.Arg("panic"); v != "test panic message" {
		t.Errorf("Expected panic value to be logged, got %v", v)
	}
	stack, _ := msg.Arg("stack")
	if s, ok := stack.(string); !ok || !strings.Contains(s, "goroutine") {
		t.Errorf("Expected a stack trace, got %v", stack)
	}
}

// TestWithStackRecoverNoPanic checks that nothing is logged without a panic
func TestWithStackRecoverNoPanic(t *testing.T) {
	logger := NewTestLogger()

	func() {
		defer withStackRecover(logger)()
	}()

	if n := len(logger.Messages()); n != 0 {
		t.Errorf("Expected no log messages, got %d", n)
	}
}

// TestWithCustomRecoveryHandler checks that the handler receives the value and stack
func TestWithCustomRecoveryHandler(t *testing.T) {
	var recovered any
	var stack []byte

	func() {
		defer withCustomRecoveryHandler(func(r any, s []byte) {
			recovered = r
			stack = s
		})()
		panic(42)
	}()

	if recovered != 42 {
		t.Errorf("Expected 42, got %v", recovered)
	}
	if len(stack) == 0 {
		t.Error("Expected a non-empty stack")
	}
}

// TestSafeGo checks that a panicking goroutine does not crash the process
func TestSafeGo(t *testing.T) {
	logger := NewTestLogger()
	var wg sync.WaitGroup
	wg.Add(1)

	SafeGo(logger, func() {
		defer wg.Done()
		panic("background failure")
	})
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for !logger.HasMessage("ERROR", "Panic recovered") {
		if time.Now().After(deadline) {
			t.Fatal("Expected the panic to be logged")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
