// Package hubconfig is the versioned configuration core of an LLM hub
// server. It owns the persistent settings document (listener, identity,
// generation defaults, optional backend services and security gates),
// upgrades documents written by any older schema version, repairs invalid
// values, and exposes the result to the rest of the server.
//
// Key Features:
//   - Typed, constrained setting descriptors in a sealed schema registry
//   - Step-wise migrations from any historical version to the current one
//   - Per-key repair on load: bad values reset to defaults, unknown keys kept verbatim
//   - Security gates that fail restrictive when the configuration is missing or degraded
//   - A service registry projecting the document into uniform backend descriptors
//   - Hot reload through argus, coalesced auto-save, gRPC health and Prometheus metrics
//
// Basic Usage:
//
//	store, err := hubconfig.NewFileStore("configs/config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	manager, err := hubconfig.NewManager(hubconfig.DefaultManagerOptions())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer manager.Close(ctx)
//
//	// A broken file still yields a usable, defaults-only snapshot.
//	if _, err := manager.Load(ctx, store); err != nil {
//		log.Printf("running degraded: %v", err)
//	}
//
//	if err := manager.Authorize(hubconfig.GateCodeExecution); err != nil {
//		return err
//	}
//	if url, ok := manager.Services().Endpoint(hubconfig.ServiceOllama); ok {
//		client := newOllamaClient(url)
//	}
//
//	err = manager.Set(ctx, "temperature", hubconfig.Float(0.7))
//
// Security:
// Gates read their restrictive values whenever the document is unloaded,
// degraded or malformed. Sensitive settings are redacted in logs, audit
// entries and exports. Saves take an advisory file lock and replace the
// file atomically with 0600 permissions.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package hubconfig
