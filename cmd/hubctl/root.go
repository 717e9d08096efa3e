// root.go: hubctl global flags and manager wiring
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	hubconfig "github.com/agilira/go-hubconfig"
)

// errDegraded makes validate exit non-zero without printing twice.
var errDegraded = errors.New("configuration is degraded")

type globalOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
	auditFile  string
}

// app is the per-invocation wiring shared by subcommands.
type app struct {
	opts    *globalOptions
	logger  hubconfig.Logger
	store   *hubconfig.FileStore
	manager *hubconfig.Manager
	audit   hubconfig.Auditor
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "hubctl",
		Short:         "Inspect, migrate and edit hub configuration files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/config.yaml", "configuration file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "emit logs as JSON")
	cmd.PersistentFlags().StringVar(&opts.auditFile, "audit-file", "", "append security audit events to this file")

	cmd.AddCommand(
		newValidateCommand(opts),
		newMigrateCommand(opts),
		newGetCommand(opts),
		newSetCommand(opts),
		newServicesCommand(opts),
		newGatesCommand(opts),
		newShowCommand(opts),
		newWatchCommand(opts),
		newHealthCommand(opts),
	)
	return cmd
}

// openApp builds the manager for cmd. Auto-save is synchronous so that a
// command's changes are on disk when it returns.
func openApp(cmd *cobra.Command, opts *globalOptions, configure func(*hubconfig.ManagerOptions)) (*app, error) {
	logger := hubconfig.NewCharmLoggerWithOptions(hubconfig.CharmLoggerOptions{
		Output: cmd.ErrOrStderr(),
		Level:  opts.logLevel,
		JSON:   opts.logJSON,
	})

	store, err := hubconfig.NewFileStore(opts.configPath)
	if err != nil {
		return nil, err
	}

	var audit hubconfig.Auditor = hubconfig.NoOpAuditor{}
	if opts.auditFile != "" {
		a, err := hubconfig.NewArgusAuditor(hubconfig.DefaultAuditConfig(opts.auditFile))
		if err != nil {
			return nil, err
		}
		audit = a
	}

	mo := hubconfig.DefaultManagerOptions()
	mo.Logger = logger
	mo.Audit = audit
	mo.AutoSaveDelay = 0
	mo.EnvOverrides = hubconfig.NewEnvOverrides(hubconfig.EnvPrefix)
	if configure != nil {
		configure(&mo)
	}
	manager, err := hubconfig.NewManager(mo)
	if err != nil {
		_ = audit.Close()
		return nil, err
	}
	return &app{opts: opts, logger: logger, store: store, manager: manager, audit: audit}, nil
}

// load reads the configuration. A degraded load is returned as a snapshot
// plus error so callers can still report on it.
func (a *app) load(ctx context.Context) (*hubconfig.Snapshot, error) {
	return a.manager.Load(ctx, a.store)
}

func (a *app) close(ctx context.Context) {
	if err := a.manager.Close(ctx); err != nil {
		a.logger.Error("Failed to flush configuration", "error", err)
	}
	if err := a.audit.Close(); err != nil {
		a.logger.Warn("Failed to close audit log", "error", err)
	}
}
