// commands.go: hubctl subcommands
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	hubconfig "github.com/agilira/go-hubconfig"
)

func newValidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report every repaired or quarantined key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			_, loadErr := a.load(cmd.Context())
			printReport(cmd.OutOrStdout(), a.manager.LastReport())
			if loadErr != nil {
				return fmt.Errorf("%w: %v", errDegraded, loadErr)
			}
			return nil
		},
	}
}

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the configuration to the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if _, err := a.load(cmd.Context()); err != nil {
				return err
			}
			report := a.manager.LastReport()
			out := cmd.OutOrStdout()
			for _, rec := range report.Migrations {
				fmt.Fprintf(out, "%d -> %d  %s\n", rec.FromVersion, rec.ToVersion, rec.Description)
			}
			fmt.Fprintf(out, "version %d -> %d (%d steps)\n", report.FromVersion, report.Version, len(report.Migrations))
			if !write {
				return nil
			}
			if err := a.manager.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "written to %s\n", a.store.Path())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the migrated document back")
	return cmd
}

func newGetCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the effective value of a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if _, err := a.load(cmd.Context()); err != nil {
				a.logger.Warn("Configuration degraded, showing defaults", "error", err)
			}
			d, err := a.manager.Schema().Describe(args[0])
			if err != nil {
				return err
			}
			v, err := a.manager.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), d.Render(v))
			return nil
		},
	}
}

func newSetCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change a setting and save the configuration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if _, err := a.load(cmd.Context()); err != nil {
				return fmt.Errorf("refusing to edit a degraded configuration: %w", err)
			}
			d, err := a.manager.Schema().Describe(args[0])
			if err != nil {
				return err
			}
			if err := a.manager.Set(cmd.Context(), d.Key, hubconfig.ParseRaw(d.Type, args[1])); err != nil {
				return err
			}
			if err := a.manager.LastPersistenceError(); err != nil {
				return err
			}
			v, _ := a.manager.Get(d.Key)
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", d.Key, d.Render(v))
			return nil
		},
	}
}

func newServicesCommand(opts *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "services",
		Short: "List backend services resolved from the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if _, err := a.load(cmd.Context()); err != nil {
				a.logger.Warn("Configuration degraded, showing defaults", "error", err)
			}
			descriptors := a.manager.Services().Descriptors()

			switch strings.ToLower(output) {
			case "table", "":
			case "protojson":
				set := make(hubconfig.ServiceSet, len(descriptors))
				for _, d := range descriptors {
					set[d.Name] = d
				}
				s, err := hubconfig.ServicesStruct(set, a.manager.Schema())
				if err != nil {
					return err
				}
				data, err := hubconfig.MarshalProtoJSON(s)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			default:
				return fmt.Errorf("unknown output format %q", output)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVICE\tENABLED\tAVAILABLE\tENDPOINT")
			for _, d := range descriptors {
				endpoint := d.BaseURL
				if d.URLLess {
					endpoint = "(local)"
				}
				fmt.Fprintf(tw, "%s\t%t\t%t\t%s\n", d.Name, d.Enabled, d.Available(), endpoint)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or protojson")
	return cmd
}

func newGatesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gates",
		Short: "Show the security gates as the hub would read them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if _, err := a.load(cmd.Context()); err != nil {
				a.logger.Warn("Configuration degraded, gates are restrictive", "error", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GATE\tKIND\tKEY\tON")
			for _, g := range hubconfig.Gates() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", g.Name, g.Kind, g.Key, a.manager.CheckGate(g.Name))
			}
			return tw.Flush()
		},
	}
}

func newShowCommand(opts *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if _, err := a.load(cmd.Context()); err != nil {
				a.logger.Warn("Configuration degraded, showing defaults", "error", err)
			}
			snap := a.manager.Snapshot()
			schema := a.manager.Schema()

			var data []byte
			switch strings.ToLower(output) {
			case "yaml", "":
				data, err = hubconfig.Encode(hubconfig.Redact(snap.Document(), schema), schema, hubconfig.FormatYAML)
			case "json":
				data, err = hubconfig.Encode(hubconfig.Redact(snap.Document(), schema), schema, hubconfig.FormatJSON)
			case "protojson":
				s, serr := hubconfig.SnapshotStruct(snap, schema)
				if serr != nil {
					return serr
				}
				data, err = hubconfig.MarshalProtoJSON(s)
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml, json or protojson")
	return cmd
}

func newWatchCommand(opts *globalOptions) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload the configuration whenever the file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if _, err := a.load(ctx); err != nil {
				a.logger.Warn("Configuration degraded, waiting for a valid file", "error", err)
			}
			out := cmd.OutOrStdout()
			a.manager.OnChange(func(s *hubconfig.Snapshot) {
				fmt.Fprintf(out, "%s revision=%s state=%s\n",
					s.PublishedAt().Format(time.RFC3339), s.Revision(), s.State())
			})

			wo := hubconfig.DefaultWatcherOptions()
			wo.PollInterval = interval
			watcher := hubconfig.NewConfigWatcher(a.manager, a.store, wo, a.logger)
			if err := watcher.Start(); err != nil {
				return err
			}
			<-ctx.Done()
			return watcher.Stop()
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

func newHealthCommand(opts *globalOptions) *cobra.Command {
	var listen, metricsListen string
	var watch bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Serve gRPC health for the configuration and its backend services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			metrics, err := hubconfig.NewPrometheusMetrics(reg)
			if err != nil {
				return err
			}
			a, err := openApp(cmd, opts, func(mo *hubconfig.ManagerOptions) { mo.Metrics = metrics })
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if _, err := a.load(ctx); err != nil {
				a.logger.Warn("Configuration degraded, reporting NOT_SERVING", "error", err)
			}
			publisher := hubconfig.NewHealthPublisher(a.manager, a.logger)

			if watch {
				watcher := hubconfig.NewConfigWatcher(a.manager, a.store, hubconfig.DefaultWatcherOptions(), a.logger)
				if err := watcher.Start(); err != nil {
					return err
				}
				defer func() { _ = watcher.Stop() }()
			}

			if metricsListen != "" {
				srv := &http.Server{
					Addr:              metricsListen,
					Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				hubconfig.SafeGo(a.logger, func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("Metrics endpoint failed", "error", err)
					}
				})
				defer func() { _ = srv.Close() }()
			}

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			if !a.manager.CheckGate(hubconfig.GateRemoteAccess) {
				a.logger.Info("Remote access is off, only loopback peers are served")
			}
			return publisher.Serve(ctx, lis)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:9601", "gRPC health listen address")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Prometheus metrics listen address")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the configuration when the file changes")
	return cmd
}

func printReport(w io.Writer, r hubconfig.LoadReport) {
	fmt.Fprintf(w, "source:  %s\n", r.Source)
	if r.Fresh {
		fmt.Fprintln(w, "status:  not found, defaults in effect")
	} else if r.Degraded {
		fmt.Fprintf(w, "status:  degraded (%v)\n", r.Err)
	} else {
		fmt.Fprintln(w, "status:  ok")
	}
	fmt.Fprintf(w, "version: %d -> %d\n", r.FromVersion, r.Version)
	for _, warning := range r.Warnings {
		if warning.Reason == hubconfig.ReasonUnknownKey {
			continue
		}
		fmt.Fprintf(w, "reset    %-32s %s\n", warning.Key, warning.Reason)
	}
	for _, key := range r.Quarantined {
		fmt.Fprintf(w, "kept     %-32s not in schema\n", key)
	}
	for _, variable := range r.Overrides {
		fmt.Fprintf(w, "env      %s\n", variable)
	}
}
