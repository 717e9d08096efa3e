// metrics.go: metrics collection for configuration lifecycle events
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names emitted by the Manager.
const (
	MetricLoads           = "hubconfig_loads_total"
	MetricUpdates         = "hubconfig_updates_total"
	MetricSaves           = "hubconfig_saves_total"
	MetricGateDenials     = "hubconfig_gate_denials_total"
	MetricMigrationSteps  = "hubconfig_migration_steps_total"
	MetricResetKeys       = "hubconfig_reset_keys"
	MetricServicesEnabled = "hubconfig_services_enabled"
	MetricSaveDuration    = "hubconfig_save_duration_seconds"
)

// MetricsCollector receives counters, gauges and histogram observations.
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string, value int64)
	SetGauge(name string, labels map[string]string, value float64)
	RecordHistogram(name string, labels map[string]string, value float64)
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) IncrementCounter(string, map[string]string, int64) {}
func (NoOpMetrics) SetGauge(string, map[string]string, float64)       {}
func (NoOpMetrics) RecordHistogram(string, map[string]string, float64) {}

// PrometheusMetrics exports the Manager metrics to a Prometheus registerer.
// Names it does not know are ignored.
type PrometheusMetrics struct {
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics registers the metric families on reg; nil means the
// default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		counters: map[string]*prometheus.CounterVec{
			MetricLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: MetricLoads, Help: "Configuration loads by outcome.",
			}, []string{"result"}),
			MetricUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: MetricUpdates, Help: "Setting updates by outcome.",
			}, []string{"result"}),
			MetricSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: MetricSaves, Help: "Configuration saves by outcome.",
			}, []string{"result"}),
			MetricGateDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: MetricGateDenials, Help: "Privileged actions denied by a security gate.",
			}, []string{"gate"}),
			MetricMigrationSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: MetricMigrationSteps, Help: "Migration steps applied.",
			}, []string{}),
		},
		gauges: map[string]*prometheus.GaugeVec{
			MetricResetKeys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: MetricResetKeys, Help: "Keys reset to their defaults by the last load.",
			}, []string{}),
			MetricServicesEnabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: MetricServicesEnabled, Help: "Backend services currently available.",
			}, []string{}),
		},
		histograms: map[string]*prometheus.HistogramVec{
			MetricSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name: MetricSaveDuration, Help: "Time spent persisting the configuration.",
				Buckets: prometheus.DefBuckets,
			}, []string{"result"}),
		},
	}

	for name, c := range m.counters {
		existing, err := register(reg, c)
		if err != nil {
			return nil, err
		}
		m.counters[name] = existing.(*prometheus.CounterVec)
	}
	for name, g := range m.gauges {
		existing, err := register(reg, g)
		if err != nil {
			return nil, err
		}
		m.gauges[name] = existing.(*prometheus.GaugeVec)
	}
	for name, h := range m.histograms {
		existing, err := register(reg, h)
		if err != nil {
			return nil, err
		}
		m.histograms[name] = existing.(*prometheus.HistogramVec)
	}
	return m, nil
}

// register adds c to reg, returning the collector already registered under
// the same descriptor if there is one.
func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector, nil
		}
		return nil, fmt.Errorf("register config metric: %w", err)
	}
	return c, nil
}

// IncrementCounter implements MetricsCollector.
func (m *PrometheusMetrics) IncrementCounter(name string, labels map[string]string, value int64) {
	if c, ok := m.counters[name]; ok {
		if counter, err := c.GetMetricWith(labels); err == nil {
			counter.Add(float64(value))
		}
	}
}

// SetGauge implements MetricsCollector.
func (m *PrometheusMetrics) SetGauge(name string, labels map[string]string, value float64) {
	if g, ok := m.gauges[name]; ok {
		if gauge, err := g.GetMetricWith(labels); err == nil {
			gauge.Set(value)
		}
	}
}

// RecordHistogram implements MetricsCollector.
func (m *PrometheusMetrics) RecordHistogram(name string, labels map[string]string, value float64) {
	if h, ok := m.histograms[name]; ok {
		if obs, err := h.GetMetricWith(labels); err == nil {
			obs.Observe(value)
		}
	}
}

// Counter exposes a counter family for tests and custom exporters.
func (m *PrometheusMetrics) Counter(name string) (*prometheus.CounterVec, bool) {
	c, ok := m.counters[name]
	return c, ok
}

// Gauge exposes a gauge family.
func (m *PrometheusMetrics) Gauge(name string) (*prometheus.GaugeVec, bool) {
	g, ok := m.gauges[name]
	return g, ok
}
