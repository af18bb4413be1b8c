// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes poll results and cycle outcomes to Prometheus
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

const namespace = "heatpump"

// Collector owns the metric registry and the latest poll result
type Collector struct {
	registry *prometheus.Registry

	cycles      *prometheus.CounterVec
	duration    prometheus.Histogram
	values      *prometheus.GaugeVec
	firmware    *prometheus.GaugeVec
	lastSuccess prometheus.Gauge

	mu        sync.RWMutex
	latest    lwz.Result
	latestAt  time.Time
	lastError error
}

// New creates a collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by result (ok or error kind)",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of a complete poll cycle",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "value",
			Help:      "Latest numeric value reported by the controller",
		}, []string{"field"}),
		firmware: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "firmware_info",
			Help:      "Firmware version of the controller",
		}, []string{"version"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful poll cycle",
		}),
	}
	c.registry.MustRegister(c.cycles, c.duration, c.values, c.firmware, c.lastSuccess)
	return c
}

// Registry returns the registry served at /metrics
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SetFirmware records the controller firmware version
func (c *Collector) SetFirmware(version string) {
	c.firmware.Reset()
	c.firmware.WithLabelValues(version).Set(1)
}

// ObserveCycle records the outcome of one poll cycle
func (c *Collector) ObserveCycle(d time.Duration, err error) {
	c.cycles.WithLabelValues(lwz.Kind(err)).Inc()
	c.duration.Observe(d.Seconds())

	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()
}

// Update publishes the numeric fields of result and keeps it for /values
func (c *Collector) Update(result lwz.Result) {
	for name := range result {
		if f, ok := result.Float(name); ok {
			c.values.WithLabelValues(name).Set(f)
		}
	}
	now := time.Now()
	c.lastSuccess.Set(float64(now.Unix()))

	c.mu.Lock()
	c.latest = result
	c.latestAt = now
	c.mu.Unlock()
}

// Latest returns the last successful result and when it was stored
func (c *Collector) Latest() (lwz.Result, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.latestAt
}

// LastError returns the error of the most recent cycle, nil after a success
func (c *Collector) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}
