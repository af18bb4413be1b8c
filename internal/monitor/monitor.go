// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package monitor runs the periodic poll loop and feeds results to sinks
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/heatpumpmon/internal/copier"
	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

// Poller runs one poll cycle; *lwz.Session implements it
type Poller interface {
	Query() (lwz.Result, error)
}

// Sink stores a successful poll result
type Sink interface {
	Store(at time.Time, result lwz.Result) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(at time.Time, result lwz.Result) error

// Store calls f
func (f SinkFunc) Store(at time.Time, result lwz.Result) error {
	return f(at, result)
}

// Checker receives every cycle outcome; *threshold.Monitor implements it
type Checker interface {
	Check(result lwz.Result)
	GotQueryError()
}

// Observer is told about every cycle; *metrics.Collector implements it
type Observer interface {
	ObserveCycle(d time.Duration, err error)
}

// Starter launches the external copy command; *copier.Copier implements it
type Starter interface {
	Start(ctx context.Context) error
}

// Options controls loop timing
type Options struct {
	// Interval is the target time between the starts of successful cycles
	Interval time.Duration
	// ErrorBackoff is the target time between the start of a failed cycle and the next one
	ErrorBackoff time.Duration
	// CopyInterval starts the copy command every N successful cycles
	CopyInterval int
	// SummaryEvery logs statistics every N cycles, 0 disables
	SummaryEvery int
}

type namedSink struct {
	name string
	sink Sink
}

// Monitor is the daemon poll loop
type Monitor struct {
	poller    Poller
	opts      Options
	log       zerolog.Logger
	sinks     []namedSink
	checker   Checker
	observers []Observer
	copier    Starter
	stats     *lwz.Statistics
	successes int

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) bool
}

// New creates a monitor for poller
func New(poller Poller, opts Options, log zerolog.Logger) *Monitor {
	return &Monitor{
		poller: poller,
		opts:   opts,
		log:    log,
		stats:  lwz.NewStatistics(),
		now:    time.Now,
		wait:   sleepContext,
	}
}

// AddSink registers a sink. Sinks run in registration order.
func (m *Monitor) AddSink(name string, s Sink) {
	m.sinks = append(m.sinks, namedSink{name: name, sink: s})
}

// SetChecker registers the threshold checker
func (m *Monitor) SetChecker(c Checker) {
	m.checker = c
}

// AddObserver registers a cycle observer
func (m *Monitor) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// SetCopier registers the copy command runner
func (m *Monitor) SetCopier(s Starter) {
	m.copier = s
}

// Statistics returns the cycle statistics
func (m *Monitor) Statistics() *lwz.Statistics {
	return m.stats
}

// Run polls until ctx is cancelled. Cancellation is only observed between
// cycles so an exchange with the controller is never cut short.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info().
		Dur("interval", m.opts.Interval).
		Dur("error_backoff", m.opts.ErrorBackoff).
		Msg("Up and running")

	for {
		if ctx.Err() != nil {
			return nil
		}
		wait := m.cycle(ctx)
		if wait > 0 && !m.wait(ctx, wait) {
			return nil
		}
	}
}

// cycle runs one poll and returns how long to wait before the next one
func (m *Monitor) cycle(ctx context.Context) time.Duration {
	start := m.now()
	result, err := m.poller.Query()
	elapsed := m.now().Sub(start)

	m.stats.Update(elapsed, err)
	for _, o := range m.observers {
		o.ObserveCycle(elapsed, err)
	}
	defer m.summary()

	if err != nil {
		m.log.Error().Err(err).Str("kind", lwz.Kind(err)).Msg("Poll cycle failed")
		if m.checker != nil {
			m.checker.GotQueryError()
		}
		return m.opts.ErrorBackoff - elapsed
	}

	for _, s := range m.sinks {
		if err := s.sink.Store(start, result); err != nil {
			m.log.Error().Err(err).Str("sink", s.name).Msg("Failed to store result")
		}
	}

	if m.copier != nil && m.opts.CopyInterval > 0 && m.successes%m.opts.CopyInterval == 0 {
		if err := m.copier.Start(ctx); err != nil {
			if errors.Is(err, copier.ErrBusy) {
				m.log.Error().Msg("External copy program still running, cannot start it again")
			} else {
				m.log.Error().Err(err).Msg("Failed to start copy command")
			}
		}
	}
	m.successes++

	if m.checker != nil {
		m.checker.Check(result)
	}

	wait := m.opts.Interval - m.now().Sub(start)
	if wait < 0 {
		m.log.Warn().
			Dur("interval", m.opts.Interval).
			Dur("behind", -wait).
			Msg("System is too slow for the poll interval")
	}
	return wait
}

func (m *Monitor) summary() {
	if m.opts.SummaryEvery <= 0 || m.stats.TotalCycles%uint64(m.opts.SummaryEvery) != 0 {
		return
	}
	m.stats.CalculateRates()
	m.log.Info().
		Uint64("cycles", m.stats.TotalCycles).
		Uint64("failed", m.stats.Failed).
		Float64("success_percent", m.stats.SuccessPercent()).
		Float64("errors_per_min", m.stats.ErrorRate).
		Dur("last_duration", m.stats.LastDuration).
		Msg("Cycle statistics")
}

// sleepContext waits for d and reports false if ctx ended first
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
