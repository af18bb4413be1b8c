// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package threshold watches counters in poll results and consecutive query
// failures, and reports changes to a Reporter.
package threshold

import (
	"github.com/rs/zerolog"

	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

// Reporter receives threshold events
type Reporter interface {
	QueryErrorThresholdExceeded() error
	CounterDecreased(name string, reference, actual interface{}) error
	CounterIncreased(name string, reference, actual interface{}) error
}

type reference struct {
	value interface{}
	f     float64
}

// Monitor tracks counter references and the query error streak.
// It is not safe for concurrent use.
type Monitor struct {
	counters       []string
	errorThreshold int
	reporter       Reporter
	log            zerolog.Logger

	refs       map[string]reference
	errorCount int
	baselined  bool
}

// New creates a Monitor. An errorThreshold of 0 disables query error reports.
func New(counters []string, errorThreshold int, reporter Reporter, log zerolog.Logger) *Monitor {
	return &Monitor{
		counters:       counters,
		errorThreshold: errorThreshold,
		reporter:       reporter,
		log:            log,
		refs:           make(map[string]reference),
	}
}

// Check compares the counters in result against their references.
// The first call only records the baseline. Any change is reported and
// becomes the new reference.
func (m *Monitor) Check(result lwz.Result) {
	m.errorCount = 0

	if !m.baselined {
		m.baseline(result)
		m.baselined = true
		return
	}

	for _, name := range m.counters {
		actual, ok := result.Float(name)
		if !ok {
			continue
		}
		ref, known := m.refs[name]
		cur := reference{value: result[name], f: actual}
		if !known {
			m.refs[name] = cur
			continue
		}

		var err error
		switch {
		case actual < ref.f:
			// controller reset or a bogus reading
			err = m.reporter.CounterDecreased(name, ref.value, cur.value)
		case actual > ref.f:
			err = m.reporter.CounterIncreased(name, ref.value, cur.value)
		default:
			continue
		}
		if err != nil {
			m.log.Error().Err(err).Str("counter", name).Msg("Failed to send counter report")
		}
		m.refs[name] = cur
	}
}

// GotQueryError counts a failed poll cycle. The report is sent once when the
// streak reaches the threshold; a successful Check starts a new streak.
func (m *Monitor) GotQueryError() {
	m.errorCount++
	if m.errorThreshold > 0 && m.errorCount == m.errorThreshold {
		if err := m.reporter.QueryErrorThresholdExceeded(); err != nil {
			m.log.Error().Err(err).Msg("Failed to send query error report")
		}
	}
}

// ErrorCount returns the current query error streak
func (m *Monitor) ErrorCount() int {
	return m.errorCount
}

func (m *Monitor) baseline(result lwz.Result) {
	for _, name := range m.counters {
		if f, ok := result.Float(name); ok {
			m.refs[name] = reference{value: result[name], f: f}
		}
	}
}
