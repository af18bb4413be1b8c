// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lwz

import (
	"fmt"
	"sort"
	"time"
)

// Statistics tracks poll cycle outcomes and timing
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalCycles uint64
	Successful  uint64
	Failed      uint64
	ByKind      map[string]uint64

	LastDuration time.Duration
	LastError    error

	// Rates (calculated)
	CycleRate float64 // cycles/min
	ErrorRate float64 // errors/min
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		ByKind:         make(map[string]uint64),
	}
}

// Update records the outcome of one poll cycle
func (s *Statistics) Update(duration time.Duration, err error) {
	s.TotalCycles++
	s.LastDuration = duration
	s.LastUpdateTime = time.Now()

	if err != nil {
		s.Failed++
		s.ByKind[Kind(err)]++
		s.LastError = err
		return
	}
	s.Successful++
}

// CalculateRates calculates cycle and error rates per minute
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Minutes()
	if elapsed > 0 {
		s.CycleRate = float64(s.TotalCycles) / elapsed
		s.ErrorRate = float64(s.Failed) / elapsed
	}
}

// SuccessPercent returns the share of successful cycles
func (s *Statistics) SuccessPercent() float64 {
	if s.TotalCycles == 0 {
		return 0
	}
	return float64(s.Successful) * 100.0 / float64(s.TotalCycles)
}

// Kinds returns the recorded error kinds in ascending order
func (s *Statistics) Kinds() []string {
	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Poll Cycles:     %8d\n", s.TotalCycles)
	result += fmt.Sprintf("Successful:      %8d (%.1f%%)\n", s.Successful, s.SuccessPercent())
	if s.Failed > 0 {
		result += fmt.Sprintf("Failed:          %8d\n", s.Failed)
		for _, k := range s.Kinds() {
			result += fmt.Sprintf("  %-18s %5d\n", k+":", s.ByKind[k])
		}
	}
	result += fmt.Sprintf("Last Duration:   %8s\n", s.LastDuration.Round(time.Millisecond))
	result += fmt.Sprintf("Cycle Rate:      %8.2f cycles/min\n", s.CycleRate)
	result += fmt.Sprintf("Error Rate:      %8.2f errors/min\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalCycles = 0
	s.Successful = 0
	s.Failed = 0
	s.ByKind = make(map[string]uint64)
	s.LastDuration = 0
	s.LastError = nil
	s.CycleRate = 0
	s.ErrorRate = 0
}
