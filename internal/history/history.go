// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package history stores poll results in an append-only CBOR file
package history

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

// ErrCorrupt is returned with the records read so far when the file ends in
// an incomplete or undecodable record
var ErrCorrupt = errors.New("history file corrupt")

// Record is one successful poll cycle
type Record struct {
	Time   time.Time
	Values lwz.Result
}

// Store is a history file. Appends from multiple goroutines are serialized.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a store for path. The file is created on first Append.
func Open(path string) *Store {
	return &Store{path: path}
}

// Path returns the history file location
func (s *Store) Path() string {
	return s.path
}

// Append writes one record to the end of the file
func (s *Store) Append(r Record) error {
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append history: %w", err)
	}
	return f.Close()
}

// ReadAll returns every record in file order. A missing file holds no records.
func (s *Store) ReadAll() ([]Record, error) {
	var out []Record
	err := s.scan(func(r Record) {
		out = append(out, r)
	})
	return out, err
}

// Tail returns the last n records in file order
func (s *Store) Tail(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]Record, 0, n)
	start := 0
	err := s.scan(func(r Record) {
		if len(ring) < n {
			ring = append(ring, r)
			return
		}
		ring[start] = r
		start = (start + 1) % n
	})
	out := append(ring[start:len(ring):len(ring)], ring[:start]...)
	return out, err
}

func (s *Store) scan(fn func(Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	dec := cbor.NewDecoder(f)
	for i := 0; ; i++ {
		var msg []interface{}
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("%w: record %d: %v", ErrCorrupt, i, err)
		}
		rec, err := decodeRecord(msg)
		if err != nil {
			return fmt.Errorf("%w: record %d: %v", ErrCorrupt, i, err)
		}
		fn(rec)
	}
}
