// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lwz

import (
	"bytes"
	"fmt"
)

// QueryField describes one value inside a query's response payload
type QueryField struct {
	Name   string
	Offset int
	Size   int
	Kind   FieldKind

	// Scale is the decimal exponent of a fixed point field
	Scale int
	// Separator is inserted into a date/time field
	Separator string
}

// Decode extracts the field from payload and converts it
func (f QueryField) Decode(payload []byte) (interface{}, error) {
	if f.Offset < 0 || f.Offset+f.Size > len(payload) {
		return nil, fmt.Errorf("%w: %s at %d+%d, payload is %d bytes",
			ErrFieldOutOfRange, f.Name, f.Offset, f.Size, len(payload))
	}
	raw := payload[f.Offset : f.Offset+f.Size]
	switch f.Kind {
	case KindFixedPoint:
		return FixedPoint(raw, f.Scale)
	case KindDateTime:
		return DateTime(raw, f.Separator)
	default:
		return nil, fmt.Errorf("%w: %s has kind %d", ErrUnknownFieldKind, f.Name, f.Kind)
	}
}

// QueryDefinition is one request the controller answers with a fixed size payload
type QueryDefinition struct {
	Name           string
	Comment        string
	Request        []byte
	ResponseLength int
	Fields         []QueryField
}

// Decode converts every field of payload into result
func (q *QueryDefinition) Decode(payload []byte, result Result) error {
	for _, f := range q.Fields {
		v, err := f.Decode(payload)
		if err != nil {
			return fmt.Errorf("lwz: decode %s: %w", q.Name, err)
		}
		result[f.Name] = v
	}
	return nil
}

// Replacement is a byte sequence substitution applied to received frames.
// Some firmware versions emit a known bogus sequence that must be patched
// before the frame can be validated.
type Replacement struct {
	Old []byte
	New []byte
}

// Apply returns frame with every occurrence of Old replaced by New
func (r *Replacement) Apply(frame []byte) []byte {
	if r == nil || len(r.Old) == 0 {
		return frame
	}
	return bytes.ReplaceAll(frame, r.Old, r.New)
}

// VersionConfig is the protocol description of one or more firmware versions
type VersionConfig struct {
	Author  string
	Comment string
	Replace *Replacement
	Queries []QueryDefinition

	// Source is the file the config was parsed from
	Source string
	// Versions lists every firmware version bound to this config
	Versions []string
}

// Result maps field names to decoded values: int64, float64 or string
type Result map[string]interface{}
