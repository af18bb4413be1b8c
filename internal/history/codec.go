// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package history

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

// encodeRecord encodes a record as a CBOR array: [unix_millis, values_map]
func encodeRecord(r Record) ([]byte, error) {
	values := make(map[string]interface{}, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	data, err := cbor.Marshal([]interface{}{r.Time.UnixMilli(), values})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return data, nil
}

// decodeRecord converts a decoded [unix_millis, values_map] array back into a Record
func decodeRecord(msg []interface{}) (Record, error) {
	if len(msg) != 2 {
		return Record{}, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	var millis int64
	switch v := msg[0].(type) {
	case uint64:
		millis = int64(v)
	case int64:
		millis = v
	default:
		return Record{}, fmt.Errorf("expected integer timestamp, got %T", msg[0])
	}

	rec := Record{Time: time.UnixMilli(millis), Values: make(lwz.Result)}
	if msg[1] == nil {
		return rec, nil
	}

	m, ok := msg[1].(map[interface{}]interface{})
	if !ok {
		return Record{}, fmt.Errorf("expected map or nil for values, got %T", msg[1])
	}
	for key, val := range m {
		name, ok := key.(string)
		if !ok {
			return Record{}, fmt.Errorf("expected string map key, got %T", key)
		}
		v, err := normalizeValue(val)
		if err != nil {
			return Record{}, fmt.Errorf("value %s: %w", name, err)
		}
		rec.Values[name] = v
	}
	return rec, nil
}

// normalizeValue maps CBOR integer types back to the int64 a poll produces
func normalizeValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case uint64:
		return int64(val), nil
	case int64, float64, string:
		return val, nil
	case float32:
		return float64(val), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}
