// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lwz

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FixedPoint decodes a 1 or 2 byte signed big-endian integer.
// With scale 0 the result is an int64, otherwise a float64 divided by 10^scale.
func FixedPoint(b []byte, scale int) (interface{}, error) {
	var v int64
	switch len(b) {
	case 1:
		v = int64(int8(b[0]))
	case 2:
		v = int64(int16(binary.BigEndian.Uint16(b)))
	default:
		return nil, fmt.Errorf("%w: fixed point needs 1 or 2 bytes, got %d", ErrUnsupportedFieldWidth, len(b))
	}
	if scale == 0 {
		return v, nil
	}
	return float64(v) / math.Pow10(scale), nil
}

// DateTime decodes a 2 byte little-endian value as a zero-padded four digit
// string with sep inserted after the second digit, e.g. 1205 -> "12:05".
func DateTime(b []byte, sep string) (string, error) {
	if len(b) != 2 {
		return "", fmt.Errorf("%w: date/time needs 2 bytes, got %d", ErrUnsupportedFieldWidth, len(b))
	}
	s := fmt.Sprintf("%04d", binary.LittleEndian.Uint16(b))
	return s[:2] + sep + s[2:], nil
}

// supportedWidth reports whether the codec can decode size bytes of kind
func supportedWidth(kind FieldKind, size int) bool {
	switch kind {
	case KindFixedPoint:
		return size == 1 || size == 2
	case KindDateTime:
		return size == 2
	}
	return false
}
