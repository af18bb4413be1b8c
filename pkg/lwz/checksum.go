// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lwz

import "fmt"

// Checksum computes the additive protocol checksum: (1 + sum of bytes) mod 256
func Checksum(data []byte) byte {
	sum := byte(1)
	for _, b := range data {
		sum += b
	}
	return sum
}

// AddChecksum returns a new slice with the checksum of data prepended
func AddChecksum(data []byte) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, Checksum(data))
	return append(out, data...)
}

// VerifyChecksum reports whether seq[0] is the checksum of seq[1:].
// Sequences shorter than 2 bytes are rejected with ErrChecksumInput.
func VerifyChecksum(seq []byte) (bool, error) {
	if len(seq) < 2 {
		return false, fmt.Errorf("%w: %d bytes, need at least 2", ErrChecksumInput, len(seq))
	}
	return seq[0] == Checksum(seq[1:]), nil
}
