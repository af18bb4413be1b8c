// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lwz

import "bytes"

// ValidateResponse checks a received frame (header included) against the
// request that produced it and returns a copy of the payload.
//
// After the header the frame must hold exactly one checksum byte, the echoed
// request and responseLength payload bytes.
func ValidateResponse(query string, request []byte, responseLength int, frame []byte) ([]byte, error) {
	// too short to hold the header, so both counts are whole frame lengths
	if len(frame) < len(Begin) {
		return nil, newError("validate", query, ErrUnexpectedResponseLength).
			withCount(len(Begin)+1+len(request)+responseLength, len(frame))
	}
	body := frame[len(Begin):]
	overhead := 1 + len(request)
	if len(body) != responseLength+overhead {
		return nil, newError("validate", query, ErrUnexpectedResponseLength).
			withCount(responseLength, len(body)-overhead)
	}

	ok, err := VerifyChecksum(body)
	if err != nil {
		return nil, newError("validate", query, ErrChecksumMismatch).withCause(err)
	}
	if !ok {
		return nil, newError("validate", query, ErrChecksumMismatch).
			withBytes([]byte{body[0], Checksum(body[1:])})
	}

	if echoed := body[1:overhead]; !bytes.Equal(echoed, request) {
		return nil, newError("validate", query, ErrResponseIDMismatch).withBytes(echoed)
	}

	return append([]byte(nil), body[overhead:]...), nil
}
