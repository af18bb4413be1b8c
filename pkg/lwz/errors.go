// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lwz

import (
	"errors"
	"fmt"
	"strings"
)

// Protocol errors. Every failure returned by a Session wraps exactly one of these.
var (
	ErrLinkUnresponsive         = errors.New("heat pump does not respond")
	ErrQueryHandshakeFailed     = errors.New("query handshake failed")
	ErrBadResponseHeader        = errors.New("bad response header")
	ErrInvalidEscapeSequence    = errors.New("invalid escape sequence")
	ErrStreamBroken             = errors.New("data stream broken")
	ErrUnexpectedResponseLength = errors.New("unexpected response length")
	ErrChecksumMismatch         = errors.New("checksum mismatch")
	ErrResponseIDMismatch       = errors.New("response id mismatch")
	ErrResetFailed              = errors.New("reset to idle failed")
	ErrConfigurationMissing     = errors.New("no configuration for firmware version")
	ErrUnsupportedFieldWidth    = errors.New("unsupported field width")
)

// Version file authoring errors
var (
	ErrUnknownFieldKind = errors.New("unknown field kind")
	ErrFieldOutOfRange  = errors.New("field exceeds response length")
	ErrChecksumInput    = errors.New("checksum input too short")
)

// ProtocolError describes a failed protocol operation
type ProtocolError struct {
	Op    string // establish, handshake, receive, validate, reset, lookup, decode
	Query string // query name, empty outside an exchange
	Err   error  // one of the Err* sentinels

	// Expected and Actual are set for length and count mismatches
	Expected int
	Actual   int
	hasCount bool

	// Got holds the offending bytes, if any
	Got []byte

	// Cause is the underlying I/O error, if any
	Cause error
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	var b strings.Builder
	b.WriteString("lwz: ")
	b.WriteString(e.Op)
	if e.Query != "" {
		b.WriteString(" ")
		b.WriteString(e.Query)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.hasCount {
		fmt.Fprintf(&b, " (expected %d, got %d)", e.Expected, e.Actual)
	}
	if len(e.Got) > 0 {
		fmt.Fprintf(&b, " [% X]", e.Got)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the sentinel and the I/O cause to errors.Is / errors.As
func (e *ProtocolError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func newError(op, query string, sentinel error) *ProtocolError {
	return &ProtocolError{Op: op, Query: query, Err: sentinel}
}

func (e *ProtocolError) withCount(expected, actual int) *ProtocolError {
	e.Expected = expected
	e.Actual = actual
	e.hasCount = true
	return e
}

func (e *ProtocolError) withBytes(b []byte) *ProtocolError {
	e.Got = append([]byte(nil), b...)
	return e
}

func (e *ProtocolError) withCause(err error) *ProtocolError {
	e.Cause = err
	return e
}

var kindLabels = []struct {
	err   error
	label string
}{
	{ErrLinkUnresponsive, "link_unresponsive"},
	{ErrQueryHandshakeFailed, "handshake_failed"},
	{ErrBadResponseHeader, "bad_header"},
	{ErrInvalidEscapeSequence, "invalid_escape"},
	{ErrStreamBroken, "stream_broken"},
	{ErrUnexpectedResponseLength, "length_mismatch"},
	{ErrChecksumMismatch, "checksum_mismatch"},
	{ErrResponseIDMismatch, "id_mismatch"},
	{ErrResetFailed, "reset_failed"},
	{ErrConfigurationMissing, "configuration_missing"},
	{ErrUnsupportedFieldWidth, "unsupported_width"},
	{ErrUnknownFieldKind, "unknown_field_kind"},
	{ErrFieldOutOfRange, "field_out_of_range"},
}

// Kind returns a short stable label for err, suitable for metric labels.
// Errors that wrap no protocol sentinel are reported as "io".
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kindLabels {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "io"
}
