// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lwz implements the read-only serial protocol spoken by LWZ heat pump
// controllers.
//
// A Session detects the firmware version of the controller, binds the matching
// query description from a Registry of version files, and runs poll cycles that
// return the decoded values of every configured query. The package never sends
// write commands to the controller.
package lwz

import "time"

// Protocol framing bytes
const (
	StartComm  = 0x02
	Escape     = 0x10
	End        = 0x03
	GetVersion = 0xFD
)

// Begin is the two-byte header of every frame.
var Begin = []byte{0x01, 0x00}

// Link parameters
const (
	SerialTimeout    = 5 * time.Second
	NewStyleBaudRate = 57600
	DefaultBaudRate  = 9600
)

// Exchange policy
const (
	MaxHandshakeAttempts = 5
	ReconnectCooldown    = 1 * time.Second
	VersionResponseSize  = 2
)

// Frame reader states (internal)
const (
	stateAwaitHeader = iota
	stateNormal
	stateEscaping
	stateDone
)

// Exchange phases, used for logging and error context
type phase int

const (
	phaseAwaitHandshake phase = iota
	phaseReceivingHeader
	phaseReceivingPayload
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseAwaitHandshake:
		return "await-handshake"
	case phaseReceivingHeader:
		return "receiving-header"
	case phaseReceivingPayload:
		return "receiving-payload"
	case phaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// FieldKind selects how a field's bytes are decoded
type FieldKind int

// Field kind values
const (
	KindFixedPoint FieldKind = iota
	KindDateTime
)

func (k FieldKind) String() string {
	switch k {
	case KindFixedPoint:
		return "fixedPoint"
	case KindDateTime:
		return "DateTime"
	default:
		return "unknown"
	}
}
