// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lwz

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Link is an open byte stream to the controller.
// Read must return (0, nil) or an error once the read timeout elapses
// without data; a zero-byte read is treated as "no answer".
type Link interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens a new Link. A Session dials once per connection bracket.
type Dialer interface {
	Dial() (Link, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func() (Link, error)

// Dial calls f
func (f DialerFunc) Dial() (Link, error) {
	return f()
}

// SerialDialer opens the controller's serial device
type SerialDialer struct {
	Device string
	// NewStyle selects the fixed 57600 baud 8N1 mode of newer firmware
	NewStyle bool
}

// Mode returns the serial mode used by Dial
func (d SerialDialer) Mode() *serial.Mode {
	baud := DefaultBaudRate
	if d.NewStyle {
		baud = NewStyleBaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Dial opens the serial device with the protocol read timeout
func (d SerialDialer) Dial() (Link, error) {
	port, err := serial.Open(d.Device, d.Mode())
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", d.Device, err)
	}
	if err := port.SetReadTimeout(SerialTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", d.Device, err)
	}
	return port, nil
}

// String describes the link for log output
func (d SerialDialer) String() string {
	return fmt.Sprintf("Serial: %s @ %d baud", d.Device, d.Mode().BaudRate)
}

// readFull reads up to len(p) bytes, stopping early at the first empty read.
// It mirrors a serial read with timeout: fewer bytes mean the peer went quiet.
func readFull(r io.Reader, p []byte) (int, error) {
	got := 0
	for got < len(p) {
		n, err := r.Read(p[got:])
		got += n
		if err != nil {
			if err == io.EOF {
				return got, nil
			}
			return got, err
		}
		if n == 0 {
			return got, nil
		}
	}
	return got, nil
}
