// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lwz

import (
	"bytes"
	"fmt"
	"io"
)

// MaxFrameSize bounds the unescaped size of a received frame
const MaxFrameSize = 1024

// FrameReader implements the response frame state machine.
// It consumes one byte at a time, removes escaping, and stops at ESCAPE END.
type FrameReader struct {
	r     io.Reader
	state int
	buf   []byte
	one   [1]byte
}

// NewFrameReader creates a frame reader on r
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:     r,
		state: stateAwaitHeader,
		buf:   make([]byte, 0, 64),
	}
}

// Reset returns the reader to the header state and drops buffered bytes
func (fr *FrameReader) Reset() {
	fr.state = stateAwaitHeader
	fr.buf = fr.buf[:0]
}

// Bytes returns the bytes accumulated so far: header followed by unescaped payload
func (fr *FrameReader) Bytes() []byte {
	return fr.buf
}

// Done reports whether a complete frame has been read
func (fr *FrameReader) Done() bool {
	return fr.state == stateDone
}

// Feed processes a single byte through the state machine.
// Returns true once the terminating ESCAPE END has been consumed.
func (fr *FrameReader) Feed(b byte) (bool, error) {
	switch fr.state {
	case stateAwaitHeader:
		fr.buf = append(fr.buf, b)
		if len(fr.buf) < len(Begin) {
			return false, nil
		}
		if !bytes.Equal(fr.buf, Begin) {
			got := append([]byte(nil), fr.buf...)
			fr.Reset()
			return false, newError("receive", "", ErrBadResponseHeader).withBytes(got)
		}
		fr.state = stateNormal
		return false, nil

	case stateNormal:
		if b == Escape {
			fr.state = stateEscaping
			return false, nil
		}
		return false, fr.appendPayload(b)

	case stateEscaping:
		switch b {
		case End:
			fr.state = stateDone
			return true, nil
		case Escape:
			fr.state = stateNormal
			return false, fr.appendPayload(b)
		default:
			fr.Reset()
			return false, newError("receive", "", ErrInvalidEscapeSequence).withBytes([]byte{Escape, b})
		}

	case stateDone:
		return true, nil

	default:
		fr.Reset()
		return false, fmt.Errorf("lwz: invalid frame reader state: %d", fr.state)
	}
}

func (fr *FrameReader) appendPayload(b byte) error {
	if len(fr.buf) >= MaxFrameSize {
		n := len(fr.buf)
		fr.Reset()
		return newError("receive", "", ErrUnexpectedResponseLength).withCount(MaxFrameSize, n+1)
	}
	fr.buf = append(fr.buf, b)
	return nil
}

// ReadFrame reads one complete frame from the underlying reader.
// The returned slice holds the 2 byte header followed by the unescaped
// payload and stays valid until the next Reset or ReadFrame.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	fr.Reset()
	for {
		n, err := fr.r.Read(fr.one[:])
		if n == 0 {
			pe := newError("receive", "", ErrStreamBroken)
			if err != nil && err != io.EOF {
				pe.withCause(err)
			}
			return nil, pe
		}
		done, ferr := fr.Feed(fr.one[0])
		if ferr != nil {
			return nil, ferr
		}
		if done {
			return fr.buf, nil
		}
	}
}

// EscapeFrame doubles every ESCAPE byte of payload and appends the ESCAPE END
// terminator. It is the inverse of the payload part of FrameReader.
func EscapeFrame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(payload)/8+2)
	for _, b := range payload {
		if b == Escape {
			out = append(out, Escape, Escape)
		} else {
			out = append(out, b)
		}
	}
	return append(out, Escape, End)
}

// EncodeRequest builds the handshake frame for a query request code
func EncodeRequest(request []byte) []byte {
	out := make([]byte, 0, len(Begin)+len(request)+3)
	out = append(out, Begin...)
	out = append(out, AddChecksum(request)...)
	return append(out, Escape, End)
}

// EncodeResponse builds the frame a controller sends in answer to request:
// header, then checksum, echoed request and payload, escaped and terminated.
func EncodeResponse(request, payload []byte) []byte {
	body := make([]byte, 0, len(request)+len(payload))
	body = append(body, request...)
	body = append(body, payload...)
	out := append([]byte(nil), Begin...)
	return append(out, EscapeFrame(AddChecksum(body))...)
}
