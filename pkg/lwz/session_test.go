// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lwz

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"
)

// ============================================================
// Fake Controller
// ============================================================

// fakeController answers the serial protocol the way a heat pump does.
// Every Dial returns a fresh fakeLink whose replies are queued on Write.
type fakeController struct {
	pingReply  []byte
	resetReply []byte

	// handshakeNaks is the number of handshakes answered with a NAK
	handshakeNaks int

	// payloads maps a request to its response payload
	payloads map[string][]byte
	// frames overrides the complete wire response for a request
	frames map[string][]byte

	dialErr error

	dials      int
	closes     int
	handshakes int
	resets     int
	open       int
}

func newFakeController() *fakeController {
	return &fakeController{
		pingReply:  []byte{Escape},
		resetReply: []byte{Escape},
		payloads:   make(map[string][]byte),
		frames:     make(map[string][]byte),
	}
}

func (c *fakeController) Dial() (Link, error) {
	if c.dialErr != nil {
		return nil, c.dialErr
	}
	c.dials++
	c.open++
	return &fakeLink{ctl: c}, nil
}

func (c *fakeController) setVersion(v uint16) {
	c.payloads[string([]byte{GetVersion})] = []byte{byte(v >> 8), byte(v)}
}

type fakeLink struct {
	ctl     *fakeController
	in      bytes.Buffer
	pending []byte
	closed  bool
}

func (l *fakeLink) Read(p []byte) (int, error) {
	if l.closed {
		return 0, errors.New("read on closed link")
	}
	if l.in.Len() == 0 {
		// read timeout
		return 0, nil
	}
	return l.in.Read(p)
}

func (l *fakeLink) Write(p []byte) (int, error) {
	if l.closed {
		return 0, errors.New("write on closed link")
	}
	c := l.ctl
	switch {
	case bytes.Equal(p, []byte{StartComm}):
		l.in.Write(c.pingReply)
	case bytes.Equal(p, []byte{Escape, StartComm}):
		c.resets++
		l.in.Write(c.resetReply)
	case bytes.Equal(p, []byte{Escape}):
		l.in.Write(l.pending)
		l.pending = nil
	case len(p) >= 5 && bytes.HasPrefix(p, Begin) && bytes.HasSuffix(p, []byte{Escape, End}):
		c.handshakes++
		if c.handshakeNaks > 0 {
			c.handshakeNaks--
			l.in.Write([]byte{0x15})
			return len(p), nil
		}
		request := p[3 : len(p)-2]
		l.in.Write([]byte{Escape, StartComm})
		if frame, ok := c.frames[string(request)]; ok {
			l.pending = frame
		} else {
			l.pending = EncodeResponse(request, c.payloads[string(request)])
		}
	default:
		return 0, fmt.Errorf("unexpected write % X", p)
	}
	return len(p), nil
}

func (l *fakeLink) Close() error {
	if !l.closed {
		l.closed = true
		l.ctl.closes++
		l.ctl.open--
	}
	return nil
}

// fakeClock advances only when the session sleeps
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func withClock(c *fakeClock) Option {
	return func(s *Session) {
		s.now = func() time.Time { return c.now }
		s.sleep = func(d time.Duration) {
			c.sleeps = append(c.sleeps, d)
			c.now = c.now.Add(d)
		}
	}
}

func testRegistry() *Registry {
	return NewRegistry(&VersionConfig{
		Author:   "test",
		Versions: []string{"2.06"},
		Queries: []QueryDefinition{
			{
				Name:           "temps",
				Request:        []byte{0xFB},
				ResponseLength: 3,
				Fields: []QueryField{
					{Name: "outsideTemp", Offset: 0, Size: 2, Kind: KindFixedPoint, Scale: 1},
					{Name: "mode", Offset: 2, Size: 1, Kind: KindFixedPoint},
				},
			},
			{
				Name:           "clock",
				Request:        []byte{0xFC},
				ResponseLength: 2,
				Fields: []QueryField{
					{Name: "time", Offset: 0, Size: 2, Kind: KindDateTime, Separator: ":"},
				},
			},
		},
	})
}

func newTestController() *fakeController {
	c := newFakeController()
	c.setVersion(206)
	c.payloads[string([]byte{0xFB})] = []byte{0x00, 0xFF, 0x02}
	c.payloads[string([]byte{0xFC})] = []byte{0xB5, 0x04}
	return c
}

func newTestSession(t *testing.T, c *fakeController, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithCooldown(0), WithVersionScale(2)}, opts...)
	s, err := NewSession(c, testRegistry(), opts...)
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	return s
}

// ============================================================
// Version Query Tests
// ============================================================

func TestVersionQuery_Scales(t *testing.T) {
	tests := []struct {
		name  string
		raw   uint16
		scale int
		want  string
	}{
		{"integer", 439, 0, "439"},
		{"two decimals", 439, 2, "4.39"},
		{"whole number keeps decimal", 200, 2, "2.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeController()
			c.setVersion(tt.raw)
			got, err := DetectVersion(c, WithCooldown(0), WithVersionScale(tt.scale))
			if err != nil {
				t.Fatalf("DetectVersion error: %v", err)
			}
			if got != tt.want {
				t.Errorf("version = %q, want %q", got, tt.want)
			}
			if c.open != 0 {
				t.Errorf("%d links left open", c.open)
			}
		})
	}
}

func TestNewSession_BindsConfig(t *testing.T) {
	c := newTestController()
	s := newTestSession(t, c)

	if s.Version() != "2.06" {
		t.Errorf("Version() = %q", s.Version())
	}
	if s.Config() == nil || s.Config().Author != "test" {
		t.Errorf("Config() = %+v", s.Config())
	}
}

func TestNewSession_ConfigurationMissing(t *testing.T) {
	c := newFakeController()
	c.setVersion(300)
	_, err := NewSession(c, testRegistry(), WithCooldown(0), WithVersionScale(2))
	if !errors.Is(err, ErrConfigurationMissing) {
		t.Errorf("error = %v, want ErrConfigurationMissing", err)
	}
}

// ============================================================
// Poll Cycle Tests
// ============================================================

func TestQuery_EndToEnd(t *testing.T) {
	c := newTestController()
	s := newTestSession(t, c)

	result, err := s.Query()
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if result["outsideTemp"] != 25.5 {
		t.Errorf("outsideTemp = %#v, want 25.5", result["outsideTemp"])
	}
	if result["mode"] != int64(2) {
		t.Errorf("mode = %#v, want 2", result["mode"])
	}
	if result["time"] != "12:05" {
		t.Errorf("time = %#v, want 12:05", result["time"])
	}
	if c.open != 0 {
		t.Errorf("%d links left open after cycle", c.open)
	}
	// version query plus one poll cycle
	if c.dials != 2 {
		t.Errorf("dials = %d, want 2", c.dials)
	}
}

func TestQuery_SingleFieldFromVersionFile(t *testing.T) {
	dir := t.TempDir()
	writeVersionFile(t, dir, "v.ini", "[Global]\nversions = 2.06\nqueries = q\n"+
		"[q]\nrequest = \\xfb\nresponseLength = 2\nvalue1 = field 0 fixedPoint 2 1\n")
	r, err := LoadRegistry(dir)
	if err != nil {
		t.Fatalf("LoadRegistry error: %v", err)
	}

	c := newFakeController()
	c.setVersion(206)
	c.payloads[string([]byte{0xFB})] = []byte{0x00, 0xFF}
	s, err := NewSession(c, r, WithCooldown(0), WithVersionScale(2))
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}

	result, err := s.Query()
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(result) != 1 || result["field"] != 25.5 {
		t.Errorf("result = %#v, want field 25.5 only", result)
	}
}

func TestQuery_EscapedPayload(t *testing.T) {
	c := newTestController()
	c.payloads[string([]byte{0xFB})] = []byte{0x10, 0x10, 0x10}
	s := newTestSession(t, c)

	result, err := s.Query()
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if result["outsideTemp"] != 411.2 {
		t.Errorf("outsideTemp = %#v, want 411.2", result["outsideTemp"])
	}
	if result["mode"] != int64(16) {
		t.Errorf("mode = %#v, want 16", result["mode"])
	}
}

func TestQuery_AllOrNothing(t *testing.T) {
	c := newTestController()
	s := newTestSession(t, c)
	c.payloads[string([]byte{0xFC})] = []byte{0xB5}

	result, err := s.Query()
	if !errors.Is(err, ErrUnexpectedResponseLength) {
		t.Fatalf("error = %v, want ErrUnexpectedResponseLength", err)
	}
	if result != nil {
		t.Errorf("partial result returned: %v", result)
	}
	if c.open != 0 {
		t.Errorf("%d links left open after failure", c.open)
	}

	var pe *ProtocolError
	if errors.As(err, &pe) && pe.Query != "clock" {
		t.Errorf("failing query = %q, want clock", pe.Query)
	}
}

func TestQuery_GlobalReplacement(t *testing.T) {
	c := newTestController()
	s := newTestSession(t, c)
	s.config.Replace = &Replacement{Old: []byte{0x2B, 0x18}, New: []byte{0x2B}}

	request := []byte{0xFB}
	frame := EncodeResponse(request, []byte{0x2B, 0x05, 0x01})
	c.frames[string(request)] = bytes.Replace(frame, []byte{0x2B}, []byte{0x2B, 0x18}, 1)

	result, err := s.Query()
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if result["outsideTemp"] != 1101.3 {
		t.Errorf("outsideTemp = %#v, want 1101.3", result["outsideTemp"])
	}
}

func TestQuery_PayloadHook(t *testing.T) {
	c := newTestController()
	var seen []string
	s := newTestSession(t, c, WithPayloadHook(func(query string, payload []byte) {
		seen = append(seen, fmt.Sprintf("%s:% X", query, payload))
	}))

	if _, err := s.Query(); err != nil {
		t.Fatalf("Query error: %v", err)
	}
	want := []string{"getVersion:00 CE", "temps:00 FF 02", "clock:B5 04"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("hook saw %v, want %v", seen, want)
	}
}

// ============================================================
// Handshake Tests
// ============================================================

func TestHandshake_RetriesWithReconnect(t *testing.T) {
	c := newFakeController()
	c.setVersion(439)
	c.handshakeNaks = 4

	clock := &fakeClock{now: time.Unix(0, 0)}
	got, err := DetectVersion(c, withClock(clock))
	if err != nil {
		t.Fatalf("DetectVersion error: %v", err)
	}
	if got != "439" {
		t.Errorf("version = %q, want 439", got)
	}
	if c.handshakes != 5 {
		t.Errorf("handshakes = %d, want 5", c.handshakes)
	}
	// initial connection plus four reconnects
	if c.dials != 5 {
		t.Errorf("dials = %d, want 5", c.dials)
	}
	if len(clock.sleeps) != 4 {
		t.Fatalf("cooldown sleeps = %v, want 4", clock.sleeps)
	}
	for _, d := range clock.sleeps {
		if d != ReconnectCooldown {
			t.Errorf("cooldown = %v, want %v", d, ReconnectCooldown)
		}
	}
}

func TestHandshake_GivesUpAfterFiveAttempts(t *testing.T) {
	c := newFakeController()
	c.setVersion(439)
	c.handshakeNaks = 100

	_, err := DetectVersion(c, WithCooldown(0))
	if !errors.Is(err, ErrQueryHandshakeFailed) {
		t.Fatalf("error = %v, want ErrQueryHandshakeFailed", err)
	}
	if c.handshakes != MaxHandshakeAttempts {
		t.Errorf("handshakes = %d, want %d", c.handshakes, MaxHandshakeAttempts)
	}
	if c.dials != MaxHandshakeAttempts {
		t.Errorf("dials = %d, want %d", c.dials, MaxHandshakeAttempts)
	}
	if c.open != 0 {
		t.Errorf("%d links left open", c.open)
	}
}

func TestCooldown_PartiallyElapsed(t *testing.T) {
	c := newFakeController()
	c.setVersion(439)
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := newSession(c, withClock(clock))

	if _, err := s.VersionQuery(); err != nil {
		t.Fatalf("VersionQuery error: %v", err)
	}
	clock.now = clock.now.Add(400 * time.Millisecond)
	if _, err := s.VersionQuery(); err != nil {
		t.Fatalf("VersionQuery error: %v", err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 600*time.Millisecond {
		t.Errorf("sleeps = %v, want [600ms]", clock.sleeps)
	}
}

// ============================================================
// Link Failure Tests
// ============================================================

func TestEstablish_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *fakeController)
		want  error
	}{
		{"silent controller", func(c *fakeController) { c.pingReply = nil }, ErrLinkUnresponsive},
		{"wrong ping reply", func(c *fakeController) { c.pingReply = []byte{0x15} }, ErrLinkUnresponsive},
		{"reset rejected", func(c *fakeController) { c.resetReply = []byte{0x15} }, ErrResetFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeController()
			c.setVersion(439)
			tt.setup(c)
			_, err := DetectVersion(c, WithCooldown(0))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if c.open != 0 {
				t.Errorf("%d links left open", c.open)
			}
		})
	}
}

func TestReset_SilenceTolerated(t *testing.T) {
	c := newFakeController()
	c.setVersion(439)
	c.resetReply = nil
	if _, err := DetectVersion(c, WithCooldown(0)); err != nil {
		t.Errorf("DetectVersion error: %v", err)
	}
	if c.resets != 1 {
		t.Errorf("resets = %d, want 1", c.resets)
	}
}

func TestExchange_BadFrames(t *testing.T) {
	version := []byte{GetVersion}
	good := EncodeResponse(version, []byte{0x01, 0xB7})

	corruptChecksum := append([]byte(nil), good...)
	corruptChecksum[2]++

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"bad header", append([]byte{0x02}, good[1:]...), ErrBadResponseHeader},
		{"invalid escape", []byte{0x01, 0x00, 0x10, 0x05}, ErrInvalidEscapeSequence},
		{"stream broken", good[:len(good)-2], ErrStreamBroken},
		{"checksum", corruptChecksum, ErrChecksumMismatch},
		{"id mismatch", EncodeResponse([]byte{0xFC}, []byte{0x01, 0xB7}), ErrResponseIDMismatch},
		{"short payload", EncodeResponse(version, []byte{0x01}), ErrUnexpectedResponseLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeController()
			c.frames[string(version)] = tt.frame
			_, err := DetectVersion(c, WithCooldown(0))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			var pe *ProtocolError
			if errors.As(err, &pe) && pe.Query != "getVersion" {
				t.Errorf("Query = %q, want getVersion", pe.Query)
			}
			if c.open != 0 {
				t.Errorf("%d links left open", c.open)
			}
		})
	}
}

func TestDial_Error(t *testing.T) {
	c := newFakeController()
	c.dialErr = errors.New("no such device")
	_, err := DetectVersion(c)
	if err == nil || !errors.Is(err, c.dialErr) {
		t.Errorf("error = %v, want dial error", err)
	}
	if errors.Is(err, ErrLinkUnresponsive) {
		t.Error("dial failure must not be reported as an unresponsive controller")
	}
}

func TestProbe(t *testing.T) {
	c := newFakeController()
	if _, err := Probe(c, WithCooldown(0)); err != nil {
		t.Errorf("Probe error: %v", err)
	}
	if c.open != 0 {
		t.Errorf("%d links left open", c.open)
	}

	c.pingReply = nil
	if _, err := Probe(c, WithCooldown(0)); !errors.Is(err, ErrLinkUnresponsive) {
		t.Errorf("Probe error = %v, want ErrLinkUnresponsive", err)
	}
}

func TestSerialDialer_Mode(t *testing.T) {
	if got := (SerialDialer{Device: "/dev/ttyUSB0"}).Mode().BaudRate; got != DefaultBaudRate {
		t.Errorf("old style baud = %d, want %d", got, DefaultBaudRate)
	}
	d := SerialDialer{Device: "/dev/ttyUSB0", NewStyle: true}
	if got := d.Mode().BaudRate; got != NewStyleBaudRate {
		t.Errorf("new style baud = %d, want %d", got, NewStyleBaudRate)
	}
	if d.String() != "Serial: /dev/ttyUSB0 @ 57600 baud" {
		t.Errorf("String() = %q", d.String())
	}
}
