// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lwz

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Session owns the link to one controller and the protocol description
// bound to its firmware version. A Session is not safe for concurrent use.
type Session struct {
	dialer  Dialer
	link    Link
	config  *VersionConfig
	version string

	log          zerolog.Logger
	cooldown     time.Duration
	closedAt     time.Time
	versionScale int
	onPayload    func(query string, payload []byte)

	now   func() time.Time
	sleep func(time.Duration)
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithCooldown overrides the pause enforced between closing and reopening the link
func WithCooldown(d time.Duration) Option {
	return func(s *Session) { s.cooldown = d }
}

// WithVersionScale sets the decimal scale used to decode the firmware version.
// Version files commonly key versions like "4.39", which needs a scale of 2.
func WithVersionScale(scale int) Option {
	return func(s *Session) { s.versionScale = scale }
}

// WithPayloadHook registers a function called with every validated payload
func WithPayloadHook(fn func(query string, payload []byte)) Option {
	return func(s *Session) { s.onPayload = fn }
}

func newSession(dialer Dialer, opts ...Option) *Session {
	s := &Session{
		dialer:   dialer,
		log:      zerolog.Nop(),
		cooldown: ReconnectCooldown,
		now:      time.Now,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSession detects the controller's firmware version through dialer and
// binds the matching configuration from registry. It fails with
// ErrConfigurationMissing when the registry has no entry for the version.
func NewSession(dialer Dialer, registry *Registry, opts ...Option) (*Session, error) {
	s := newSession(dialer, opts...)

	version, err := s.VersionQuery()
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("version", version).Msg("Heat pump reports version")

	cfg, err := registry.Lookup(version)
	if err != nil {
		return nil, err
	}
	s.version = version
	s.config = cfg
	s.log.Info().
		Str("author", cfg.Author).
		Str("comment", cfg.Comment).
		Str("source", cfg.Source).
		Msg("Using protocol definition")

	return s, nil
}

// Open builds a registry from versionsDir and a session on the serial device
func Open(device, versionsDir string, newStyle bool, opts ...Option) (*Session, error) {
	registry, err := LoadRegistry(versionsDir)
	if err != nil {
		return nil, err
	}
	return NewSession(SerialDialer{Device: device, NewStyle: newStyle}, registry, opts...)
}

// DetectVersion runs only the version query, without a registry
func DetectVersion(dialer Dialer, opts ...Option) (string, error) {
	return newSession(dialer, opts...).VersionQuery()
}

// Probe opens and closes the link once and returns how long the ping took
func Probe(dialer Dialer, opts ...Option) (time.Duration, error) {
	s := newSession(dialer, opts...)
	start := s.now()
	if err := s.establish(); err != nil {
		return 0, err
	}
	rtt := s.now().Sub(start)
	return rtt, s.closeLink()
}

// Version returns the firmware version detected at construction
func (s *Session) Version() string {
	return s.version
}

// Config returns the protocol description bound at construction
func (s *Session) Config() *VersionConfig {
	return s.config
}

// VersionQuery asks the controller for its firmware version.
// It opens and closes its own connection.
func (s *Session) VersionQuery() (version string, err error) {
	if err := s.establish(); err != nil {
		return "", err
	}
	defer func() {
		if cerr := s.closeLink(); cerr != nil && err == nil {
			s.log.Warn().Err(cerr).Msg("close after version query failed")
		}
	}()

	payload, err := s.exchange("getVersion", []byte{GetVersion}, VersionResponseSize)
	if err != nil {
		return "", err
	}
	v, err := FixedPoint(payload, s.versionScale)
	if err != nil {
		return "", fmt.Errorf("lwz: decode version: %w", err)
	}
	return formatVersion(v), nil
}

// Query runs one poll cycle: every configured query in order over a single
// connection. Any failure aborts the cycle and no partial result is returned.
func (s *Session) Query() (result Result, err error) {
	if s.config == nil {
		return nil, newError("query", "", ErrConfigurationMissing)
	}
	if err := s.establish(); err != nil {
		return nil, err
	}
	defer func() {
		if cerr := s.closeLink(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("close after poll cycle failed")
		}
	}()

	result = make(Result)
	for i := range s.config.Queries {
		q := &s.config.Queries[i]
		payload, err := s.exchange(q.Name, q.Request, q.ResponseLength)
		if err != nil {
			return nil, err
		}
		if err := q.Decode(payload, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// establish opens the link and checks that the controller answers the ping
func (s *Session) establish() error {
	if s.link != nil {
		return errors.New("lwz: serial connection already open")
	}
	if !s.closedAt.IsZero() {
		if wait := s.cooldown - s.now().Sub(s.closedAt); wait > 0 {
			s.sleep(wait)
		}
	}

	link, err := s.dialer.Dial()
	if err != nil {
		return fmt.Errorf("lwz: establish: %w", err)
	}

	if _, err := link.Write([]byte{StartComm}); err != nil {
		link.Close()
		return newError("establish", "", ErrLinkUnresponsive).withCause(err)
	}
	var ack [1]byte
	n, err := readFull(link, ack[:])
	if n != 1 || ack[0] != Escape {
		link.Close()
		pe := newError("establish", "", ErrLinkUnresponsive).withBytes(ack[:n])
		if err != nil {
			pe.withCause(err)
		}
		return pe
	}

	s.link = link
	s.log.Debug().Msg("connection established")
	return nil
}

// closeLink closes the link and starts the reconnect cooldown
func (s *Session) closeLink() error {
	if s.link == nil {
		return nil
	}
	err := s.link.Close()
	s.link = nil
	s.closedAt = s.now()
	s.log.Debug().Msg("connection closed")
	return err
}

// exchange performs one request/response on the open link and returns the
// validated payload
func (s *Session) exchange(name string, request []byte, responseLength int) ([]byte, error) {
	if s.link == nil {
		return nil, errors.New("lwz: serial connection not open")
	}

	p := phaseAwaitHandshake
	frame := EncodeRequest(request)
	want := []byte{Escape, StartComm}
	var ack [2]byte
	ok := false
	for attempt := 1; attempt <= MaxHandshakeAttempts; attempt++ {
		if _, err := s.link.Write(frame); err != nil {
			return nil, newError("handshake", name, ErrQueryHandshakeFailed).withCause(err)
		}
		n, err := readFull(s.link, ack[:])
		if err != nil {
			return nil, newError("handshake", name, ErrQueryHandshakeFailed).withCause(err)
		}
		if n == len(want) && bytes.Equal(ack[:n], want) {
			ok = true
			break
		}
		s.log.Warn().
			Str("query", name).
			Int("attempt", attempt).
			Hex("got", ack[:n]).
			Msg("handshake not acknowledged")
		if attempt == MaxHandshakeAttempts {
			break
		}
		if err := s.closeLink(); err != nil {
			s.log.Warn().Err(err).Msg("close before reconnect failed")
		}
		if err := s.establish(); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, newError("handshake", name, ErrQueryHandshakeFailed).
			withCount(MaxHandshakeAttempts, MaxHandshakeAttempts)
	}

	// ready to receive
	if _, err := s.link.Write([]byte{Escape}); err != nil {
		return nil, newError("receive", name, ErrStreamBroken).withCause(err)
	}

	p = phaseReceivingHeader
	raw, err := NewFrameReader(s.link).ReadFrame()
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			pe.Query = name
		}
		s.log.Debug().Str("query", name).Stringer("phase", p).Err(err).Msg("frame receive failed")
		return nil, err
	}
	p = phaseReceivingPayload

	if s.config != nil {
		raw = s.config.Replace.Apply(raw)
	}
	payload, err := ValidateResponse(name, request, responseLength, raw)
	if err != nil {
		s.log.Debug().Str("query", name).Stringer("phase", p).Str("frame", FormatHex(raw)).Msg("invalid frame")
		return nil, err
	}

	if err := s.resetToIdle(name); err != nil {
		return nil, err
	}
	p = phaseDone

	if e := s.log.Debug(); e.Enabled() {
		e.Str("query", name).Stringer("phase", p).Str("payload", FormatHex(payload)).Msg("response")
	}
	if s.onPayload != nil {
		s.onPayload(name, payload)
	}
	return payload, nil
}

// resetToIdle puts the controller back into receiving mode. Some firmware
// versions do not acknowledge this, so silence is accepted.
func (s *Session) resetToIdle(name string) error {
	if _, err := s.link.Write([]byte{Escape, StartComm}); err != nil {
		return newError("reset", name, ErrResetFailed).withCause(err)
	}
	var ack [1]byte
	n, err := readFull(s.link, ack[:])
	if err != nil {
		return newError("reset", name, ErrResetFailed).withCause(err)
	}
	if n == 1 && ack[0] != Escape {
		return newError("reset", name, ErrResetFailed).withBytes(ack[:])
	}
	return nil
}

// formatVersion renders a decoded version number the way version files list it
func formatVersion(v interface{}) string {
	switch n := v.(type) {
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		s := strconv.FormatFloat(n, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	default:
		return fmt.Sprint(v)
	}
}
