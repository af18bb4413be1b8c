// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/Thermoquad/heatpumpmon/internal/config"
	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketLink carries the serial byte stream over a WebSocket bridge.
// Binary messages are pumped by a background reader so that a read timeout
// returns (0, nil) without tearing down the connection.
type WebSocketLink struct {
	conn    *websocket.Conn
	timeout time.Duration

	msgs chan []byte
	done chan struct{}
	quit chan struct{}
	err  error // set by the reader before done is closed

	buf       []byte
	bufOffset int
	closeOnce sync.Once
}

func newWebSocketLink(conn *websocket.Conn, timeout time.Duration) *WebSocketLink {
	w := &WebSocketLink{
		conn:    conn,
		timeout: timeout,
		msgs:    make(chan []byte, 16),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocketLink) readLoop() {
	defer close(w.done)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = err
			return
		}
		// Only binary messages carry controller bytes
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case w.msgs <- data:
		case <-w.quit:
			return
		}
	}
}

func (w *WebSocketLink) Read(p []byte) (int, error) {
	// Return buffered data first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case data := <-w.msgs:
		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	case <-w.done:
		if w.err != nil {
			return 0, w.err
		}
		return 0, ErrConnectionClosed
	case <-timer.C:
		// Silence, same as a serial read timeout
		return 0, nil
	}
}

func (w *WebSocketLink) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketLink) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.quit)
		err = w.conn.Close()
	})
	return err
}

// OpenWebSocketLink opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketLink(wsURL, username, password string, skipSSLVerify bool) (*WebSocketLink, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return newWebSocketLink(conn, lwz.SerialTimeout), nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("HEATPUMP_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// NewDialer builds the link dialer for the configured transport. A
// WebSocket bridge is dialed afresh for every connection bracket, like the
// serial device.
func NewDialer(p config.ProtocolConfig) (lwz.Dialer, string, error) {
	if p.WebSocketURL != "" {
		password := ""
		if p.WebSocketUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}
		dial := lwz.DialerFunc(func() (lwz.Link, error) {
			return OpenWebSocketLink(p.WebSocketURL, p.WebSocketUsername, password, p.NoSSLVerify)
		})
		return dial, fmt.Sprintf("WebSocket: %s", p.WebSocketURL), nil
	}

	if p.SerialDevice == "" {
		return nil, "", fmt.Errorf("either --port or --url must be specified")
	}
	d := lwz.SerialDialer{Device: p.SerialDevice, NewStyle: p.NewStyle}
	return d, d.String(), nil
}

// OpenSession loads the version registry and detects the controller
func OpenSession(p config.ProtocolConfig, opts ...lwz.Option) (*lwz.Session, string, error) {
	registry, err := LoadRegistry(p)
	if err != nil {
		return nil, "", err
	}
	dialer, info, err := NewDialer(p)
	if err != nil {
		return nil, "", err
	}
	opts = append([]lwz.Option{
		lwz.WithLogger(logger),
		lwz.WithVersionScale(p.Scale()),
	}, opts...)
	session, err := lwz.NewSession(dialer, registry, opts...)
	if err != nil {
		return nil, info, err
	}
	return session, info, nil
}

// LoadRegistry reads the version files of the configured directory
func LoadRegistry(p config.ProtocolConfig) (*lwz.Registry, error) {
	opts := []lwz.RegistryOption{lwz.WithRegistryLogger(logger)}
	if p.LenientFieldKinds {
		opts = append(opts, lwz.WithLenientFieldKinds())
	}
	return lwz.LoadRegistry(p.VersionsDirectory, opts...)
}
