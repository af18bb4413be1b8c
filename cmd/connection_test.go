// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

var upgrader = websocket.Upgrader{}

// bridgeServer answers like a controller behind a WebSocket serial bridge
func bridgeServer(t *testing.T) *httptest.Server {
	t.Helper()
	version := []byte{lwz.GetVersion}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var reply []byte
			switch {
			case bytes.Equal(msg, []byte{lwz.StartComm}):
				reply = []byte{lwz.Escape}
			case bytes.Equal(msg, lwz.EncodeRequest(version)):
				reply = []byte{lwz.Escape, lwz.StartComm}
			case bytes.Equal(msg, []byte{lwz.Escape}):
				reply = lwz.EncodeResponse(version, []byte{0x01, 0xB7})
			case bytes.Equal(msg, []byte{lwz.Escape, lwz.StartComm}):
				reply = []byte{lwz.Escape}
			case bytes.Equal(msg, []byte("silent")):
				continue
			default:
				reply = msg
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURLFor(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketLink_VersionQuery(t *testing.T) {
	srv := bridgeServer(t)

	dials := 0
	dialer := lwz.DialerFunc(func() (lwz.Link, error) {
		dials++
		return OpenWebSocketLink(wsURLFor(srv), "", "", false)
	})

	version, err := lwz.DetectVersion(dialer, lwz.WithVersionScale(2), lwz.WithCooldown(0))
	require.NoError(t, err)
	assert.Equal(t, "4.39", version)
	assert.Equal(t, 1, dials)
}

func TestWebSocketLink_TimeoutKeepsConnection(t *testing.T) {
	srv := bridgeServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(wsURLFor(srv), nil)
	require.NoError(t, err)
	link := newWebSocketLink(conn, 50*time.Millisecond)
	defer link.Close()

	_, err = link.Write([]byte("silent"))
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := link.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	// the link still works after the silent read
	_, err = link.Write([]byte("hello"))
	require.NoError(t, err)
	n, err = link.Read(buf[:3])
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf[:n]))
	n, err = link.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(buf[:n]))
}

func TestWebSocketLink_ReadAfterClose(t *testing.T) {
	srv := bridgeServer(t)
	link, err := OpenWebSocketLink(wsURLFor(srv), "", "", false)
	require.NoError(t, err)

	require.NoError(t, link.Close())
	assert.NoError(t, link.Close())

	_, err = link.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestOpenWebSocketLink_BadScheme(t *testing.T) {
	_, err := OpenWebSocketLink("http://localhost/bridge", "", "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestGetPassword_FromEnvironment(t *testing.T) {
	t.Setenv("HEATPUMP_PASSWORD", "s3cret")
	pw, err := GetPassword()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)
}
