// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBridge starts a WebSocket server standing in for a serial bridge. It
// sends two node lines, echoes the first message it receives and closes.
func newBridge(t *testing.T) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "host" || pass != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte("ACK:OK:1:2:3\nDO"))
		conn.WriteMessage(websocket.BinaryMessage, []byte("NE\n"))
		conn.WriteMessage(websocket.TextMessage, nil)

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, msg)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketConnection_Stream(t *testing.T) {
	u := newBridge(t)

	conn, err := OpenLink(LinkOptions{URL: u, Username: "host", Password: "secret"})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("CHECK\n"))
	require.NoError(t, err)

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "ACK:OK:1:2:3\nDONE\nCHECK\n", string(data))

	_, err = conn.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWebSocketConnection_AuthRejected(t *testing.T) {
	u := newBridge(t)

	_, err := OpenLink(LinkOptions{URL: u, Username: "host", Password: "wrong"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestOpenLink_Errors(t *testing.T) {
	_, err := OpenLink(LinkOptions{})
	assert.Error(t, err)

	_, err = OpenLink(LinkOptions{URL: "http://node"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestLinkOptions_String(t *testing.T) {
	assert.Equal(t, "Serial: /dev/ttyACM0 @ 115200 baud", LinkOptions{Port: "/dev/ttyACM0", Baud: 115200}.String())
	assert.Equal(t, "WebSocket: ws://node/ws", LinkOptions{Port: "/dev/ttyACM0", URL: "ws://node/ws"}.String())
}
