// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// PasswordEnv holds the WebSocket Basic auth password
const PasswordEnv = "FLARE_PASSWORD"

const (
	wsHandshakeTimeout = 10 * time.Second
	wsDialTimeout      = 15 * time.Second
)

// Connection is a host link: the byte stream carrying protocol lines between
// a node and its host.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// LinkOptions selects a host link. URL wins over Port when both are set.
type LinkOptions struct {
	Port string
	Baud int

	URL         string
	Username    string
	Password    string
	InsecureTLS bool
}

// String describes the link for status lines
func (o LinkOptions) String() string {
	if o.URL != "" {
		return fmt.Sprintf("WebSocket: %s", o.URL)
	}
	return fmt.Sprintf("Serial: %s @ %d baud", o.Port, o.Baud)
}

func linkOptionsFromFlags() LinkOptions {
	return LinkOptions{
		Port:        portName,
		Baud:        baudRate,
		URL:         wsURL,
		Username:    wsUsername,
		InsecureTLS: wsNoSSLVerify,
	}
}

// OpenLink opens the host link described by o
func OpenLink(o LinkOptions) (Connection, error) {
	switch {
	case o.URL != "":
		return OpenWebSocketConnection(o)
	case o.Port != "":
		return OpenSerialConnection(o.Port, o.Baud)
	default:
		return nil, fmt.Errorf("either --port or --url must be specified")
	}
}

// resolveLink reads the link flags and, for an authenticated WebSocket,
// the password, so reconnects can reuse the result without prompting
func resolveLink() (LinkOptions, error) {
	opts := linkOptionsFromFlags()
	if opts.URL != "" && opts.Username != "" {
		pw, err := GetPassword()
		if err != nil {
			return LinkOptions{}, err
		}
		opts.Password = pw
	}
	return opts, nil
}

// OpenConnection opens the host link selected by the root flags
func OpenConnection() (Connection, string, error) {
	opts, err := resolveLink()
	if err != nil {
		return nil, "", err
	}

	conn, err := OpenLink(opts)
	if err != nil {
		return nil, "", err
	}
	return conn, opts.String(), nil
}

//////////////////////////////////////////////////////////////
// Serial
//////////////////////////////////////////////////////////////

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialConnection) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *SerialConnection) Close() error                { return s.port.Close() }

// OpenSerialConnection opens a serial port at 8N1 and drops whatever the
// port buffered before we attached, so the first line read is a whole one
func OpenSerialConnection(name string, baud int) (Connection, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush serial port %s: %w", name, err)
	}

	return &SerialConnection{port: port}, nil
}

//////////////////////////////////////////////////////////////
// WebSocket
//////////////////////////////////////////////////////////////

// WebSocketConnection carries the line stream over WebSocket messages.
// Message boundaries are ignored on read: text and binary messages are
// concatenated into one byte stream. Writes go out as text messages.
type WebSocketConnection struct {
	conn   *websocket.Conn
	msg    io.Reader
	closed bool

	writeMu sync.Mutex
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	for {
		if w.msg == nil {
			_, r, err := w.conn.NextReader()
			if err != nil {
				w.closed = true
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			w.msg = r
		}

		n, err := w.msg.Read(p)
		if errors.Is(err, io.EOF) {
			w.msg = nil
			err = nil
		}
		if err != nil {
			w.closed = true
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenWebSocketConnection dials o.URL, sending HTTP Basic auth when both
// username and password are set
func OpenWebSocketConnection(o LinkOptions) (Connection, error) {
	u, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: wsHandshakeTimeout,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: o.InsecureTLS}
	}

	headers := http.Header{}
	if o.Username != "" && o.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(o.Username + ":" + o.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsDialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword reads the password from PasswordEnv, or prompts on stderr
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	if term.IsTerminal(int(syscall.Stdin)) {
		pw, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

//////////////////////////////////////////////////////////////
// Stdio
//////////////////////////////////////////////////////////////

// stdioConnection serves the host link on the process's stdin and stdout
type stdioConnection struct{}

func (stdioConnection) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioConnection) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioConnection) Close() error                { return nil }
