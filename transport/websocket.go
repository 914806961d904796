// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Compile-time interface checks.
var (
	_ Listener = (*WebSocketListener)(nil)
	_ Conn     = (*webSocketConn)(nil)
)

// WebSocketListener accepts WebSocket clients. The upgrade is performed
// directly on the accepted TCP connection (no net/http server in the
// middle), which keeps the raw descriptor in hand for later handoff.
type WebSocketListener struct {
	listener net.Listener
}

// NewWebSocketListener binds a WebSocket listener on the specified
// address. Use ":0" for a random available port.
func NewWebSocketListener(address string) (*WebSocketListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &WebSocketListener{listener: listener}, nil
}

// Serve accepts connections, upgrades each to a WebSocket, and hands
// the wrapped Conn to accept. Connections that fail the upgrade are
// dropped silently; they were never clients.
func (l *WebSocketListener) Serve(ctx context.Context, accept func(Conn)) error {
	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			if _, err := ws.Upgrade(conn); err != nil {
				conn.Close()
				return
			}
			accept(newWebSocketConn(conn))
		}()
	}
}

// Address returns the bound address in "host:port" format.
func (l *WebSocketListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the listener.
func (l *WebSocketListener) Close() error {
	return l.listener.Close()
}

// webSocketConn frames protocol events as one JSON text message each.
// Frame I/O goes straight through the net.Conn, so there is no
// adapter-held buffer between complete messages and the descriptor can
// be detached for handoff.
type webSocketConn struct {
	conn     net.Conn
	readMu   sync.Mutex
	writeMu  sync.Mutex
	closeMu  sync.Mutex
	closed   bool
	detached bool
}

func newWebSocketConn(conn net.Conn) *webSocketConn {
	return &webSocketConn{conn: conn}
}

func (c *webSocketConn) ReadEvent() (*Event, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	payload, err := wsutil.ReadClientText(c.conn)
	if err != nil {
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("malformed event frame: %w", err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("event frame missing event name")
	}
	return &event, nil
}

func (c *webSocketConn) WriteEvent(name string, data any) error {
	payload, err := marshalEvent(name, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerText(c.conn, payload)
}

func (c *webSocketConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *webSocketConn) Detach() (*os.File, string, error) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed || c.detached {
		return nil, "", fmt.Errorf("connection already closed or detached")
	}

	file, err := dupFile(c.conn)
	if err != nil {
		return nil, "", err
	}
	c.detached = true
	c.conn.Close()
	return file, KindWebSocket, nil
}

func (c *webSocketConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close sends a best-effort close frame and closes the connection.
func (c *webSocketConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed || c.detached {
		return nil
	}
	c.closed = true

	c.writeMu.Lock()
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	ws.WriteFrame(c.conn, frame)
	c.writeMu.Unlock()

	return c.conn.Close()
}
