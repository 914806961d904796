// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the client-facing listeners and the
// event-framed connection adapters the lobby accepts clients over.
//
// The package defines two interfaces: [Listener] accepts inbound client
// connections (Serve, Address, Close), and [Conn] frames the wire into
// protocol events (ReadEvent, WriteEvent). Two adapters exist: a TCP
// adapter speaking newline-delimited JSON event frames, and a WebSocket
// adapter carrying one JSON event per text message.
//
// Both adapters support [Conn.Detach]: surrendering the duplicated
// connection descriptor plus the adapter kind so a match worker can
// rebuild an identical adapter around the transferred descriptor with
// [Rebuild]. This is why the WebSocket adapter is built on gobwas/ws,
// whose upgrade and frame I/O operate directly on a net.Conn: the
// framing layer can be reconstructed in another process after the
// handshake already happened here.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

// Adapter kinds carried through the handoff protocol so the worker can
// rebuild the right framing around a transferred descriptor.
const (
	KindTCP       = "tcp"
	KindWebSocket = "websocket"
)

// Event is one protocol frame, in either direction.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is an event-framed client connection.
type Conn interface {
	// ReadEvent blocks until the next protocol event arrives, the peer
	// disconnects, or a read deadline expires.
	ReadEvent() (*Event, error)

	// WriteEvent marshals data and sends one event frame. Writes on a
	// single Conn are serialized, so event order matches call order.
	WriteEvent(name string, data any) error

	// SetReadDeadline bounds the next ReadEvent. The zero time clears
	// the deadline.
	SetReadDeadline(t time.Time) error

	// Detach stops using the connection and surrenders a duplicated
	// descriptor for handoff, along with the adapter kind. The Conn is
	// unusable afterward; the caller owns the returned file. Detach
	// fails if framing data is already buffered, since a connection is
	// only transferable between complete frames.
	Detach() (*os.File, string, error)

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr

	// Close closes the underlying connection. Idempotent.
	Close() error
}

// Listener accepts client connections and wraps each in the
// transport-appropriate Conn adapter.
type Listener interface {
	// Serve accepts connections and hands each wrapped Conn to accept
	// on its own goroutine. Blocks until ctx is cancelled or Close is
	// called; a closed listener returns nil.
	Serve(ctx context.Context, accept func(Conn)) error

	// Address returns the bound address in "host:port" form.
	Address() string

	// Close shuts the listener down.
	Close() error
}

// filer is implemented by net.TCPConn, net.UnixConn, and friends.
type filer interface {
	File() (*os.File, error)
}

// dupFile duplicates the descriptor behind conn for handoff.
func dupFile(conn net.Conn) (*os.File, error) {
	f, ok := conn.(filer)
	if !ok {
		return nil, fmt.Errorf("connection type %T does not expose its descriptor", conn)
	}
	file, err := f.File()
	if err != nil {
		return nil, fmt.Errorf("duplicating connection descriptor: %w", err)
	}
	return file, nil
}

// Rebuild reconstructs a Conn of the given adapter kind around a
// descriptor received from a handoff. The worker side of the transfer
// calls this; the handshake (and for WebSocket, the upgrade) already
// happened in the lobby process.
func Rebuild(kind string, file *os.File) (Conn, error) {
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("rebuilding %s connection from descriptor: %w", kind, err)
	}
	switch kind {
	case KindTCP:
		return NewJSONConn(conn), nil
	case KindWebSocket:
		return newWebSocketConn(conn), nil
	default:
		conn.Close()
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}
