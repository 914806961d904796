// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Conn     = (*jsonConn)(nil)
)

// TCPListener accepts raw TCP clients speaking newline-delimited JSON
// event frames.
type TCPListener struct {
	listener net.Listener
}

// NewTCPListener binds a TCP listener on the specified address. Use
// ":0" for a random available port.
func NewTCPListener(address string) (*TCPListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listener: listener}, nil
}

// Serve accepts TCP connections, wrapping each in the JSON-lines
// adapter. Blocks until ctx is cancelled or Close is called.
func (l *TCPListener) Serve(ctx context.Context, accept func(Conn)) error {
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
		go accept(NewJSONConn(conn))
	}
}

// Address returns the bound TCP address in "host:port" format.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the TCP listener.
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// jsonConn frames a byte stream into newline-delimited JSON events.
type jsonConn struct {
	conn     net.Conn
	reader   *bufio.Reader
	writeMu  sync.Mutex
	closeMu  sync.Mutex
	closed   bool
	detached bool
}

// NewJSONConn wraps a byte-stream connection in the newline-delimited
// JSON event adapter. Exported for tests and for the worker's rebuild
// path.
func NewJSONConn(conn net.Conn) Conn {
	return &jsonConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (c *jsonConn) ReadEvent() (*Event, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(line, &event); err != nil {
		return nil, fmt.Errorf("malformed event frame: %w", err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("event frame missing event name")
	}
	return &event, nil
}

func (c *jsonConn) WriteEvent(name string, data any) error {
	payload, err := marshalEvent(name, data)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(payload)
	return err
}

func (c *jsonConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *jsonConn) Detach() (*os.File, string, error) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed || c.detached {
		return nil, "", fmt.Errorf("connection already closed or detached")
	}
	if buffered := c.reader.Buffered(); buffered > 0 {
		return nil, "", fmt.Errorf("cannot detach with %d bytes of a partial frame buffered", buffered)
	}

	file, err := dupFile(c.conn)
	if err != nil {
		return nil, "", err
	}
	c.detached = true
	c.conn.Close()
	return file, KindTCP, nil
}

func (c *jsonConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *jsonConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed || c.detached {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func marshalEvent(name string, data any) ([]byte, error) {
	event := Event{Event: name}
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s event: %w", name, err)
		}
		event.Data = encoded
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event frame: %w", name, err)
	}
	return payload, nil
}
