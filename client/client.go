// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package client wraps one connected peer: its transport connection,
// identity metadata, and the event streams its current owner observes.
//
// A Client is owned by exactly one of the lobby's unassigned set, a
// room, or a session at any time. Ownership moves one way (lobby →
// room → session/worker); the owner is whichever component currently
// receives from [Client.Incoming] and [Client.Lifecycle]. For a forked
// match, [Client.Detach] stops the read pump and surrenders the raw
// descriptor, after which no further events are delivered on this side
// of the process boundary.
package client

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/transport"
	"github.com/google/uuid"
)

// ConnEventType classifies a lifecycle event.
type ConnEventType int

const (
	// Disconnected means the peer went away (EOF, reset, protocol
	// violation).
	Disconnected ConnEventType = iota
	// TimedOut means the client's play timer expired while the game
	// was waiting on it.
	TimedOut
)

// ConnEvent is one entry in a client's lifecycle stream.
type ConnEvent struct {
	Type   ConnEventType
	Reason string
}

// Client is a connected peer (player or spectator).
type Client struct {
	// ID is the stable connection handle, assigned at accept time.
	ID uuid.UUID

	conn   transport.Conn
	logger *slog.Logger
	clk    clock.Clock

	incoming  chan *transport.Event
	lifecycle chan ConnEvent

	mu           sync.Mutex
	name         string
	kind         string
	index        int
	spectating   bool
	metaDeltas   bool
	disconnected bool
	timedOut     bool
	detaching    bool
	timer        *clock.Timer
	pumpDone     chan struct{}
	detachCh     chan struct{}
}

// New wraps a connection and starts its read pump. The pump delivers
// protocol events on Incoming until the peer disconnects or the client
// is detached.
func New(conn transport.Conn, logger *slog.Logger, clk clock.Clock) *Client {
	c := &Client{
		ID:        uuid.New(),
		conn:      conn,
		clk:       clk,
		incoming:  make(chan *transport.Event, 16),
		lifecycle: make(chan ConnEvent, 2),
		index:     -1,
		pumpDone:  make(chan struct{}),
		detachCh:  make(chan struct{}),
	}
	c.logger = logger.With("client", c.ID.String(), "remote", conn.RemoteAddr().String())
	go c.pump()
	return c
}

// pump reads protocol events until disconnect or detach. It is the only
// reader of the connection, which is what makes Detach safe: once the
// pump has exited, no goroutine touches the descriptor.
func (c *Client) pump() {
	defer close(c.pumpDone)
	defer close(c.incoming)

	for {
		event, err := c.conn.ReadEvent()
		if err != nil {
			c.mu.Lock()
			detaching := c.detaching
			if !detaching {
				c.disconnected = true
			}
			c.mu.Unlock()

			if detaching {
				return
			}
			if !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("client disconnected", "error", err)
			}
			c.lifecycle <- ConnEvent{Type: Disconnected, Reason: err.Error()}
			return
		}
		select {
		case c.incoming <- event:
		case <-c.detachCh:
			// Detach must not wait on a full incoming buffer.
			return
		}
	}
}

// Incoming is the stream of protocol events read from the peer. Closed
// when the peer disconnects or the client is detached. Exactly one
// owner receives from it at a time.
func (c *Client) Incoming() <-chan *transport.Event { return c.incoming }

// Lifecycle is the stream of disconnect/timeout events. The current
// owner drains it; after a handoff the lobby side must stop observing
// it entirely.
func (c *Client) Lifecycle() <-chan ConnEvent { return c.lifecycle }

// Send writes one protocol event to the peer.
func (c *Client) Send(name string, data any) error {
	return c.conn.WriteEvent(name, data)
}

// Disconnect sends a best-effort fatal notice with the given message,
// then closes the connection.
func (c *Client) Disconnect(message string) {
	if message != "" {
		c.conn.WriteEvent("fatal", map[string]string{"message": message})
	}
	c.conn.Close()
}

// Close closes the connection without a notice.
func (c *Client) Close() {
	c.conn.Close()
}

// Detach stops the read pump and surrenders the duplicated connection
// descriptor plus its transport kind for handoff to a worker process.
// After Detach returns, this process delivers no further events for
// the client.
func (c *Client) Detach() (*os.File, string, error) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil, "", errors.New("client already disconnected")
	}
	if c.detaching {
		c.mu.Unlock()
		return nil, "", errors.New("client already detached")
	}
	c.detaching = true
	c.mu.Unlock()

	// Interrupt the pump whether it is blocked reading the connection
	// or delivering to a full incoming buffer, then wait for it to
	// exit before touching the descriptor.
	close(c.detachCh)
	if err := c.conn.SetReadDeadline(time.Unix(0, 1)); err != nil {
		return nil, "", err
	}
	<-c.pumpDone

	return c.conn.Detach()
}

// StartTimer arms the client's play timer. If it expires before
// StopTimer, a TimedOut lifecycle event fires and the client is marked
// timed out. Arming replaces any previous timer.
func (c *Client) StartTimer(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clk.AfterFunc(d, func() {
		c.mu.Lock()
		c.timedOut = true
		c.mu.Unlock()
		// Non-blocking: after a handoff nobody on this side drains the
		// lifecycle stream, and a stale timer must not wedge the clock.
		select {
		case c.lifecycle <- ConnEvent{Type: TimedOut, Reason: "ran out of time"}:
		default:
		}
	})
}

// StopTimer cancels the play timer, if armed.
func (c *Client) StopTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// SetIdentity records the identity the client declared in its play
// request.
func (c *Client) SetIdentity(name, kind string, index int, spectating, metaDeltas bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
	c.kind = kind
	c.index = index
	c.spectating = spectating
	c.metaDeltas = metaDeltas
}

// SetIndex assigns the client's seat.
func (c *Client) SetIndex(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = index
}

// Name returns the display name ("" until the client declares one).
func (c *Client) Name() string { c.mu.Lock(); defer c.mu.Unlock(); return c.name }

// Kind returns the client kind/language tag.
func (c *Client) Kind() string { c.mu.Lock(); defer c.mu.Unlock(); return c.kind }

// Index returns the assigned player index, or -1 if unseated.
func (c *Client) Index() int { c.mu.Lock(); defer c.mu.Unlock(); return c.index }

// Spectating reports whether the client joined as a spectator.
func (c *Client) Spectating() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.spectating }

// MetaDeltas reports whether the client opted into meta-deltas.
func (c *Client) MetaDeltas() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.metaDeltas }

// IsDisconnected reports whether the peer has gone away.
func (c *Client) IsDisconnected() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.disconnected }

// IsTimedOut reports whether the play timer has ever expired.
func (c *Client) IsTimedOut() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.timedOut }
