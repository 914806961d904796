// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/arena-foundation/arena/client"
	"github.com/arena-foundation/arena/game"
	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/lib/testutil"
	"github.com/arena-foundation/arena/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedPeer is the far side of one client's pipe: a reader goroutine
// collecting event frames plus a send helper for scripted replies.
type scriptedPeer struct {
	conn   net.Conn
	events chan transport.Event
}

func newScriptedPeer(conn net.Conn) *scriptedPeer {
	p := &scriptedPeer{conn: conn, events: make(chan transport.Event, 64)}
	go func() {
		defer close(p.events)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var event transport.Event
			if err := json.Unmarshal(scanner.Bytes(), &event); err == nil {
				p.events <- event
			}
		}
	}()
	return p
}

func (p *scriptedPeer) send(t *testing.T, name string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshaling %s data: %v", name, err)
	}
	frame, err := json.Marshal(transport.Event{Event: name, Data: raw})
	if err != nil {
		t.Fatalf("marshaling %s frame: %v", name, err)
	}
	if _, err := p.conn.Write(append(frame, '\n')); err != nil {
		t.Fatalf("writing %s frame: %v", name, err)
	}
}

// await drains the peer's event stream until a frame with the given
// name arrives.
func (p *scriptedPeer) await(t *testing.T, name string) transport.Event {
	t.Helper()
	for {
		event := testutil.RequireReceive(t, p.events, 5*time.Second, "waiting for %s event", name)
		if event.Event == name {
			return event
		}
	}
}

// collectUntil gathers every frame up to and excluding the named one.
func (p *scriptedPeer) collectUntil(t *testing.T, name string) []transport.Event {
	t.Helper()
	var collected []transport.Event
	for {
		event := testutil.RequireReceive(t, p.events, 5*time.Second, "collecting until %s event", name)
		if event.Event == name {
			return collected
		}
		collected = append(collected, event)
	}
}

func newSessionClient(t *testing.T, clk clock.Clock, name string, index int, spectating, metaDeltas bool) (*client.Client, *scriptedPeer) {
	t.Helper()
	server, peer := net.Pipe()
	c := client.New(transport.NewJSONConn(server), discardLogger(), clk)
	c.SetIdentity(name, "go", index, spectating, metaDeltas)
	t.Cleanup(func() {
		c.Close()
		peer.Close()
	})
	return c, newScriptedPeer(peer)
}

// managerFunc adapts a function to game.Manager for scripted games.
type managerFunc func(ctx context.Context, commander game.Commander, emit game.DeltaSink) (*game.Outcome, error)

func (f managerFunc) Play(ctx context.Context, commander game.Commander, emit game.DeltaSink) (*game.Outcome, error) {
	return f(ctx, commander, emit)
}

func scriptedModule(required int, play managerFunc) *game.Module {
	return &game.Module{
		Name:            "Scripted",
		Version:         "0.0.0",
		RequiredPlayers: required,
		NewManager:      func(game.Settings) game.Manager { return play },
	}
}

func TestSeatingHonorsDeclaredIndices(t *testing.T) {
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	a, _ := newSessionClient(t, clk, "alice", -1, false, false)
	b, _ := newSessionClient(t, clk, "bob", 1, false, false)
	c, _ := newSessionClient(t, clk, "carol", -1, false, false)
	sp, _ := newSessionClient(t, clk, "watcher", -1, true, false)

	s, err := New(Config{
		ID:      "seat-test",
		Module:  scriptedModule(3, nil),
		Clients: []*client.Client{a, b, c, sp},
		Clock:   clk,
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	playing := s.Playing()
	if len(playing) != 3 {
		t.Fatalf("len(Playing()) = %d, want 3", len(playing))
	}
	want := []*client.Client{a, b, c}
	for i, wantClient := range want {
		if playing[i] != wantClient {
			t.Errorf("seat %d = %s, want %s", i, playing[i].Name(), wantClient.Name())
		}
	}
	if got := a.Index(); got != 0 {
		t.Errorf("alice index = %d, want 0", got)
	}
	if got := c.Index(); got != 2 {
		t.Errorf("carol index = %d, want 2", got)
	}
}

func TestSeatingRequiresExactPlayerCount(t *testing.T) {
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	a, _ := newSessionClient(t, clk, "alice", -1, false, false)

	_, err := New(Config{
		ID:      "short-test",
		Module:  scriptedModule(2, nil),
		Clients: []*client.Client{a},
		Clock:   clk,
		Logger:  discardLogger(),
	})
	if err == nil {
		t.Fatal("New() with one player for a two-player game succeeded, want error")
	}
}

func TestTimeoutDuration(t *testing.T) {
	tests := []struct {
		name      string
		players   int
		perPlayer time.Duration
		want      time.Duration
	}{
		{"zero budget falls back", 2, 0, fallbackTimeoutMS * time.Millisecond},
		{"negative budget falls back", 2, -5 * time.Millisecond, fallbackTimeoutMS * time.Millisecond},
		{"positive budget doubled plus padding", 2, 10 * time.Millisecond, 40*time.Millisecond + timeoutPaddingMS*time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := timeoutDuration(tt.players, tt.perPlayer); got != tt.want {
				t.Errorf("timeoutDuration(%d, %v) = %v, want %v", tt.players, tt.perPlayer, got, tt.want)
			}
		})
	}
}

func TestSessionCompletesAndReportsOutcome(t *testing.T) {
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	a, peerA := newSessionClient(t, clk, "alice", -1, false, false)
	b, peerB := newSessionClient(t, clk, "bob", -1, false, false)

	mod := scriptedModule(2, func(ctx context.Context, commander game.Commander, emit game.DeltaSink) (*game.Outcome, error) {
		emit(game.Delta{Game: json.RawMessage(`{"stones":21}`)})
		reply, err := commander.Order(ctx, 0, "pick", 3)
		if err != nil {
			return nil, err
		}
		var picked int
		if err := json.Unmarshal(reply, &picked); err != nil {
			return nil, err
		}
		return &game.Outcome{Results: []game.PlayerResult{
			{Seat: 0, Won: true, Reason: "picked the last stone"},
			{Seat: 1, Lost: true, Reason: "opponent picked the last stone"},
		}}, nil
	})

	s, err := New(Config{
		ID:      "complete-test",
		Module:  mod,
		Clients: []*client.Client{a, b},
		Clock:   clk,
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.Start()

	peerA.await(t, "start")
	peerB.await(t, "start")
	peerA.await(t, "delta")
	peerB.await(t, "delta")

	order := peerA.await(t, "order")
	var got orderEvent
	if err := json.Unmarshal(order.Data, &got); err != nil {
		t.Fatalf("unmarshaling order data: %v", err)
	}
	if got.Name != "pick" {
		t.Errorf("order name = %q, want %q", got.Name, "pick")
	}
	peerA.send(t, "finished", map[string]any{"order": "pick", "result": 3})

	peerA.await(t, "over")
	peerB.await(t, "over")

	clk.BlockUntilWaiters(1)
	clk.Advance(2 * endDelay)

	result := testutil.RequireReceive(t, s.Ended(), 5*time.Second, "waiting for session end")
	if result.Err != nil {
		t.Fatalf("session ended with error: %v", result.Err)
	}
	g := result.Gamelog
	if g == nil {
		t.Fatal("session ended without a gamelog")
	}
	if g.GameName != "Scripted" || g.SessionID != "complete-test" {
		t.Errorf("gamelog identity = %s/%s, want Scripted/complete-test", g.GameName, g.SessionID)
	}
	if len(g.Deltas) != 1 {
		t.Errorf("len(Deltas) = %d, want 1", len(g.Deltas))
	}
	if len(g.Winners) != 1 || g.Winners[0].Name != "alice" {
		t.Errorf("winners = %v, want alice alone", g.Winners)
	}
	if len(g.Losers) != 1 || g.Losers[0].Name != "bob" {
		t.Errorf("losers = %v, want bob alone", g.Losers)
	}
	if len(result.ClientInfos) != 2 {
		t.Fatalf("len(ClientInfos) = %d, want 2", len(result.ClientInfos))
	}
	if !result.ClientInfos[0].Won || result.ClientInfos[1].Won {
		t.Errorf("client infos won flags = %v/%v, want true/false",
			result.ClientInfos[0].Won, result.ClientInfos[1].Won)
	}
}

func TestMetaDeltaGating(t *testing.T) {
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	a, peerA := newSessionClient(t, clk, "alice", -1, false, true)
	b, peerB := newSessionClient(t, clk, "bob", -1, false, false)
	sp, peerSp := newSessionClient(t, clk, "watcher", -1, true, false)

	mod := scriptedModule(2, func(ctx context.Context, commander game.Commander, emit game.DeltaSink) (*game.Outcome, error) {
		emit(game.Delta{Game: json.RawMessage(`{"turn":0}`), Meta: json.RawMessage(`{"tick":1}`)})
		emit(game.Delta{Meta: json.RawMessage(`{"tick":2}`)})
		emit(game.Delta{})
		return &game.Outcome{Results: []game.PlayerResult{
			{Seat: 0, Won: true}, {Seat: 1, Lost: true},
		}}, nil
	})

	s, err := New(Config{
		ID:      "gating-test",
		Module:  mod,
		Clients: []*client.Client{a, b, sp},
		Clock:   clk,
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.Start()

	countDeltas := func(events []transport.Event) (deltas, metaDeltas int) {
		for _, event := range events {
			switch event.Event {
			case "delta":
				deltas++
			case "meta-delta":
				metaDeltas++
			}
		}
		return deltas, metaDeltas
	}

	aDeltas, aMeta := countDeltas(peerA.collectUntil(t, "over"))
	bDeltas, bMeta := countDeltas(peerB.collectUntil(t, "over"))
	spDeltas, spMeta := countDeltas(peerSp.collectUntil(t, "over"))

	if aDeltas != 0 || aMeta != 2 {
		t.Errorf("meta-opted player got %d deltas, %d meta-deltas, want 0, 2", aDeltas, aMeta)
	}
	if bDeltas != 1 || bMeta != 0 {
		t.Errorf("plain player got %d deltas, %d meta-deltas, want 1, 0", bDeltas, bMeta)
	}
	if spDeltas != 1 || spMeta != 0 {
		t.Errorf("spectator got %d deltas, %d meta-deltas, want 1, 0", spDeltas, spMeta)
	}

	clk.BlockUntilWaiters(1)
	clk.Advance(2 * endDelay)
	result := testutil.RequireReceive(t, s.Ended(), 5*time.Second, "waiting for session end")
	if result.Err != nil {
		t.Fatalf("session ended with error: %v", result.Err)
	}
}

func TestSessionTimeoutKills(t *testing.T) {
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	a, peerA := newSessionClient(t, clk, "alice", -1, false, false)
	b, peerB := newSessionClient(t, clk, "bob", -1, false, false)

	mod := scriptedModule(2, func(ctx context.Context, commander game.Commander, emit game.DeltaSink) (*game.Outcome, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	s, err := New(Config{
		ID:              "timeout-test",
		Module:          mod,
		Clients:         []*client.Client{a, b},
		PerPlayerBudget: 25 * time.Millisecond,
		Clock:           clk,
		Logger:          discardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.Start()

	peerA.await(t, "start")
	peerB.await(t, "start")

	// 2 players x 25ms x 2 = 100ms budget, plus 60s padding.
	clk.Advance(61 * time.Second)

	peerA.await(t, "fatal")
	peerB.await(t, "fatal")

	clk.BlockUntilWaiters(1)
	clk.Advance(2 * endDelay)

	result := testutil.RequireReceive(t, s.Ended(), 5*time.Second, "waiting for session end")
	if result.Err == nil {
		t.Fatal("timed-out session ended without error")
	}
	if !strings.Contains(result.Err.Error(), "timed out") {
		t.Errorf("error = %q, want a timeout message", result.Err)
	}
	if result.Gamelog != nil {
		t.Error("timed-out session produced a gamelog")
	}
}

func TestPlayerDisconnectFailsSession(t *testing.T) {
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	a, peerA := newSessionClient(t, clk, "alice", -1, false, false)
	b, peerB := newSessionClient(t, clk, "bob", -1, false, false)

	mod := scriptedModule(2, func(ctx context.Context, commander game.Commander, emit game.DeltaSink) (*game.Outcome, error) {
		_, err := commander.Order(ctx, 0, "pick", 3)
		return nil, err
	})

	s, err := New(Config{
		ID:      "disconnect-test",
		Module:  mod,
		Clients: []*client.Client{a, b},
		Clock:   clk,
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.Start()

	peerA.await(t, "order")
	peerA.conn.Close()

	peerB.await(t, "fatal")

	clk.BlockUntilWaiters(1)
	clk.Advance(2 * endDelay)

	result := testutil.RequireReceive(t, s.Ended(), 5*time.Second, "waiting for session end")
	if result.Err == nil {
		t.Fatal("session with a disconnected player ended without error")
	}
}
