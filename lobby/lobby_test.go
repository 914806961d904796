// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

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

	"github.com/arena-foundation/arena/game"
	"github.com/arena-foundation/arena/gamelog"
	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/lib/testutil"
	"github.com/arena-foundation/arena/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type managerFunc func(ctx context.Context, commander game.Commander, emit game.DeltaSink) (*game.Outcome, error)

func (f managerFunc) Play(ctx context.Context, commander game.Commander, emit game.DeltaSink) (*game.Outcome, error) {
	return f(ctx, commander, emit)
}

// quickGame returns an outcome immediately: seat 0 wins.
func quickGame(ctx context.Context, commander game.Commander, emit game.DeltaSink) (*game.Outcome, error) {
	return &game.Outcome{Results: []game.PlayerResult{
		{Seat: 0, Won: true, Reason: "first"},
		{Seat: 1, Lost: true, Reason: "second"},
	}}, nil
}

// blockedGame runs until the session is killed.
func blockedGame(ctx context.Context, commander game.Commander, emit game.DeltaSink) (*game.Outcome, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testRegistry(t *testing.T, play managerFunc) *game.Registry {
	t.Helper()
	registry := game.NewRegistry()
	err := registry.Register(&game.Module{
		Name:            "TestGame",
		Aliases:         []string{"tg"},
		Version:         "1.2.3",
		RequiredPlayers: 2,
		Settings: game.NewSchema(
			game.SettingSpec{Name: "size", Kind: game.IntSetting, Default: "10", Min: 1, Max: 100},
		),
		NewManager: func(game.Settings) game.Manager { return play },
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	registry.Freeze()
	return registry
}

func newTestLobby(t *testing.T, play managerFunc, password string) (*Lobby, *clock.FakeClock, chan int) {
	t.Helper()
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	store, err := gamelog.NewStore(t.TempDir(), "", "", discardLogger())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	exits := make(chan int, 4)
	l := New(Config{
		Password: password,
		Mode:     ModeSerial,
		Registry: testRegistry(t, play),
		Store:    store,
		Clock:    clk,
		Logger:   discardLogger(),
		Exit:     func(code int) { exits <- code },
	})
	return l, clk, exits
}

// peer is the far side of one connected client's pipe.
type peer struct {
	conn   net.Conn
	events chan transport.Event
}

func connect(t *testing.T, l *Lobby) *peer {
	t.Helper()
	server, remote := net.Pipe()
	go l.accept(transport.NewJSONConn(server))

	p := &peer{conn: remote, events: make(chan transport.Event, 64)}
	go func() {
		defer close(p.events)
		scanner := bufio.NewScanner(remote)
		for scanner.Scan() {
			var event transport.Event
			if err := json.Unmarshal(scanner.Bytes(), &event); err == nil {
				p.events <- event
			}
		}
	}()
	t.Cleanup(func() { remote.Close() })
	return p
}

func (p *peer) send(t *testing.T, name string, data any) {
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

func (p *peer) await(t *testing.T, name string) transport.Event {
	t.Helper()
	for {
		event := testutil.RequireReceive(t, p.events, 5*time.Second, "waiting for %s event", name)
		if event.Event == name {
			return event
		}
	}
}

// awaitEviction polls until the room leaves the lobby's registries.
// Retirement crosses the session, room, and lobby goroutines, so a test
// cannot observe it synchronously.
func awaitEviction(t *testing.T, l *Lobby, gameAlias, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := l.GetRoom(gameAlias, id); err != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("room %s never evicted", id)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type lobbiedData struct {
	GameName    string `json:"gameName"`
	GameVersion string `json:"gameVersion"`
	Session     string `json:"session"`
}

func playRequestData(name, session string) map[string]any {
	return map[string]any{
		"gameName":         "TestGame",
		"requestedSession": session,
		"playerName":       name,
		"clientType":       "go",
	}
}

func TestPlayMatchmakesAndStartsRoom(t *testing.T) {
	l, clk, _ := newTestLobby(t, quickGame, "")

	alice := connect(t, l)
	bob := connect(t, l)

	alice.send(t, "play", playRequestData("alice", "*"))
	var aliceLobbied lobbiedData
	if err := json.Unmarshal(alice.await(t, "lobbied").Data, &aliceLobbied); err != nil {
		t.Fatalf("unmarshaling lobbied data: %v", err)
	}
	if aliceLobbied.GameName != "TestGame" || aliceLobbied.GameVersion != "1.2.3" {
		t.Errorf("lobbied = %+v, want TestGame 1.2.3", aliceLobbied)
	}
	if aliceLobbied.Session != "1" {
		t.Errorf("first room id = %q, want %q", aliceLobbied.Session, "1")
	}

	// The second "*" request joins the same open room rather than
	// creating another.
	bob.send(t, "play", playRequestData("bob", "*"))
	var bobLobbied lobbiedData
	if err := json.Unmarshal(bob.await(t, "lobbied").Data, &bobLobbied); err != nil {
		t.Fatalf("unmarshaling lobbied data: %v", err)
	}
	if bobLobbied.Session != aliceLobbied.Session {
		t.Errorf("bob joined room %s, want alice's room %s", bobLobbied.Session, aliceLobbied.Session)
	}

	alice.await(t, "start")
	bob.await(t, "start")
	alice.await(t, "over")
	bob.await(t, "over")

	clk.BlockUntilWaiters(1)
	clk.Advance(5 * time.Second)

	awaitEviction(t, l, "TestGame", aliceLobbied.Session)
}

func TestPlayRejectsJoinAfterRoomStarts(t *testing.T) {
	l, _, _ := newTestLobby(t, blockedGame, "")

	alice := connect(t, l)
	alice.send(t, "play", playRequestData("alice", "shared"))
	alice.await(t, "lobbied")
	bob := connect(t, l)
	bob.send(t, "play", playRequestData("bob", "shared"))
	// Bob's lobbied event is sent after the lobby has claimed the
	// completed room, so from here the room is already playing.
	bob.await(t, "lobbied")

	carol := connect(t, l)
	carol.send(t, "play", playRequestData("carol", "shared"))
	fatal := carol.await(t, "fatal")
	if !strings.Contains(string(fatal.Data), "already running") {
		t.Errorf("fatal data = %s, want an already-running complaint", fatal.Data)
	}
}

func TestPlayRejectsWrongPassword(t *testing.T) {
	l, _, _ := newTestLobby(t, quickGame, "sekrit")

	rejected := connect(t, l)
	data := playRequestData("mallory", "*")
	data["password"] = "wrong"
	rejected.send(t, "play", data)
	fatal := rejected.await(t, "fatal")
	if !strings.Contains(string(fatal.Data), "password") {
		t.Errorf("fatal data = %s, want a password complaint", fatal.Data)
	}

	accepted := connect(t, l)
	data = playRequestData("alice", "*")
	data["password"] = "sekrit"
	accepted.send(t, "play", data)
	accepted.await(t, "lobbied")
}

func TestPlayRejectsUnknownGame(t *testing.T) {
	l, _, _ := newTestLobby(t, quickGame, "")

	p := connect(t, l)
	p.send(t, "play", map[string]any{"gameName": "NoSuchGame"})
	p.await(t, "fatal")
}

func TestPlayRejectsDuplicateIndex(t *testing.T) {
	l, _, _ := newTestLobby(t, quickGame, "")

	alice := connect(t, l)
	data := playRequestData("alice", "shared")
	data["playerIndex"] = 1
	alice.send(t, "play", data)
	alice.await(t, "lobbied")

	bob := connect(t, l)
	data = playRequestData("bob", "shared")
	data["playerIndex"] = 1
	bob.send(t, "play", data)
	fatal := bob.await(t, "fatal")
	if !strings.Contains(string(fatal.Data), "taken") {
		t.Errorf("fatal data = %s, want a seat-taken complaint", fatal.Data)
	}
}

func TestPlayRejectsOutOfRangeIndex(t *testing.T) {
	l, _, _ := newTestLobby(t, quickGame, "")

	p := connect(t, l)
	data := playRequestData("alice", "*")
	data["playerIndex"] = 7
	p.send(t, "play", data)
	fatal := p.await(t, "fatal")
	if !strings.Contains(string(fatal.Data), "out of range") {
		t.Errorf("fatal data = %s, want an out-of-range complaint", fatal.Data)
	}
}

func TestPlayRejectsBadSettingsWithHelp(t *testing.T) {
	l, _, _ := newTestLobby(t, quickGame, "")

	p := connect(t, l)
	data := playRequestData("alice", "*")
	data["gameSettings"] = "size=bogus"
	p.send(t, "play", data)
	fatal := p.await(t, "fatal")
	if !strings.Contains(string(fatal.Data), "size") {
		t.Errorf("fatal data = %s, want the settings help mentioning size", fatal.Data)
	}
}

func TestAliasResolution(t *testing.T) {
	l, _, _ := newTestLobby(t, quickGame, "")

	p := connect(t, l)
	p.send(t, "alias", "tg")
	named := p.await(t, "named")
	var name string
	if err := json.Unmarshal(named.Data, &name); err != nil {
		t.Fatalf("unmarshaling named data: %v", err)
	}
	if name != "TestGame" {
		t.Errorf("named = %q, want %q", name, "TestGame")
	}

	unknown := connect(t, l)
	unknown.send(t, "alias", "nope")
	unknown.await(t, "fatal")
}

func TestRoomIDAllocationAndReuse(t *testing.T) {
	l, _, _ := newTestLobby(t, quickGame, "")

	first := connect(t, l)
	first.send(t, "play", playRequestData("alice", "new"))
	var firstLobbied lobbiedData
	json.Unmarshal(first.await(t, "lobbied").Data, &firstLobbied)
	if firstLobbied.Session != "1" {
		t.Fatalf("first room id = %q, want %q", firstLobbied.Session, "1")
	}

	second := connect(t, l)
	second.send(t, "play", playRequestData("bob", "new"))
	var secondLobbied lobbiedData
	json.Unmarshal(second.await(t, "lobbied").Data, &secondLobbied)
	if secondLobbied.Session != "2" {
		t.Fatalf("second room id = %q, want %q", secondLobbied.Session, "2")
	}

	// Evicting the most recently allocated room steps the counter back
	// so the id is reused.
	second.conn.Close()
	awaitEviction(t, l, "TestGame", "2")

	third := connect(t, l)
	third.send(t, "play", playRequestData("carol", "new"))
	var thirdLobbied lobbiedData
	json.Unmarshal(third.await(t, "lobbied").Data, &thirdLobbied)
	if thirdLobbied.Session != "2" {
		t.Errorf("room id after eviction = %q, want reused %q", thirdLobbied.Session, "2")
	}
}

func TestSetupCreatesPrivateRoom(t *testing.T) {
	l, _, _ := newTestLobby(t, quickGame, "")

	err := l.Setup(SetupRequest{GameAlias: "tg", RoomID: "arena-1", Password: "pw", Settings: "size=42"})
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if err := l.Setup(SetupRequest{GameAlias: "tg", RoomID: "arena-1"}); err == nil {
		t.Error("Setup() with a taken room id succeeded, want error")
	}
	if err := l.Setup(SetupRequest{GameAlias: "nope", RoomID: "arena-2"}); err == nil {
		t.Error("Setup() with an unknown alias succeeded, want error")
	}
	if err := l.Setup(SetupRequest{GameAlias: "tg", RoomID: "arena-3", Settings: "size=bogus"}); err == nil {
		t.Error("Setup() with invalid settings succeeded, want error")
	}

	// The private room requires its password.
	rejected := connect(t, l)
	rejected.send(t, "play", playRequestData("mallory", "arena-1"))
	rejected.await(t, "fatal")

	accepted := connect(t, l)
	data := playRequestData("alice", "arena-1")
	data["password"] = "pw"
	accepted.send(t, "play", data)
	accepted.await(t, "lobbied")

	room, err := l.GetRoom("tg", "arena-1")
	if err != nil {
		t.Fatalf("GetRoom() error: %v", err)
	}
	if got := room.Settings()["size"]; got != "42" {
		t.Errorf("arena room size = %q, want %q", got, "42")
	}
}

func TestShutDownIdleExitsImmediately(t *testing.T) {
	l, _, exits := newTestLobby(t, quickGame, "")

	idle := connect(t, l)
	// Give accept a moment to register the client.
	idle.send(t, "alias", "tg")
	idle.await(t, "named")

	l.ShutDown()

	idle.await(t, "fatal")
	code := testutil.RequireReceive(t, exits, 5*time.Second, "waiting for exit")
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestShutDownDrainsThenForceExits(t *testing.T) {
	l, _, exits := newTestLobby(t, blockedGame, "")

	alice := connect(t, l)
	bob := connect(t, l)
	alice.send(t, "play", playRequestData("alice", "*"))
	alice.await(t, "lobbied")
	bob.send(t, "play", playRequestData("bob", "*"))
	bob.await(t, "start")

	l.ShutDown()
	testutil.RequireNoReceive(t, exits, 200*time.Millisecond, "first shutdown with a running match must not exit")

	// Draining: new play requests are refused.
	late := connect(t, l)
	late.await(t, "fatal")

	l.ShutDown()
	code := testutil.RequireReceive(t, exits, 5*time.Second, "waiting for force exit")
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}
