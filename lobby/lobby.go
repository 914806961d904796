// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package lobby is the connection and match orchestration layer: it
// accepts clients over the configured transports, matchmakes them into
// rooms, launches full rooms, and coordinates graceful shutdown.
//
// The lobby owns every client that has not yet been handed to a
// started room. Per-connection goroutines feed a mutex-guarded
// coordinator; no room or client state is shared with worker
// processes.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/arena-foundation/arena/client"
	"github.com/arena-foundation/arena/game"
	"github.com/arena-foundation/arena/gamelog"
	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/room"
	"github.com/arena-foundation/arena/transport"
)

// Match execution modes.
const (
	ModeSerial = "serial"
	ModeForked = "forked"
)

// sharedConstants are the protocol constants announced to every client
// in the lobbied event, so client frameworks decode deltas the same
// way the server encodes them.
var sharedConstants = map[string]string{
	"DELTA_REMOVED":     "&RM",
	"DELTA_LIST_LENGTH": "&LEN",
}

// Config carries the lobby's dependencies and settings.
type Config struct {
	// TCPAddress and WSAddress are the listen addresses, one per
	// transport.
	TCPAddress string
	WSAddress  string

	// Password, when non-empty, must be supplied verbatim by every
	// play request.
	Password string

	// Mode selects where matches run: ModeSerial in-process or
	// ModeForked in a worker process.
	Mode string

	// WorkerBinary is the arena-worker executable for forked mode.
	WorkerBinary string

	// DebugPort is forwarded to workers as a debugger hint.
	DebugPort int

	// PerPlayerBudget is the wall-clock budget per player per match.
	PerPlayerBudget time.Duration

	// Registry is the immutable game module table.
	Registry *game.Registry

	// Store persists gamelogs.
	Store *gamelog.Store

	Clock  clock.Clock
	Logger *slog.Logger

	// Exit terminates the process. Tests inject a recorder; nil means
	// os.Exit.
	Exit func(code int)
}

// Lobby is the matchmaking coordinator.
type Lobby struct {
	cfg      Config
	registry *game.Registry
	store    *gamelog.Store
	clk      clock.Clock
	logger   *slog.Logger
	exit     func(code int)

	mu           sync.Mutex
	listeners    []transport.Listener
	unassigned   map[uuid.UUID]*client.Client
	released     map[uuid.UUID]chan struct{}
	rooms        map[string]map[string]room.Room
	roomsPlaying map[string]map[string]room.Room
	clientRooms  map[uuid.UUID]room.Room
	nextID       map[string]int
	draining     bool
}

// New builds a lobby. The registry must already be frozen.
func New(cfg Config) *Lobby {
	exit := cfg.Exit
	if exit == nil {
		exit = os.Exit
	}
	l := &Lobby{
		cfg:          cfg,
		registry:     cfg.Registry,
		store:        cfg.Store,
		clk:          cfg.Clock,
		logger:       cfg.Logger,
		exit:         exit,
		unassigned:   make(map[uuid.UUID]*client.Client),
		released:     make(map[uuid.UUID]chan struct{}),
		rooms:        make(map[string]map[string]room.Room),
		roomsPlaying: make(map[string]map[string]room.Room),
		clientRooms:  make(map[uuid.UUID]room.Room),
		nextID:       make(map[string]int),
	}
	for _, name := range cfg.Registry.Names() {
		l.rooms[name] = make(map[string]room.Room)
		l.roomsPlaying[name] = make(map[string]room.Room)
		// Auto-created room ids count from 1.
		l.nextID[name] = 1
	}
	return l
}

// InitializeListeners binds one TCP and one WebSocket listener and
// starts serving connections. An address already in use is diagnosed
// as a likely duplicate server; any bind failure is returned for the
// caller to treat as fatal.
func (l *Lobby) InitializeListeners(ctx context.Context) error {
	tcp, err := transport.NewTCPListener(l.cfg.TCPAddress)
	if err != nil {
		return diagnoseBind("tcp", l.cfg.TCPAddress, err)
	}
	ws, err := transport.NewWebSocketListener(l.cfg.WSAddress)
	if err != nil {
		tcp.Close()
		return diagnoseBind("websocket", l.cfg.WSAddress, err)
	}

	l.mu.Lock()
	l.listeners = []transport.Listener{tcp, ws}
	l.mu.Unlock()

	for _, listener := range []transport.Listener{tcp, ws} {
		listener := listener
		l.logger.Info("listening", "address", listener.Address())
		go func() {
			if err := listener.Serve(ctx, l.accept); err != nil {
				l.logger.Error("listener stopped", "address", listener.Address(), "error", err)
			}
		}()
	}
	return nil
}

func diagnoseBind(kind, address string, err error) error {
	if errors.Is(err, syscall.EADDRINUSE) {
		return fmt.Errorf("binding %s listener on %s: %w (is another arena-server already running?)",
			kind, address, err)
	}
	return fmt.Errorf("binding %s listener on %s: %w", kind, address, err)
}

// accept wraps a new connection and starts watching it. Runs on the
// listener's per-connection goroutine.
func (l *Lobby) accept(conn transport.Conn) {
	c := client.New(conn, l.logger, l.clk)
	released := make(chan struct{})

	l.mu.Lock()
	if l.draining {
		l.mu.Unlock()
		c.Disconnect("server is shutting down")
		return
	}
	l.unassigned[c.ID] = c
	l.released[c.ID] = released
	l.mu.Unlock()

	l.logger.Debug("client connected", "client", c.ID)
	go l.watch(c, released)
}

// watch observes one client's events until it disconnects or its room
// starts and the lobby releases it.
func (l *Lobby) watch(c *client.Client, released chan struct{}) {
	incoming := c.Incoming()
	for {
		// A started room releases its clients; stop before touching
		// another event that now belongs to the match.
		select {
		case <-released:
			return
		default:
		}
		select {
		case <-released:
			return
		case event, ok := <-incoming:
			if !ok {
				// Stream closed; the disconnect arrives on Lifecycle.
				incoming = nil
				continue
			}
			switch event.Event {
			case "play":
				l.HandlePlay(c, event.Data)
			case "alias":
				l.HandleAlias(c, event.Data)
			default:
				l.logger.Debug("ignoring unexpected event", "client", c.ID, "event", event.Event)
			}
		case lifecycleEvent := <-c.Lifecycle():
			l.ClientDisconnected(c, lifecycleEvent.Reason)
			return
		}
	}
}

// GameNameForAlias resolves an alias to the canonical game name.
func (l *Lobby) GameNameForAlias(alias string) (string, error) {
	return l.registry.CanonicalName(alias)
}

// GetRoom looks up a room by game alias and id, started or not.
func (l *Lobby) GetRoom(gameAlias, id string) (room.Room, error) {
	name, err := l.registry.CanonicalName(gameAlias)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.rooms[name][id]; ok {
		return r, nil
	}
	if r, ok := l.roomsPlaying[name][id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("no room %s for game %s", id, name)
}

// SetupRequest pre-creates a private room for out-of-band (arena) use.
type SetupRequest struct {
	GameAlias string `json:"gameName"`
	RoomID    string `json:"session"`
	Password  string `json:"password"`
	Settings  string `json:"gameSettings"`
}

// Setup creates and configures a private room: password-guarded, with
// validated settings. Fails on an unknown alias, invalid settings, or
// a taken room id.
func (l *Lobby) Setup(req SetupRequest) error {
	module, err := l.registry.Module(req.GameAlias)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.rooms[module.Name][req.RoomID]; taken {
		return fmt.Errorf("room %s for game %s already exists", req.RoomID, module.Name)
	}
	if _, taken := l.roomsPlaying[module.Name][req.RoomID]; taken {
		return fmt.Errorf("room %s for game %s is already playing", req.RoomID, module.Name)
	}

	r := l.newRoomLocked(module, req.RoomID, req.Password)
	if req.Settings != "" {
		if err := r.AddGameSettings(req.Settings); err != nil {
			return fmt.Errorf("invalid settings for game %s: %w", module.Name, err)
		}
	}
	l.rooms[module.Name][req.RoomID] = r
	l.logger.Info("arena room created", "game", module.Name, "room", req.RoomID)
	return nil
}

// GetOrCreateRoom resolves a room for a play request: "*" joins any
// open room of the game (else creates one), "new" always creates, and
// an explicit id joins that room if it is joinable or creates it.
func (l *Lobby) GetOrCreateRoom(gameAlias, requestedID string) (room.Room, error) {
	module, err := l.registry.Module(gameAlias)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getOrCreateRoomLocked(module, requestedID)
}

// getOrCreateRoomLocked is GetOrCreateRoom inside the lobby's critical
// section, so a play request can resolve, join, and decide the start
// without releasing l.mu. Caller holds l.mu.
func (l *Lobby) getOrCreateRoomLocked(module *game.Module, requestedID string) (room.Room, error) {
	switch requestedID {
	case "*", "":
		ids := make([]string, 0, len(l.rooms[module.Name]))
		for id := range l.rooms[module.Name] {
			ids = append(ids, id)
		}
		// Numeric ids compare by value so room 2 fills before room 10;
		// named rooms sort after them, lexically.
		sort.Slice(ids, func(i, j int) bool {
			a, aErr := strconv.Atoi(ids[i])
			b, bErr := strconv.Atoi(ids[j])
			switch {
			case aErr == nil && bErr == nil:
				return a < b
			case aErr == nil:
				return true
			case bErr == nil:
				return false
			default:
				return ids[i] < ids[j]
			}
		})
		for _, id := range ids {
			if r := l.rooms[module.Name][id]; r.IsOpen() {
				return r, nil
			}
		}
		return l.createRoomLocked(module)
	case "new":
		return l.createRoomLocked(module)
	default:
		if r, ok := l.rooms[module.Name][requestedID]; ok {
			if !r.IsOpen() {
				return nil, fmt.Errorf("room %s for game %s is full", requestedID, module.Name)
			}
			return r, nil
		}
		if _, ok := l.roomsPlaying[module.Name][requestedID]; ok {
			return nil, fmt.Errorf("room %s for game %s is already running", requestedID, module.Name)
		}
		r := l.newRoomLocked(module, requestedID, "")
		l.rooms[module.Name][requestedID] = r
		return r, nil
	}
}

// createRoomLocked allocates the smallest unused numeric id for the
// game and creates a room under it. Caller holds l.mu.
func (l *Lobby) createRoomLocked(module *game.Module) (room.Room, error) {
	id := strconv.Itoa(l.nextID[module.Name])
	l.nextID[module.Name]++
	r := l.newRoomLocked(module, id, "")
	l.rooms[module.Name][id] = r
	return r, nil
}

func (l *Lobby) newRoomLocked(module *game.Module, id, password string) room.Room {
	cfg := room.Config{
		Module:          module,
		ID:              id,
		Password:        password,
		Store:           l.store,
		PerPlayerBudget: l.cfg.PerPlayerBudget,
		Clock:           l.clk,
		Logger:          l.logger,
	}
	if l.cfg.Mode == ModeForked {
		return room.NewForked(cfg, l.cfg.WorkerBinary, l.cfg.DebugPort)
	}
	return room.NewSerial(cfg)
}

// evictRoomLocked drops an empty or finished room from the registry.
// When the evicted id is the most recently allocated one, the counter
// steps back so the id is reused; ids evicted out of order are not
// reclaimed. Caller holds l.mu.
func (l *Lobby) evictRoomLocked(gameName, id string) {
	delete(l.rooms[gameName], id)
	delete(l.roomsPlaying[gameName], id)
	if n, err := strconv.Atoi(id); err == nil && n == l.nextID[gameName]-1 {
		l.nextID[gameName]--
	}
}
