// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package room groups clients waiting for one match and launches the
// match once the room fills.
//
// A room moves through four states: Open (fewer playing clients than
// the game requires), Full (exactly enough, not yet started), Running
// (Start invoked), and Over (outcome reported). The two concrete kinds
// differ only in where the match runs: [Serial] runs the session
// in-process, [Forked] hands the client connections to a dedicated
// arena-worker process and waits for its outcome report.
package room

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arena-foundation/arena/client"
	"github.com/arena-foundation/arena/game"
	"github.com/arena-foundation/arena/gamelog"
	"github.com/arena-foundation/arena/lib/clock"
)

// Room is one match lobby, Serial or Forked.
type Room interface {
	// Module returns the game this room plays.
	Module() *game.Module

	// ID returns the room's identifier, unique within its game.
	ID() string

	// AddClient registers a client. Fails once the room is running or
	// over, and fails for a playing client when the room already holds
	// the required player count.
	AddClient(c *client.Client) error

	// RemoveClient drops a client. Meaningful only before the room
	// starts.
	RemoveClient(c *client.Client)

	// Clients returns the current client list in arrival order.
	Clients() []*client.Client

	// AddGameSettings parses and validates encoded key=value settings
	// against the game's schema and merges them into the room.
	AddGameSettings(encoded string) error

	// Settings returns the room's validated settings.
	Settings() game.Settings

	// Authenticate checks a supplied password against the room's.
	// Rooms without a password accept anything.
	Authenticate(password string) bool

	// IsOpen reports whether the room still accepts playing clients.
	IsOpen() bool

	// CanStart reports whether the room holds exactly the required
	// playing clients and has not started.
	CanStart() bool

	// IsRunning reports whether the match has started and not ended.
	IsRunning() bool

	// IsOver reports whether the match outcome has been reported. Once
	// true, true forever.
	IsOver() bool

	// Start launches the match. Only the first call starts anything;
	// repeated calls are no-ops. Returns promptly; the outcome arrives
	// via Over.
	Start()

	// Over is closed exactly once, when the match outcome has been
	// reported. The summary accessors are valid after that.
	Over() <-chan struct{}

	// Winners, Losers, GamelogFilename, and ClientInfos summarize a
	// finished match. Empty after an abnormal end.
	Winners() []gamelog.Entry
	Losers() []gamelog.Entry
	GamelogFilename() string
	ClientInfos() []gamelog.ClientInfo
}

// Config carries the shared construction parameters for both room
// kinds.
type Config struct {
	// Module is the game to play.
	Module *game.Module

	// ID is the room identifier assigned by the lobby.
	ID string

	// Password guards entry when non-empty.
	Password string

	// Store persists gamelogs and formats their public URLs. Required.
	Store *gamelog.Store

	// PerPlayerBudget is the wall-clock budget per player, fed to the
	// session timeout formula.
	PerPlayerBudget time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// base carries the state machine shared by Serial and Forked.
type base struct {
	module   *game.Module
	id       string
	password string
	store    *gamelog.Store
	budget   time.Duration
	clk      clock.Clock
	logger   *slog.Logger
	created  time.Time

	mu              sync.Mutex
	clients         []*client.Client
	settings        game.Settings
	running         bool
	over            bool
	winners         []gamelog.Entry
	losers          []gamelog.Entry
	gamelogFilename string
	clientInfos     []gamelog.ClientInfo

	overOnce sync.Once
	overCh   chan struct{}
}

func newBase(cfg Config) base {
	return base{
		module:   cfg.Module,
		id:       cfg.ID,
		password: cfg.Password,
		store:    cfg.Store,
		budget:   cfg.PerPlayerBudget,
		clk:      cfg.Clock,
		logger:   cfg.Logger.With("game", cfg.Module.Name, "room", cfg.ID),
		created:  cfg.Clock.Now(),
		settings: game.Settings{},
		overCh:   make(chan struct{}),
	}
}

func (r *base) Module() *game.Module { return r.module }
func (r *base) ID() string           { return r.id }

func (r *base) AddClient(c *client.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.over {
		return fmt.Errorf("room %s/%s is no longer joinable", r.module.Name, r.id)
	}
	if !c.Spectating() && r.playingCountLocked() >= r.module.RequiredPlayers {
		return fmt.Errorf("room %s/%s is full", r.module.Name, r.id)
	}
	r.clients = append(r.clients, c)
	return nil
}

func (r *base) RemoveClient(c *client.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.clients {
		if existing == c {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			return
		}
	}
}

func (r *base) Clients() []*client.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	clients := make([]*client.Client, len(r.clients))
	copy(clients, r.clients)
	return clients
}

func (r *base) AddGameSettings(encoded string) error {
	parsed, err := game.ParseSettings(encoded)
	if err != nil {
		return err
	}
	if r.module.Settings == nil {
		if len(parsed) > 0 {
			return fmt.Errorf("game %s accepts no settings", r.module.Name)
		}
		return nil
	}
	if err := r.module.Settings.Validate(parsed); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, value := range parsed {
		r.settings[key] = value
	}
	return nil
}

func (r *base) Settings() game.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	settings := make(game.Settings, len(r.settings))
	for key, value := range r.settings {
		settings[key] = value
	}
	return settings
}

func (r *base) Authenticate(password string) bool {
	return r.password == "" || r.password == password
}

func (r *base) playingCountLocked() int {
	count := 0
	for _, c := range r.clients {
		if !c.Spectating() {
			count++
		}
	}
	return count
}

func (r *base) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.over && !r.running && r.playingCountLocked() < r.module.RequiredPlayers
}

func (r *base) CanStart() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.over && !r.running && r.playingCountLocked() == r.module.RequiredPlayers
}

func (r *base) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && !r.over
}

func (r *base) IsOver() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.over
}

// markRunning transitions the room to Running. Reports false when the
// room already started or ended, so a duplicate Start launches nothing.
func (r *base) markRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.over {
		return false
	}
	r.running = true
	return true
}

// sessionSettings returns the room settings with schema defaults
// applied, ready to hand to the game manager.
func (r *base) sessionSettings() game.Settings {
	settings := r.Settings()
	if r.module.Settings != nil {
		settings = r.module.Settings.ApplyDefaults(settings)
	}
	return settings
}

// CleanUp marks the room over and, when the match produced a gamelog,
// persists it and records the summary. A missing gamelog signals an
// abnormal end: the over flag is still set but no outcome is recorded.
func (r *base) CleanUp(g *gamelog.Gamelog) {
	r.mu.Lock()
	r.over = true
	r.mu.Unlock()

	if g == nil {
		r.logger.Warn("match ended without a gamelog")
		return
	}

	result, err := r.store.Write(g)
	if err != nil {
		r.logger.Error("persisting gamelog", "error", err)
	}

	r.mu.Lock()
	r.winners = g.Winners
	r.losers = g.Losers
	r.gamelogFilename = result.Filename
	r.mu.Unlock()
}

// HandleOver records the per-client outcome summaries, clears the
// client list, and closes the Over channel. The terminal signal fires
// exactly once no matter how often HandleOver is called.
func (r *base) HandleOver(infos []gamelog.ClientInfo) {
	r.overOnce.Do(func() {
		r.mu.Lock()
		r.over = true
		r.clientInfos = infos
		r.clients = nil
		r.mu.Unlock()
		close(r.overCh)
	})
}

func (r *base) Over() <-chan struct{} { return r.overCh }

func (r *base) Winners() []gamelog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.winners
}

func (r *base) Losers() []gamelog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.losers
}

func (r *base) GamelogFilename() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gamelogFilename
}

func (r *base) ClientInfos() []gamelog.ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientInfos
}
