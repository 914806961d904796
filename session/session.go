// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package session drives one game instance to completion: it seats the
// playing clients, relays orders to the remote players, broadcasts
// state deltas, enforces the wall-clock timeout, and produces the final
// gamelog plus per-client outcome summaries.
//
// A Session runs identically inside the lobby process (serial rooms)
// and inside a forked arena-worker (forked rooms); only the origin of
// its clients differs.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arena-foundation/arena/client"
	"github.com/arena-foundation/arena/game"
	"github.com/arena-foundation/arena/gamelog"
	"github.com/arena-foundation/arena/lib/clock"
)

const (
	// timeoutPaddingMS is added on top of the computed play budget to
	// cover server-side processing overhead.
	timeoutPaddingMS = 60_000

	// fallbackTimeoutMS is the fixed session timeout used when the
	// configured per-player budget yields a non-positive play budget.
	fallbackTimeoutMS = 1_800_000

	// endDelay is the fixed pause before the terminal Ended event, so
	// slow clients get a chance to receive the final over or fatal
	// frame before the room tears the session down.
	endDelay = time.Second
)

// URLFormatter formats the public URLs reported to clients in the over
// event. A *gamelog.Store satisfies it; the worker builds one from the
// URL bases in its bootstrap environment.
type URLFormatter interface {
	GamelogURL(filename string) string
	VisualizerURL(filename string) string
}

// Config carries everything a Session needs at construction.
type Config struct {
	// ID is the session identifier, inherited from the room.
	ID string

	// Module is the game being played.
	Module *game.Module

	// Settings are the room's validated game settings.
	Settings game.Settings

	// Clients is the ordered arrival list, spectators included.
	Clients []*client.Client

	// PerPlayerBudget is the wall-clock budget granted to each player.
	// It feeds both the per-order play timer and the whole-session
	// timeout formula. Zero or negative selects the fixed fallback
	// session timeout and disables per-order timers.
	PerPlayerBudget time.Duration

	// URLs formats the gamelog and visualizer URLs for the over event.
	// Nil omits the URLs.
	URLs URLFormatter

	Clock  clock.Clock
	Logger *slog.Logger
}

// Result is the terminal outcome of a Session: either a completed
// gamelog with per-client summaries, or the error that killed the
// session.
type Result struct {
	Gamelog     *gamelog.Gamelog
	ClientInfos []gamelog.ClientInfo
	Err         error
}

// Session is the live execution of one game.
type Session struct {
	id       string
	module   *game.Module
	settings game.Settings
	clients  []*client.Client
	playing  []*client.Client
	budget   time.Duration
	urls     URLFormatter
	clk      clock.Clock
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	killReason string
	killed     bool
	finished   bool
	timeout    *clock.Timer
	deltas     []game.Delta

	ended chan Result
}

// New seats the clients and builds the session. Playing clients that
// pre-declared a seat keep it; the rest fill the remaining seats in
// arrival order. A seating that does not come out at exactly
// Module.RequiredPlayers is a bootstrap error.
func New(cfg Config) (*Session, error) {
	var playing, spectating []*client.Client
	for _, c := range cfg.Clients {
		if c.Spectating() {
			spectating = append(spectating, c)
		} else {
			playing = append(playing, c)
		}
	}
	required := cfg.Module.RequiredPlayers
	if len(playing) != required {
		return nil, fmt.Errorf("session %s: %d playing clients, game %s requires %d",
			cfg.ID, len(playing), cfg.Module.Name, required)
	}

	seats := make([]*client.Client, required)
	var unseated []*client.Client
	for _, c := range playing {
		if i := c.Index(); i >= 0 && i < required && seats[i] == nil {
			seats[i] = c
		} else {
			unseated = append(unseated, c)
		}
	}
	for i := range seats {
		if seats[i] != nil {
			continue
		}
		if len(unseated) == 0 {
			return nil, fmt.Errorf("session %s: no client for seat %d", cfg.ID, i)
		}
		seats[i] = unseated[0]
		seats[i].SetIndex(i)
		unseated = unseated[1:]
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:       cfg.ID,
		module:   cfg.Module,
		settings: cfg.Settings,
		clients:  cfg.Clients,
		playing:  seats,
		budget:   cfg.PerPlayerBudget,
		urls:     cfg.URLs,
		clk:      cfg.Clock,
		logger:   cfg.Logger.With("session", cfg.ID, "game", cfg.Module.Name),
		ctx:      ctx,
		cancel:   cancel,
		ended:    make(chan Result, 1),
	}, nil
}

// Ended delivers the session's terminal result exactly once.
func (s *Session) Ended() <-chan Result { return s.ended }

// Playing returns the seated player array, index-addressable.
func (s *Session) Playing() []*client.Client { return s.playing }

// Start arms the timeout, announces the start to every client, and
// runs the game on its own goroutine. The terminal result arrives on
// Ended.
func (s *Session) Start() {
	d := timeoutDuration(s.module.RequiredPlayers, s.budget)
	s.mu.Lock()
	s.timeout = s.clk.AfterFunc(d, func() {
		s.Kill("session timed out after " + d.String())
	})
	s.mu.Unlock()
	s.logger.Info("session starting",
		"players", len(s.playing), "spectators", len(s.clients)-len(s.playing), "timeout", d)

	for _, c := range s.clients {
		data := struct {
			PlayerIndex *int `json:"playerIndex,omitempty"`
		}{}
		if !c.Spectating() {
			i := c.Index()
			data.PlayerIndex = &i
		}
		if err := c.Send("start", data); err != nil {
			s.logger.Debug("start event not delivered", "client", c.ID, "error", err)
		}
	}

	go s.run()
}

// timeoutDuration computes the session timeout: the required player
// count times the per-player nanosecond budget, doubled, converted to
// milliseconds, plus fixed padding. A non-positive play budget selects
// the fixed fallback instead.
func timeoutDuration(requiredPlayers int, perPlayer time.Duration) time.Duration {
	budgetNS := int64(requiredPlayers) * perPlayer.Nanoseconds() * 2
	if budgetNS <= 0 {
		return fallbackTimeoutMS * time.Millisecond
	}
	return time.Duration(budgetNS/int64(time.Millisecond)+timeoutPaddingMS) * time.Millisecond
}

// Kill marks the session fatally failed and interrupts the running
// game. Safe to call from any goroutine, including a fake clock's
// Advance; the actual teardown happens on the session goroutine.
func (s *Session) Kill(reason string) {
	s.mu.Lock()
	if s.killed || s.finished {
		s.mu.Unlock()
		return
	}
	s.killed = true
	s.killReason = reason
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) run() {
	manager := s.module.NewManager(s.settings)
	outcome, err := manager.Play(s.ctx, s, s.emit)

	s.mu.Lock()
	killed, reason := s.killed, s.killReason
	s.finished = true
	// The timer is cancelled here and nowhere else. If it was the
	// timer itself that killed the session, Stop is a no-op.
	s.timeout.Stop()
	s.mu.Unlock()

	switch {
	case killed:
		s.fail(errors.New(reason))
	case err != nil:
		s.fail(fmt.Errorf("game failed: %w", err))
	default:
		s.complete(outcome)
	}
}

// complete is the normal termination path: assemble the gamelog,
// notify every client of the outcome, pause briefly, and emit Ended.
func (s *Session) complete(outcome *game.Outcome) {
	g := s.buildGamelog(outcome)
	infos := s.buildClientInfos(outcome)

	filename := gamelog.Filename(g)
	over := struct {
		GamelogURL    string `json:"gamelogURL,omitempty"`
		VisualizerURL string `json:"visualizerURL,omitempty"`
		Message       string `json:"message,omitempty"`
	}{Message: "game is over"}
	if s.urls != nil {
		over.GamelogURL = s.urls.GamelogURL(filename)
		over.VisualizerURL = s.urls.VisualizerURL(filename)
	}
	for _, c := range s.clients {
		if err := c.Send("over", over); err != nil {
			s.logger.Debug("over event not delivered", "client", c.ID, "error", err)
		}
	}

	s.logger.Info("session over", "winners", len(g.Winners), "deltas", len(g.Deltas))
	s.clk.Sleep(endDelay)
	s.ended <- Result{Gamelog: g, ClientInfos: infos}
}

// fail is the fatal termination path: tell every connected client why
// and ask it to disconnect, then emit Ended with the error and no
// gamelog.
func (s *Session) fail(cause error) {
	s.logger.Error("session killed", "error", cause)
	for _, c := range s.clients {
		c.Disconnect(cause.Error())
	}
	s.clk.Sleep(endDelay)
	s.ended <- Result{Err: cause}
}

func (s *Session) buildGamelog(outcome *game.Outcome) *gamelog.Gamelog {
	s.mu.Lock()
	deltas := s.deltas
	s.mu.Unlock()

	g := &gamelog.Gamelog{
		GameName:    s.module.Name,
		GameVersion: s.module.Version,
		SessionID:   s.id,
		Epoch:       s.clk.Now().UnixMilli(),
		Settings:    s.settings,
		Deltas:      deltas,
		Winners:     []gamelog.Entry{},
		Losers:      []gamelog.Entry{},
	}
	for _, r := range outcome.Results {
		entry := gamelog.Entry{Index: r.Seat, Name: s.playing[r.Seat].Name(), Reason: r.Reason}
		if r.Won {
			g.Winners = append(g.Winners, entry)
		} else {
			g.Losers = append(g.Losers, entry)
		}
	}
	return g
}

// buildClientInfos summarizes the outcome per connected client.
// Winners' disconnected and timed-out flags are forced false: a winner
// that dropped after the decisive move still won.
func (s *Session) buildClientInfos(outcome *game.Outcome) []gamelog.ClientInfo {
	bySeat := make(map[int]game.PlayerResult, len(outcome.Results))
	for _, r := range outcome.Results {
		bySeat[r.Seat] = r
	}
	infos := make([]gamelog.ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		if c.Spectating() {
			infos = append(infos, gamelog.ClientInfo{Name: c.Name(), Spectating: true, Index: -1})
			continue
		}
		r := bySeat[c.Index()]
		info := gamelog.ClientInfo{
			Name:         c.Name(),
			Index:        c.Index(),
			Won:          r.Won,
			Lost:         r.Lost,
			Reason:       r.Reason,
			Disconnected: c.IsDisconnected(),
			TimedOut:     c.IsTimedOut(),
		}
		if info.Won {
			info.Disconnected = false
			info.TimedOut = false
		}
		infos = append(infos, info)
	}
	return infos
}

// emit records and broadcasts one delta. Clients that opted into
// meta-deltas receive the full envelope as a meta-delta event; the
// rest receive only the game-state portion. Nothing is sent once the
// session has been killed.
func (s *Session) emit(d game.Delta) {
	if d.Empty() {
		return
	}
	s.mu.Lock()
	if s.killed || s.finished {
		s.mu.Unlock()
		return
	}
	s.deltas = append(s.deltas, d)
	s.mu.Unlock()

	for _, c := range s.clients {
		var err error
		if c.MetaDeltas() {
			err = c.Send("meta-delta", d)
		} else if len(d.Game) > 0 {
			err = c.Send("delta", json.RawMessage(d.Game))
		}
		if err != nil {
			s.logger.Debug("delta not delivered", "client", c.ID, "error", err)
		}
	}
}

type orderEvent struct {
	Name string `json:"name"`
	Args any    `json:"args,omitempty"`
}

type finishedEvent struct {
	Order  string          `json:"order"`
	Result json.RawMessage `json:"result"`
}

// Order implements [game.Commander]: it sends an order event to the
// seated player and blocks until a matching finished reply, a
// lifecycle failure, or ctx cancellation. While an order is pending
// the player's play timer runs against the per-player budget.
func (s *Session) Order(ctx context.Context, seat int, name string, args any) (json.RawMessage, error) {
	if seat < 0 || seat >= len(s.playing) {
		return nil, fmt.Errorf("no player in seat %d", seat)
	}
	c := s.playing[seat]
	if err := c.Send("order", orderEvent{Name: name, Args: args}); err != nil {
		return nil, fmt.Errorf("sending order %q to player %d: %w", name, seat, err)
	}
	if s.budget > 0 {
		c.StartTimer(s.budget)
		defer c.StopTimer()
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-c.Incoming():
			if !ok {
				return nil, fmt.Errorf("player %d disconnected awaiting order %q", seat, name)
			}
			if ev.Event != "finished" {
				s.logger.Debug("unexpected event while order pending",
					"player", seat, "event", ev.Event)
				continue
			}
			var fin finishedEvent
			if err := json.Unmarshal(ev.Data, &fin); err != nil {
				return nil, fmt.Errorf("player %d sent malformed finished event: %w", seat, err)
			}
			if fin.Order != name {
				s.logger.Debug("finished reply for stale order",
					"player", seat, "got", fin.Order, "want", name)
				continue
			}
			return fin.Result, nil
		case lc := <-c.Lifecycle():
			switch lc.Type {
			case client.TimedOut:
				return nil, fmt.Errorf("player %d timed out awaiting order %q", seat, name)
			default:
				return nil, fmt.Errorf("player %d disconnected awaiting order %q: %s", seat, name, lc.Reason)
			}
		}
	}
}

var _ game.Commander = (*Session)(nil)
