// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package game

import (
	"context"
	"encoding/json"
)

// Module describes one registered game. The lobby treats a Module as
// opaque and immutable after registration.
type Module struct {
	// Name is the canonical game name (e.g., "Stones").
	Name string

	// Aliases are alternative names that resolve to this module.
	// Matching is case-insensitive; the canonical name is always an
	// implicit alias.
	Aliases []string

	// Version identifies the game rules build. Reported to clients in
	// the lobbied event and recorded in gamelogs.
	Version string

	// RequiredPlayers is the exact number of non-spectating clients a
	// match needs before it can start.
	RequiredPlayers int

	// Settings validates and applies defaults to per-room game
	// settings. Nil means the game accepts no settings.
	Settings *Schema

	// NewManager builds a runnable game instance from validated
	// settings. Called once per started match.
	NewManager func(settings Settings) Manager
}

// Commander requests an order from a seated player and returns the
// player's reply. The session implements Commander on top of the live
// client connections; the worker's session does the same on the far
// side of a handoff.
type Commander interface {
	// Order asks the player in the given seat to execute the named
	// order with the given arguments, blocking until the player
	// replies, disconnects, or ctx is done. The returned message is the
	// player's sanitized reply.
	Order(ctx context.Context, seat int, name string, args any) (json.RawMessage, error)
}

// DeltaSink receives each state change a running game produces, in
// emission order.
type DeltaSink func(Delta)

// Manager is one live game instance.
type Manager interface {
	// Play drives the game to completion. It requests player input
	// through commander, reports every state change through emit, and
	// returns the final outcome. A non-nil error means the game failed
	// rather than finished; ctx cancellation (session kill or timeout)
	// must cause Play to return promptly.
	Play(ctx context.Context, commander Commander, emit DeltaSink) (*Outcome, error)
}

// Delta is an incremental description of game-state change since the
// previous tick. Game is the state portion every client receives; Meta
// is optional bookkeeping delivered only to clients that opted into
// meta-deltas.
type Delta struct {
	Game json.RawMessage `json:"game,omitempty"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

// Empty reports whether the delta carries no change at all. Empty
// deltas are never broadcast.
func (d Delta) Empty() bool {
	return len(d.Game) == 0 && len(d.Meta) == 0
}

// PlayerResult is the outcome for one seat.
type PlayerResult struct {
	Seat   int    `json:"seat"`
	Won    bool   `json:"won"`
	Lost   bool   `json:"lost"`
	Reason string `json:"reason,omitempty"`
}

// Outcome is the final result of a completed game, one entry per seat.
type Outcome struct {
	Results []PlayerResult `json:"results"`
}
