// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package stones is the built-in demonstration game: a two-player Nim
// variant. Players alternate removing between one and maxTake stones
// from a shared pile; whoever takes the last stone wins. It exists to
// prove the game.Module contract end to end and to give the default
// server something playable.
package stones

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arena-foundation/arena/game"
)

// Version is the stones rules build reported to clients and recorded in
// gamelogs.
const Version = "1.0.0"

var schema = game.NewSchema(
	game.SettingSpec{Name: "stones", Kind: game.IntSetting, Default: "21", Min: 1, Max: 999, Description: "starting pile size"},
	game.SettingSpec{Name: "maxTake", Kind: game.IntSetting, Default: "3", Min: 1, Max: 99, Description: "most stones one turn may remove"},
)

// Module returns the stones game module.
func Module() *game.Module {
	return &game.Module{
		Name:            "Stones",
		Aliases:         []string{"nim"},
		Version:         Version,
		RequiredPlayers: 2,
		Settings:        schema,
		NewManager: func(settings game.Settings) game.Manager {
			applied := schema.ApplyDefaults(settings)
			return &manager{
				remaining: schema.Int(applied, "stones"),
				maxTake:   schema.Int(applied, "maxTake"),
			}
		},
	}
}

// orderArgs is the argument payload of a "take" order.
type orderArgs struct {
	Remaining int `json:"remaining"`
	MaxTake   int `json:"maxTake"`
}

// orderReply is a player's reply to a "take" order.
type orderReply struct {
	Take int `json:"take"`
}

// state is the per-move delta payload.
type state struct {
	Remaining int `json:"remaining"`
	Turn      int `json:"turn"`
}

// moveMeta is the meta-delta envelope describing the move that produced
// a state change.
type moveMeta struct {
	Seat      int  `json:"seat"`
	Requested int  `json:"requested"`
	Taken     int  `json:"taken"`
	Sanitized bool `json:"sanitized"`
}

type manager struct {
	remaining int
	maxTake   int
}

var _ game.Manager = (*manager)(nil)

func (m *manager) Play(ctx context.Context, commander game.Commander, emit game.DeltaSink) (*game.Outcome, error) {
	turn := 0
	for m.remaining > 0 {
		reply, err := commander.Order(ctx, turn, "take", orderArgs{
			Remaining: m.remaining,
			MaxTake:   m.maxTake,
		})
		if err != nil {
			// The seated player could not move (disconnect, timeout,
			// session kill). They forfeit; the opponent wins.
			return forfeit(turn, err), nil
		}

		var move orderReply
		if unmarshalErr := json.Unmarshal(reply, &move); unmarshalErr != nil {
			move.Take = 1
		}
		requested := move.Take
		taken := clamp(requested, 1, min(m.maxTake, m.remaining))
		m.remaining -= taken

		gameState, err := json.Marshal(state{Remaining: m.remaining, Turn: 1 - turn})
		if err != nil {
			return nil, fmt.Errorf("encoding state delta: %w", err)
		}
		meta, err := json.Marshal(moveMeta{
			Seat:      turn,
			Requested: requested,
			Taken:     taken,
			Sanitized: taken != requested,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding meta delta: %w", err)
		}
		emit(game.Delta{Game: gameState, Meta: meta})

		if m.remaining == 0 {
			return decided(turn, "took the last stone"), nil
		}
		turn = 1 - turn
	}
	return nil, fmt.Errorf("game started with an empty pile")
}

// decided builds the outcome for a game won on the board by the given
// seat.
func decided(winner int, reason string) *game.Outcome {
	loser := 1 - winner
	return &game.Outcome{Results: []game.PlayerResult{
		{Seat: winner, Won: true, Reason: reason},
		{Seat: loser, Lost: true, Reason: "opponent " + reason},
	}}
}

// forfeit builds the outcome for a game ended by a player failing to
// move.
func forfeit(seat int, cause error) *game.Outcome {
	opponent := 1 - seat
	return &game.Outcome{Results: []game.PlayerResult{
		{Seat: opponent, Won: true, Reason: "opponent forfeited"},
		{Seat: seat, Lost: true, Reason: fmt.Sprintf("forfeited: %v", cause)},
	}}
}

func clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
