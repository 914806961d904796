// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package gamelog defines the persisted transcript of a completed game
// and the store that writes transcripts to disk.
package gamelog

import (
	"github.com/arena-foundation/arena/game"
)

// Entry identifies one winner or loser in a completed game.
type Entry struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

// ClientInfo is the per-client outcome summary the session reports
// upward and the worker sends back across the process boundary.
// Index and the result flags are meaningful only for seated players;
// spectators carry just Name and Spectating.
type ClientInfo struct {
	Name         string `json:"name" cbor:"name"`
	Spectating   bool   `json:"spectating" cbor:"spectating"`
	Index        int    `json:"index" cbor:"index"`
	Won          bool   `json:"won" cbor:"won"`
	Lost         bool   `json:"lost" cbor:"lost"`
	Reason       string `json:"reason,omitempty" cbor:"reason,omitempty"`
	Disconnected bool   `json:"disconnected" cbor:"disconnected"`
	TimedOut     bool   `json:"timedOut" cbor:"timed_out"`
}

// Gamelog is the full transcript of one completed game.
type Gamelog struct {
	GameName    string        `json:"gameName" cbor:"game_name"`
	GameVersion string        `json:"gameVersion" cbor:"game_version"`
	SessionID   string        `json:"gameSession" cbor:"session_id"`
	Epoch       int64         `json:"epoch" cbor:"epoch"`
	Settings    game.Settings `json:"settings,omitempty" cbor:"settings,omitempty"`
	Deltas      []game.Delta  `json:"deltas" cbor:"deltas"`
	Winners     []Entry       `json:"winners" cbor:"winners"`
	Losers      []Entry       `json:"losers" cbor:"losers"`
}
