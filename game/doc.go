// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package game defines the contract between the orchestration layer and
// individual game implementations.
//
// A [Module] describes one playable game: its canonical name and
// aliases, the number of players a match requires, a settings [Schema],
// and a factory producing a [Manager] for each match. Modules are
// registered into a [Registry] once at startup; after the registry is
// frozen it is immutable and safe for concurrent lookup.
//
// A [Manager] drives one game instance to completion. It never touches
// network connections: player input is requested through the
// [Commander] the session provides, and state changes are reported as
// [Delta] values through a [DeltaSink]. This keeps game rules entirely
// ignorant of transports, rooms, and workers.
package game
