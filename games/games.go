// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package games assembles the compiled-in game registry. The lobby and
// the match worker build their registries from the same function so a
// forked worker always recognizes the game it was handed.
package games

import (
	"fmt"

	"github.com/arena-foundation/arena/game"
	"github.com/arena-foundation/arena/games/stones"
)

// DefaultRegistry registers every compiled-in game module and freezes
// the registry.
func DefaultRegistry() (*game.Registry, error) {
	registry := game.NewRegistry()
	for _, module := range []*game.Module{
		stones.Module(),
	} {
		if err := registry.Register(module); err != nil {
			return nil, fmt.Errorf("building default registry: %w", err)
		}
	}
	registry.Freeze()
	return registry, nil
}
