// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package handoff

import (
	"fmt"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// ChildFD is the descriptor number at which the worker inherits its
// end of the handoff socketpair (the first exec.Cmd.ExtraFiles slot).
const ChildFD = 3

// Bootstrap is the minimal state a worker cannot recompute, passed
// through its environment. Everything else, the clients themselves,
// arrives over the handoff socket.
type Bootstrap struct {
	// SessionID is the match's session identifier.
	SessionID string `env:"ARENA_SESSION_ID,required"`

	// GameName is the canonical game name. The worker resolves it
	// against its own compiled-in registry.
	GameName string `env:"ARENA_GAME_NAME,required"`

	// GameSettings is the validated settings blob in its encoded
	// key=value&... wire form.
	GameSettings string `env:"ARENA_GAME_SETTINGS"`

	// MainDebugPort is the lobby's debugger port hint, when the lobby
	// itself runs under a debugger. Zero means none.
	MainDebugPort int `env:"ARENA_MAIN_DEBUG_PORT"`

	// PlayerTimeBudget is the per-player wall-clock budget feeding the
	// session timeout formula. Zero disables the timeout formula and
	// selects the fixed fallback.
	PlayerTimeBudget time.Duration `env:"ARENA_PLAYER_TIME_BUDGET"`

	// GamelogBaseURL and VisualizerURL let the worker format the over
	// event's URLs without access to the lobby's config file.
	GamelogBaseURL string `env:"ARENA_GAMELOG_BASE_URL"`
	VisualizerURL  string `env:"ARENA_VISUALIZER_URL"`

	// LogLevel is the worker's slog level.
	LogLevel string `env:"ARENA_LOG_LEVEL" envDefault:"info"`
}

// ParseBootstrap reads the bootstrap from the worker's environment.
func ParseBootstrap() (*Bootstrap, error) {
	var bootstrap Bootstrap
	if err := env.Parse(&bootstrap); err != nil {
		return nil, fmt.Errorf("parsing worker bootstrap environment: %w", err)
	}
	return &bootstrap, nil
}

// Environ renders the bootstrap as environment entries for
// exec.Cmd.Env. Inverse of ParseBootstrap.
func (b *Bootstrap) Environ() []string {
	entries := []string{
		"ARENA_SESSION_ID=" + b.SessionID,
		"ARENA_GAME_NAME=" + b.GameName,
		"ARENA_GAME_SETTINGS=" + b.GameSettings,
		"ARENA_PLAYER_TIME_BUDGET=" + b.PlayerTimeBudget.String(),
		"ARENA_GAMELOG_BASE_URL=" + b.GamelogBaseURL,
		"ARENA_VISUALIZER_URL=" + b.VisualizerURL,
		"ARENA_LOG_LEVEL=" + b.LogLevel,
	}
	if b.MainDebugPort != 0 {
		entries = append(entries, "ARENA_MAIN_DEBUG_PORT="+strconv.Itoa(b.MainDebugPort))
	}
	return entries
}
