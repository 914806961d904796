// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Preset pre-creates one private arena room at startup.
type Preset struct {
	// GameAlias names the game; any registered alias works.
	GameAlias string `json:"gameName"`

	// RoomID is the explicit room id arena clients will request.
	RoomID string `json:"session"`

	// Password guards the room.
	Password string `json:"password"`

	// Settings is the encoded key=value&... settings string, validated
	// against the game's schema when the room is created.
	Settings string `json:"gameSettings"`
}

// LoadPresets reads a JSONC file of arena room presets. Comments and
// trailing commas are allowed, so preset files can document their
// tournaments inline.
func LoadPresets(path string) ([]Preset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading presets: %w", err)
	}
	var presets []Preset
	if err := json.Unmarshal(jsonc.ToJSON(raw), &presets); err != nil {
		return nil, fmt.Errorf("parsing presets %s: %w", path, err)
	}
	for i, preset := range presets {
		if preset.GameAlias == "" || preset.RoomID == "" {
			return nil, fmt.Errorf("preset %d: gameName and session are required", i)
		}
	}
	return presets, nil
}
