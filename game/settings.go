// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package game

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Settings are the validated key/value game settings for one room.
type Settings map[string]string

// ParseSettings parses a raw settings string of ampersand-separated
// key=value pairs ("stones=21&maxTake=3"). An empty string parses to an
// empty Settings. Malformed pairs are errors.
func ParseSettings(raw string) (Settings, error) {
	settings := make(Settings)
	if raw == "" {
		return settings, nil
	}
	for _, pair := range strings.Split(raw, "&") {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("malformed settings pair %q, expected key=value", pair)
		}
		settings[key] = value
	}
	return settings, nil
}

// Encode renders settings back into the ampersand-separated wire form.
// Inverse of ParseSettings for settings that round-trip through the
// worker bootstrap environment.
func (s Settings) Encode() string {
	if len(s) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(s))
	for key, value := range s {
		pairs = append(pairs, key+"="+value)
	}
	// Deterministic order so the same settings always produce the same
	// environment value.
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// SettingKind is the value type of one schema entry.
type SettingKind int

const (
	// StringSetting accepts any value.
	StringSetting SettingKind = iota
	// IntSetting accepts integers, optionally range-constrained.
	IntSetting
	// BoolSetting accepts "true" or "false".
	BoolSetting
)

// SettingSpec describes one accepted setting.
type SettingSpec struct {
	Name        string
	Description string
	Kind        SettingKind
	Default     string

	// Min and Max constrain IntSetting values (inclusive). Both zero
	// means unconstrained.
	Min, Max int
}

// Schema validates room settings against a game's accepted settings.
type Schema struct {
	specs []SettingSpec
}

// NewSchema builds a schema from the given specs.
func NewSchema(specs ...SettingSpec) *Schema {
	return &Schema{specs: specs}
}

// Validate checks settings against the schema: unknown keys and
// type/range violations are errors. The returned error message is sent
// verbatim to the offending client (the lobby appends the settings help
// footer).
func (s *Schema) Validate(settings Settings) error {
	for key, value := range settings {
		spec, ok := s.spec(key)
		if !ok {
			return fmt.Errorf("unknown setting %q", key)
		}
		switch spec.Kind {
		case IntSetting:
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("setting %q: %q is not an integer", key, value)
			}
			if spec.Min != 0 || spec.Max != 0 {
				if parsed < spec.Min || parsed > spec.Max {
					return fmt.Errorf("setting %q: %d is outside [%d, %d]", key, parsed, spec.Min, spec.Max)
				}
			}
		case BoolSetting:
			if value != "true" && value != "false" {
				return fmt.Errorf("setting %q: %q is not a boolean", key, value)
			}
		}
	}
	return nil
}

// ApplyDefaults returns a copy of settings with every schema default
// filled in for keys the room did not set.
func (s *Schema) ApplyDefaults(settings Settings) Settings {
	applied := make(Settings, len(s.specs))
	for _, spec := range s.specs {
		if spec.Default != "" {
			applied[spec.Name] = spec.Default
		}
	}
	for key, value := range settings {
		applied[key] = value
	}
	return applied
}

// Help renders the settings help footer appended to validation errors.
func (s *Schema) Help() string {
	if len(s.specs) == 0 {
		return "this game accepts no settings"
	}
	var b strings.Builder
	b.WriteString("available settings:")
	for _, spec := range s.specs {
		b.WriteString("\n  ")
		b.WriteString(spec.Name)
		if spec.Default != "" {
			fmt.Fprintf(&b, " (default %s)", spec.Default)
		}
		if spec.Description != "" {
			b.WriteString(" - ")
			b.WriteString(spec.Description)
		}
	}
	return b.String()
}

// Int reads an integer setting, falling back to the schema default when
// unset. Games call this after validation, so a malformed value is a
// programming error and reads as the default.
func (s *Schema) Int(settings Settings, name string) int {
	value, ok := settings[name]
	if !ok {
		if spec, found := s.spec(name); found {
			value = spec.Default
		}
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		if spec, found := s.spec(name); found {
			parsed, _ = strconv.Atoi(spec.Default)
		}
	}
	return parsed
}

func (s *Schema) spec(name string) (SettingSpec, bool) {
	for _, spec := range s.specs {
		if spec.Name == name {
			return spec, true
		}
	}
	return SettingSpec{}, false
}
