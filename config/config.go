// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the arena-server configuration file and the
// optional arena room presets.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from the YAML string
// form time.ParseDuration accepts.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Server is the arena-server configuration.
type Server struct {
	// TCPAddress and WSAddress are the client listener addresses.
	TCPAddress string `yaml:"tcp_address"`
	WSAddress  string `yaml:"ws_address"`

	// Password, when set, is required verbatim on every play request.
	Password string `yaml:"password"`

	// Mode selects where matches run: "serial" (in-process) or
	// "forked" (one arena-worker process per match).
	Mode string `yaml:"mode"`

	// WorkerBinary is the arena-worker executable path, forked mode
	// only. Empty means the arena-worker next to the server binary.
	WorkerBinary string `yaml:"worker_binary"`

	// GamelogDir is where finished match transcripts are written.
	GamelogDir string `yaml:"gamelog_dir"`

	// GamelogBaseURL and VisualizerURL are the public URL prefixes
	// reported to clients in the over event. Either may be empty.
	GamelogBaseURL string `yaml:"gamelog_base_url"`
	VisualizerURL  string `yaml:"visualizer_url"`

	// PlayerTimeBudget is each player's wall-clock budget per match,
	// in time.ParseDuration form ("15m", "90s"). Zero disables play
	// timers and selects the fixed session timeout.
	PlayerTimeBudget Duration `yaml:"player_time_budget"`

	// PresetsPath points at a JSONC file of arena room presets, loaded
	// at startup. Empty means none.
	PresetsPath string `yaml:"presets_path"`

	// DebugPort is forwarded to workers as a debugger hint.
	DebugPort int `yaml:"debug_port"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Server {
	return Server{
		TCPAddress: ":3000",
		WSAddress:  ":3088",
		Mode:       "forked",
		GamelogDir: "gamelogs",
		LogLevel:   "info",
	}
}

// Load reads a YAML configuration file over the defaults. Unknown keys
// are rejected so typos fail loudly at startup.
func Load(path string) (Server, error) {
	cfg := Default()
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("opening config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as the
// default configuration.
func LoadOrDefault(path string) (Server, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the configuration for values that cannot work.
func (c Server) Validate() error {
	switch c.Mode {
	case "serial", "forked":
	default:
		return fmt.Errorf("mode %q is not serial or forked", c.Mode)
	}
	if c.TCPAddress == "" || c.WSAddress == "" {
		return errors.New("both tcp_address and ws_address must be set")
	}
	if c.GamelogDir == "" {
		return errors.New("gamelog_dir must be set")
	}
	if c.PlayerTimeBudget < 0 {
		return errors.New("player_time_budget must not be negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not debug, info, warn, or error", c.LogLevel)
	}
	return nil
}
