// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// arena-server is the lobby process: it accepts game clients over TCP
// and WebSocket, matchmakes them into rooms, and launches one match
// per full room, either in-process or in a forked arena-worker.
//
// A first SIGINT or SIGTERM drains the server: new play requests are
// refused, idle clients are disconnected, and the process exits once
// the last running match finishes. A second signal force-exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/arena-foundation/arena/config"
	"github.com/arena-foundation/arena/gamelog"
	"github.com/arena-foundation/arena/games"
	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/lib/process"
	"github.com/arena-foundation/arena/lobby"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	flagSet := pflag.NewFlagSet("arena-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "arena.yaml", "path to the server configuration file")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	registry, err := games.DefaultRegistry()
	if err != nil {
		return fmt.Errorf("registering game modules: %w", err)
	}
	store, err := gamelog.NewStore(cfg.GamelogDir, cfg.GamelogBaseURL, cfg.VisualizerURL, logger)
	if err != nil {
		return err
	}
	workerBinary, err := resolveWorkerBinary(cfg)
	if err != nil {
		return err
	}

	l := lobby.New(lobby.Config{
		TCPAddress:      cfg.TCPAddress,
		WSAddress:       cfg.WSAddress,
		Password:        cfg.Password,
		Mode:            cfg.Mode,
		WorkerBinary:    workerBinary,
		DebugPort:       cfg.DebugPort,
		PerPlayerBudget: cfg.PlayerTimeBudget.Std(),
		Registry:        registry,
		Store:           store,
		Clock:           clock.Real(),
		Logger:          logger,
	})

	if cfg.PresetsPath != "" {
		presets, err := config.LoadPresets(cfg.PresetsPath)
		if err != nil {
			return err
		}
		for _, preset := range presets {
			err := l.Setup(lobby.SetupRequest{
				GameAlias: preset.GameAlias,
				RoomID:    preset.RoomID,
				Password:  preset.Password,
				Settings:  preset.Settings,
			})
			if err != nil {
				return fmt.Errorf("creating preset room %s: %w", preset.RoomID, err)
			}
		}
		logger.Info("preset rooms created", "count", len(presets))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.InitializeListeners(ctx); err != nil {
		return err
	}
	logger.Info("arena-server running", "mode", cfg.Mode, "games", registry.Names())

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	for sig := range signals {
		logger.Info("shutdown signal", "signal", sig)
		l.ShutDown()
	}
	return nil
}

// resolveWorkerBinary finds the arena-worker executable for forked
// mode: the configured path, or the binary next to this one.
func resolveWorkerBinary(cfg config.Server) (string, error) {
	if cfg.Mode != lobby.ModeForked {
		return "", nil
	}
	if cfg.WorkerBinary != "" {
		return cfg.WorkerBinary, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating own executable: %w", err)
	}
	worker := filepath.Join(filepath.Dir(self), "arena-worker")
	if _, err := exec.LookPath(worker); err != nil {
		return "", fmt.Errorf("arena-worker not found at %s (set worker_binary or use serial mode): %w", worker, err)
	}
	return worker, nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
