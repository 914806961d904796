// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// arena-worker runs one match on behalf of an arena-server. It is
// never started by hand: the server forks it with bootstrap data in
// the environment and its end of the handoff socketpair inherited as
// file descriptor 3.
//
// Protocol: the worker announces itself online, receives one client
// message per transferred connection (the descriptor rides in the same
// packet), then a done message; it runs the session to completion,
// reports the outcome in a single message, and exits.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/arena-foundation/arena/client"
	"github.com/arena-foundation/arena/game"
	"github.com/arena-foundation/arena/gamelog"
	"github.com/arena-foundation/arena/games"
	"github.com/arena-foundation/arena/handoff"
	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/lib/process"
	"github.com/arena-foundation/arena/session"
	"github.com/arena-foundation/arena/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	bootstrap, err := handoff.ParseBootstrap()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(bootstrap.LogLevel),
	})).With("session", bootstrap.SessionID)
	slog.SetDefault(logger)
	if bootstrap.MainDebugPort != 0 {
		logger.Debug("lobby debugger hint", "port", bootstrap.MainDebugPort)
	}

	registry, err := games.DefaultRegistry()
	if err != nil {
		return fmt.Errorf("registering game modules: %w", err)
	}
	module, err := registry.Module(bootstrap.GameName)
	if err != nil {
		return err
	}
	settings, err := game.ParseSettings(bootstrap.GameSettings)
	if err != nil {
		return fmt.Errorf("parsing bootstrap settings: %w", err)
	}
	if module.Settings != nil {
		settings = module.Settings.ApplyDefaults(settings)
	}

	conn, err := handoff.Inherited(handoff.ChildFD)
	if err != nil {
		return fmt.Errorf("opening inherited handoff socket: %w", err)
	}
	defer conn.Close()

	clients, err := receiveClients(conn, logger)
	if err != nil {
		return err
	}
	logger.Info("handoff complete", "game", module.Name, "clients", len(clients))

	sess, err := session.New(session.Config{
		ID:              bootstrap.SessionID,
		Module:          module,
		Settings:        settings,
		Clients:         clients,
		PerPlayerBudget: bootstrap.PlayerTimeBudget,
		URLs: gamelog.URLs{
			GamelogBase:    bootstrap.GamelogBaseURL,
			VisualizerBase: bootstrap.VisualizerURL,
		},
		Clock:  clock.Real(),
		Logger: logger,
	})
	if err != nil {
		reportErr := conn.WriteFrame(&handoff.Frame{
			Type:    handoff.TypeOutcome,
			Outcome: &handoff.Outcome{Error: err.Error()},
		})
		return errors.Join(err, reportErr)
	}

	sess.Start()
	result := <-sess.Ended()

	outcome := &handoff.Outcome{}
	if result.Err != nil {
		outcome.Error = result.Err.Error()
	} else {
		outcome.Gamelog = result.Gamelog
		outcome.ClientInfos = result.ClientInfos
	}
	if err := conn.WriteFrame(&handoff.Frame{Type: handoff.TypeOutcome, Outcome: outcome}); err != nil {
		return fmt.Errorf("reporting outcome: %w", err)
	}
	logger.Info("match finished", "failed", result.Err != nil)
	return nil
}

// receiveClients announces the worker online and rebuilds one client
// per transferred connection until the done message.
func receiveClients(conn *handoff.Conn, logger *slog.Logger) ([]*client.Client, error) {
	err := conn.WriteFrame(&handoff.Frame{
		Type:            handoff.TypeOnline,
		ProtocolVersion: handoff.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("announcing online: %w", err)
	}

	var clients []*client.Client
	for {
		frame, file, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("server closed the handoff mid-sequence")
			}
			return nil, fmt.Errorf("reading handoff frame: %w", err)
		}
		switch frame.Type {
		case handoff.TypeDone:
			return clients, nil
		case handoff.TypeClient:
			if frame.Client == nil || file == nil {
				return nil, errors.New("client frame without metadata or descriptor")
			}
			wire, err := transport.Rebuild(frame.Client.Transport, file)
			if err != nil {
				return nil, err
			}
			c := client.New(wire, logger, clock.Real())
			c.SetIdentity(frame.Client.Name, frame.Client.Kind, frame.Client.Index,
				frame.Client.Spectating, frame.Client.MetaDeltas)
			clients = append(clients, c)
		default:
			return nil, fmt.Errorf("unexpected handoff frame %q", frame.Type)
		}
	}
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
