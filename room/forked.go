// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/arena-foundation/arena/client"
	"github.com/arena-foundation/arena/handoff"
)

// Forked runs its match in a dedicated arena-worker process, handing
// each client's live connection across with the handoff protocol. The
// lobby process keeps accepting new clients while matches run
// elsewhere.
type Forked struct {
	base
	workerBinary string
	debugPort    int
}

var _ Room = (*Forked)(nil)

// NewForked builds a room that forks a worker on start.
func NewForked(cfg Config, workerBinary string, debugPort int) *Forked {
	return &Forked{base: newBase(cfg), workerBinary: workerBinary, debugPort: debugPort}
}

// Start spawns the worker and runs the handoff on its own goroutine.
func (r *Forked) Start() {
	if !r.markRunning() {
		return
	}
	clients := r.Clients()

	bootstrap := &handoff.Bootstrap{
		SessionID:        r.id,
		GameName:         r.module.Name,
		GameSettings:     r.sessionSettings().Encode(),
		MainDebugPort:    r.debugPort,
		PlayerTimeBudget: r.budget,
	}
	if r.store != nil {
		bootstrap.GamelogBaseURL = r.store.GamelogBase()
		bootstrap.VisualizerURL = r.store.VisualizerBase()
	}

	parent, childEnd, err := handoff.Socketpair()
	if err != nil {
		r.fatal(clients, fmt.Errorf("creating handoff socketpair: %w", err))
		return
	}

	cmd := exec.Command(r.workerBinary)
	cmd.Env = append(os.Environ(), bootstrap.Environ()...)
	cmd.ExtraFiles = []*os.File{childEnd}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		childEnd.Close()
		parent.Close()
		r.fatal(clients, fmt.Errorf("starting worker %s: %w", r.workerBinary, err))
		return
	}
	childEnd.Close()
	r.logger.Info("worker forked", "pid", cmd.Process.Pid)

	go r.runHandoff(parent, cmd, clients)
}

// runHandoff performs the online → client* → done → outcome sequence.
// A failure anywhere mid-handoff is fatal for the room; there is no
// retry path, because partial connection ownership is unrecoverable.
func (r *Forked) runHandoff(parent *handoff.Conn, cmd *exec.Cmd, clients []*client.Client) {
	defer parent.Close()

	outcome, err := r.exchange(parent, clients)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		r.fatal(clients, err)
		return
	}
	if exitErr := cmd.Wait(); exitErr != nil {
		r.logger.Warn("worker exited abnormally", "error", exitErr)
	}

	if outcome.Error != "" {
		r.logger.Error("worker reported session failure", "error", outcome.Error)
		r.CleanUp(nil)
		r.HandleOver(nil)
		return
	}
	r.CleanUp(outcome.Gamelog)
	r.HandleOver(outcome.ClientInfos)
}

func (r *Forked) exchange(parent *handoff.Conn, clients []*client.Client) (*handoff.Outcome, error) {
	online, _, err := parent.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("waiting for worker online: %w", err)
	}
	if online.Type != handoff.TypeOnline {
		return nil, fmt.Errorf("worker sent %q before online", online.Type)
	}
	if online.ProtocolVersion != handoff.Version {
		return nil, fmt.Errorf("worker speaks handoff version %d, want %d",
			online.ProtocolVersion, handoff.Version)
	}

	for _, c := range clients {
		meta := &handoff.ClientMeta{
			Index:      c.Index(),
			Name:       c.Name(),
			Kind:       c.Kind(),
			Spectating: c.Spectating(),
			MetaDeltas: c.MetaDeltas(),
		}
		file, kind, err := c.Detach()
		if err != nil {
			return nil, fmt.Errorf("detaching client %s: %w", c.ID, err)
		}
		meta.Transport = kind
		writeErr := parent.WriteClientFrame(meta, file)
		// The descriptor reference is discarded only after the write
		// carrying it has returned.
		file.Close()
		if writeErr != nil {
			return nil, fmt.Errorf("transferring client %s: %w", c.ID, writeErr)
		}
	}
	if err := parent.WriteFrame(&handoff.Frame{Type: handoff.TypeDone}); err != nil {
		return nil, fmt.Errorf("finishing handoff: %w", err)
	}

	// From here the worker exclusively owns the connections; nothing on
	// this side reads the clients' event streams again.
	frame, _, err := parent.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("waiting for worker outcome: %w", err)
	}
	if frame.Type != handoff.TypeOutcome || frame.Outcome == nil {
		return nil, fmt.Errorf("worker sent %q, want outcome", frame.Type)
	}
	return frame.Outcome, nil
}

// fatal abandons the match: remaining clients get a best-effort notice
// and the room reports an abnormal end.
func (r *Forked) fatal(clients []*client.Client, err error) {
	r.logger.Error("forked match failed", "error", err)
	for _, c := range clients {
		c.Disconnect("internal error running the game")
	}
	r.CleanUp(nil)
	r.HandleOver(nil)
}
