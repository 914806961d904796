// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"github.com/arena-foundation/arena/session"
)

// Serial runs its match in-process on a goroutine. Used when forking
// workers is disabled or unavailable.
type Serial struct {
	base
}

var _ Room = (*Serial)(nil)

// NewSerial builds an in-process room.
func NewSerial(cfg Config) *Serial {
	return &Serial{base: newBase(cfg)}
}

// Start runs the session on its own goroutine. On the session's
// terminal event the room cleans up inline; after that nothing in this
// process observes the clients' event streams.
func (r *Serial) Start() {
	if !r.markRunning() {
		return
	}

	var urls session.URLFormatter
	if r.store != nil {
		urls = r.store
	}
	sess, err := session.New(session.Config{
		ID:              r.id,
		Module:          r.module,
		Settings:        r.sessionSettings(),
		Clients:         r.Clients(),
		PerPlayerBudget: r.budget,
		URLs:            urls,
		Clock:           r.clk,
		Logger:          r.logger,
	})
	if err != nil {
		r.logger.Error("session bootstrap failed", "error", err)
		for _, c := range r.Clients() {
			c.Disconnect("internal error starting the game")
		}
		r.CleanUp(nil)
		r.HandleOver(nil)
		return
	}

	sess.Start()
	go func() {
		result := <-sess.Ended()
		if result.Err != nil {
			r.CleanUp(nil)
			r.HandleOver(nil)
			return
		}
		r.CleanUp(result.Gamelog)
		r.HandleOver(result.ClientInfos)
	}()
}
