// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arena-foundation/arena/client"
	"github.com/arena-foundation/arena/game"
	"github.com/arena-foundation/arena/lib/process"
	"github.com/arena-foundation/arena/room"
)

// playRequest is the payload of a play event.
type playRequest struct {
	GameName         string          `json:"gameName"`
	RequestedSession string          `json:"requestedSession"`
	PlayerName       string          `json:"playerName"`
	ClientType       string          `json:"clientType"`
	PlayerIndex      json.RawMessage `json:"playerIndex"`
	Password         string          `json:"password"`
	Spectating       bool            `json:"spectating"`
	MetaDeltas       bool            `json:"metaDeltas"`
	GameSettings     string          `json:"gameSettings"`
}

// noIndex marks a play request without a seat preference.
const noIndex = -1

// parsePlayerIndex normalizes the optional player index: unset, null,
// and -1 all mean no preference; anything else must sanitize to an
// integer.
func parsePlayerIndex(raw json.RawMessage) (int, error) {
	trimmed := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if trimmed == "" || trimmed == "null" || trimmed == "-1" {
		return noIndex, nil
	}
	index, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("playerIndex %q is not an integer", trimmed)
	}
	return index, nil
}

// HandlePlay runs the full matchmaking transaction for one play
// request. A rejected client is told why and disconnected.
func (l *Lobby) HandlePlay(c *client.Client, data json.RawMessage) {
	if err := l.play(c, data); err != nil {
		l.logger.Info("play request rejected", "client", c.ID, "error", err)
		c.Disconnect(err.Error())
	}
}

// play validates, authenticates, and seats one play request. The
// validation order is fixed: payload, draining, alias, player index,
// settings; authentication comes only after the request validates.
func (l *Lobby) play(c *client.Client, data json.RawMessage) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New("play request has no payload")
	}
	if l.isDraining() {
		return errors.New("server is shutting down and not accepting new games")
	}
	var req playRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("malformed play request: %w", err)
	}
	module, err := l.registry.Module(req.GameName)
	if err != nil {
		return err
	}
	index, err := parsePlayerIndex(req.PlayerIndex)
	if err != nil {
		return err
	}
	if index != noIndex && (index < 0 || index >= module.RequiredPlayers) {
		return fmt.Errorf("playerIndex %d out of range for game %s (0 to %d)",
			index, module.Name, module.RequiredPlayers-1)
	}
	if req.GameSettings != "" {
		if err := validateSettings(module, req.GameSettings); err != nil {
			return err
		}
	}

	// Validated; now authenticate. The password is an exact string
	// match.
	if l.cfg.Password != "" && req.Password != l.cfg.Password {
		return errors.New("incorrect password")
	}

	name := req.PlayerName
	if name == "" {
		name = "Anonymous"
	}

	// Resolve, join, and the start decision form one critical section:
	// two clients completing the same room concurrently must not both
	// observe it as startable, and a third must not slip in between the
	// capacity check and the join.
	l.mu.Lock()
	if _, assigned := l.clientRooms[c.ID]; assigned {
		l.mu.Unlock()
		return errors.New("client is already in a room")
	}
	r, err := l.getOrCreateRoomLocked(module, req.RequestedSession)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if !r.Authenticate(req.Password) {
		l.mu.Unlock()
		return fmt.Errorf("incorrect password for room %s", r.ID())
	}
	if index != noIndex {
		for _, existing := range r.Clients() {
			if !existing.Spectating() && existing.Index() == index {
				l.mu.Unlock()
				return fmt.Errorf("seat %d in room %s is already taken", index, r.ID())
			}
		}
	}
	c.SetIdentity(name, req.ClientType, index, req.Spectating, req.MetaDeltas)
	if err := r.AddClient(c); err != nil {
		l.mu.Unlock()
		return err
	}
	if req.GameSettings != "" {
		if err := r.AddGameSettings(req.GameSettings); err != nil {
			l.logger.Debug("settings not applied to room", "room", r.ID(), "error", err)
		}
	}
	l.clientRooms[c.ID] = r
	starting := r.CanStart()
	if starting {
		l.claimRoomLocked(r)
	}
	l.mu.Unlock()

	if err := c.Send("lobbied", struct {
		GameName    string            `json:"gameName"`
		GameVersion string            `json:"gameVersion"`
		Session     string            `json:"session"`
		Constants   map[string]string `json:"constants"`
	}{
		GameName:    module.Name,
		GameVersion: module.Version,
		Session:     r.ID(),
		Constants:   sharedConstants,
	}); err != nil {
		// The client is seated and a claimed room must still launch; a
		// broken connection surfaces later as a disconnect.
		l.logger.Debug("lobbied event not delivered", "client", c.ID, "error", err)
	}
	l.logger.Info("client lobbied",
		"client", c.ID, "name", name, "game", module.Name, "room", r.ID(), "spectating", req.Spectating)

	if starting {
		l.launchRoom(r)
	}
	return nil
}

// validateSettings checks encoded settings against the module's
// schema; errors carry the settings help text so a rejected client can
// self-correct.
func validateSettings(module *game.Module, encoded string) error {
	settings, err := game.ParseSettings(encoded)
	if err == nil {
		if module.Settings == nil {
			if len(settings) > 0 {
				err = fmt.Errorf("game %s accepts no settings", module.Name)
			}
		} else {
			err = module.Settings.Validate(settings)
		}
	}
	if err == nil {
		return nil
	}
	if module.Settings != nil {
		return fmt.Errorf("%w\n%s", err, module.Settings.Help())
	}
	return err
}

// HandleAlias replies with the canonical game name for an alias, or
// disconnects the client if the alias is unknown.
func (l *Lobby) HandleAlias(c *client.Client, data json.RawMessage) {
	var alias string
	if err := json.Unmarshal(data, &alias); err != nil {
		c.Disconnect("malformed alias request")
		return
	}
	name, err := l.GameNameForAlias(alias)
	if err != nil {
		c.Disconnect(err.Error())
		return
	}
	if err := c.Send("named", name); err != nil {
		l.logger.Debug("named reply not delivered", "client", c.ID, "error", err)
	}
}

// claimRoomLocked moves a completed room to the playing registry and
// releases its clients from lobby observation. Caller holds l.mu; the
// match itself is launched afterwards via launchRoom.
func (l *Lobby) claimRoomLocked(r room.Room) {
	gameName := r.Module().Name
	delete(l.rooms[gameName], r.ID())
	l.roomsPlaying[gameName][r.ID()] = r
	for _, c := range r.Clients() {
		delete(l.unassigned, c.ID)
		delete(l.clientRooms, c.ID)
		if released, ok := l.released[c.ID]; ok {
			close(released)
			delete(l.released, c.ID)
		}
	}
}

// launchRoom starts a claimed room's match and watches for its end.
func (l *Lobby) launchRoom(r room.Room) {
	l.logger.Info("room starting", "game", r.Module().Name, "room", r.ID(), "mode", l.cfg.Mode)
	r.Start()
	go func() {
		<-r.Over()
		l.roomOver(r)
	}()
}

// roomOver retires a finished room and, when draining, exits once the
// last match ends.
func (l *Lobby) roomOver(r room.Room) {
	gameName := r.Module().Name

	l.mu.Lock()
	l.evictRoomLocked(gameName, r.ID())
	draining := l.draining
	running := l.runningCountLocked()
	l.mu.Unlock()

	l.logger.Info("room over",
		"game", gameName, "room", r.ID(), "gamelog", r.GamelogFilename(), "running", running)
	if draining && running == 0 {
		l.logger.Info("last session finished, exiting")
		l.exit(process.ExitOK)
	}
}

// ClientDisconnected drops a client from the unassigned set and from
// its not-yet-started room; a room left empty is evicted.
func (l *Lobby) ClientDisconnected(c *client.Client, reason string) {
	l.mu.Lock()
	delete(l.unassigned, c.ID)
	delete(l.released, c.ID)
	r := l.clientRooms[c.ID]
	delete(l.clientRooms, c.ID)
	l.mu.Unlock()

	l.logger.Debug("client disconnected", "client", c.ID, "reason", reason)
	if r == nil || r.IsRunning() || r.IsOver() {
		return
	}
	r.RemoveClient(c)
	if len(r.Clients()) == 0 {
		l.mu.Lock()
		l.evictRoomLocked(r.Module().Name, r.ID())
		l.mu.Unlock()
	}
}

func (l *Lobby) isDraining() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draining
}

// runningCountLocked counts rooms with live matches. Caller holds l.mu.
func (l *Lobby) runningCountLocked() int {
	count := 0
	for _, byID := range l.roomsPlaying {
		count += len(byID)
	}
	return count
}

// ShutDown drains the lobby. The first call stops accepting play
// requests, disconnects all unassigned clients, and exits immediately
// if no matches are running; every later call force-exits regardless.
func (l *Lobby) ShutDown() {
	l.mu.Lock()
	if l.draining {
		l.mu.Unlock()
		l.logger.Warn("repeated shutdown signal, force exiting")
		l.exit(process.ExitOK)
		return
	}
	l.draining = true
	listeners := l.listeners
	unassigned := make([]*client.Client, 0, len(l.unassigned))
	for _, c := range l.unassigned {
		unassigned = append(unassigned, c)
	}
	running := l.runningCountLocked()
	l.mu.Unlock()

	for _, listener := range listeners {
		listener.Close()
	}
	for _, c := range unassigned {
		c.Disconnect("server is shutting down")
	}
	l.logger.Info("draining", "unassigned", len(unassigned), "running", running)
	if running == 0 {
		l.exit(process.ExitOK)
	}
}
