// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package handoff

import "github.com/arena-foundation/arena/gamelog"

// Version is the handoff protocol version, carried on the online frame
// so a lobby can refuse a worker binary it does not understand.
const Version = 1

// Frame types.
const (
	TypeOnline  = "online"
	TypeClient  = "client"
	TypeDone    = "done"
	TypeOutcome = "outcome"
)

// Frame is one handoff protocol message.
type Frame struct {
	// Type is one of the Type constants.
	Type string `cbor:"type"`

	// ProtocolVersion is set on online frames.
	ProtocolVersion int `cbor:"protocol_version,omitempty"`

	// Client carries the metadata for one transferred connection. The
	// connection descriptor itself travels in the packet's SCM_RIGHTS
	// ancillary data, never in the frame body.
	Client *ClientMeta `cbor:"client,omitempty"`

	// Outcome carries the session result on outcome frames.
	Outcome *Outcome `cbor:"outcome,omitempty"`
}

// ClientMeta is everything the worker needs to reconstruct an
// equivalent client around the transferred descriptor.
type ClientMeta struct {
	// Index is the assigned player index, -1 for spectators.
	Index int `cbor:"index"`

	// Name is the display name the client declared.
	Name string `cbor:"name"`

	// Kind is the client kind/language tag.
	Kind string `cbor:"kind"`

	// Spectating marks clients excluded from the playing array.
	Spectating bool `cbor:"spectating"`

	// MetaDeltas marks clients that opted into the full delta
	// envelope.
	MetaDeltas bool `cbor:"meta_deltas"`

	// Transport is the adapter kind (transport.KindTCP or
	// transport.KindWebSocket) to rebuild around the descriptor.
	Transport string `cbor:"transport"`
}

// Outcome is the worker's final report. Exactly one of
// Gamelog+ClientInfos or Error is populated.
type Outcome struct {
	Gamelog     *gamelog.Gamelog     `cbor:"gamelog,omitempty"`
	ClientInfos []gamelog.ClientInfo `cbor:"client_infos,omitempty"`
	Error       string               `cbor:"error,omitempty"`
}
