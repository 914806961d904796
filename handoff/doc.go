// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package handoff implements the one-shot bootstrap protocol between
// the lobby and a forked match worker.
//
// The lobby creates a SOCK_SEQPACKET socketpair before forking; the
// worker inherits one end as file descriptor 3. Every message is one
// CBOR-encoded [Frame] in one packet, so message boundaries come from
// the socket itself. The sequence is fixed:
//
//	worker → lobby:  online               (worker ready to own clients)
//	lobby  → worker: client × N           (metadata + connection descriptor in SCM_RIGHTS)
//	lobby  → worker: done                 (all clients transferred)
//	worker → lobby:  outcome              (gamelog + client infos, or an error)
//
// A connection descriptor rides in the ancillary data of the same
// packet as its client frame, so metadata and descriptor can never be
// observed separately. The lobby discards its reference to a
// descriptor only after the write carrying it returns; from the done
// frame onward the worker exclusively owns every transferred
// connection. A worker that dies mid-sequence is a fatal, unretried
// condition for its room.
package handoff
