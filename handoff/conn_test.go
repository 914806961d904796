// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package handoff

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"

	"github.com/arena-foundation/arena/gamelog"
	"github.com/arena-foundation/arena/transport"
)

// pair returns both ends of a handoff channel in one process, standing
// in for the lobby and worker sides.
func pair(t *testing.T) (lobby, worker *Conn) {
	t.Helper()
	lobbyEnd, childFile, err := Socketpair()
	if err != nil {
		t.Fatalf("Socketpair() error: %v", err)
	}
	workerEnd, err := Inherited(childFile.Fd())
	if err != nil {
		t.Fatalf("Inherited() error: %v", err)
	}
	t.Cleanup(func() {
		lobbyEnd.Close()
		workerEnd.Close()
	})
	return lobbyEnd, workerEnd
}

func TestFrameRoundTrip(t *testing.T) {
	lobby, worker := pair(t)

	if err := worker.WriteFrame(&Frame{Type: TypeOnline, ProtocolVersion: Version}); err != nil {
		t.Fatalf("WriteFrame(online) error: %v", err)
	}
	frame, file, err := lobby.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if file != nil {
		t.Error("online frame carried a descriptor")
	}
	if frame.Type != TypeOnline || frame.ProtocolVersion != Version {
		t.Errorf("frame = %+v, want online v%d", frame, Version)
	}
}

func TestClientFrameTransfersDescriptor(t *testing.T) {
	lobbyEnd, workerEnd := pair(t)

	// A real TCP connection to transfer.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer listener.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			acceptedCh <- conn
		}
	}()
	peer, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer peer.Close()
	accepted := <-acceptedCh

	file, err := accepted.(*net.TCPConn).File()
	if err != nil {
		t.Fatalf("File() error: %v", err)
	}
	accepted.Close()

	meta := &ClientMeta{Index: 1, Name: "bob", Kind: "go", MetaDeltas: true, Transport: transport.KindTCP}
	if err := lobbyEnd.WriteClientFrame(meta, file); err != nil {
		t.Fatalf("WriteClientFrame() error: %v", err)
	}
	file.Close()

	frame, received, err := workerEnd.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if frame.Type != TypeClient {
		t.Fatalf("frame type = %q, want %q", frame.Type, TypeClient)
	}
	if frame.Client == nil || frame.Client.Name != "bob" || frame.Client.Index != 1 || !frame.Client.MetaDeltas {
		t.Errorf("client meta = %+v", frame.Client)
	}
	if received == nil {
		t.Fatal("client frame carried no descriptor")
	}

	// The transferred descriptor is the same live connection: rebuild
	// the adapter around it and talk to the original peer.
	rebuilt, err := transport.Rebuild(frame.Client.Transport, received)
	if err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}
	defer rebuilt.Close()

	if err := rebuilt.WriteEvent("start", map[string]int{"playerIndex": 1}); err != nil {
		t.Fatalf("WriteEvent() error: %v", err)
	}
	line, err := bufio.NewReader(peer).ReadBytes('\n')
	if err != nil {
		t.Fatalf("peer read error: %v", err)
	}
	var event transport.Event
	if err := json.Unmarshal(line, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.Event != "start" {
		t.Errorf("event = %q, want %q", event.Event, "start")
	}
}

func TestOutcomeFrameCarriesGamelog(t *testing.T) {
	lobbyEnd, workerEnd := pair(t)

	outcome := &Outcome{
		Gamelog: &gamelog.Gamelog{
			GameName:  "Stones",
			SessionID: "4",
			Winners:   []gamelog.Entry{{Index: 0, Name: "alice"}},
			Losers:    []gamelog.Entry{{Index: 1, Name: "bob"}},
		},
		ClientInfos: []gamelog.ClientInfo{
			{Name: "alice", Index: 0, Won: true},
			{Name: "bob", Index: 1, Lost: true},
		},
	}
	if err := workerEnd.WriteFrame(&Frame{Type: TypeOutcome, Outcome: outcome}); err != nil {
		t.Fatalf("WriteFrame(outcome) error: %v", err)
	}

	frame, _, err := lobbyEnd.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if frame.Type != TypeOutcome {
		t.Fatalf("frame type = %q, want %q", frame.Type, TypeOutcome)
	}
	if frame.Outcome.Gamelog.GameName != "Stones" {
		t.Errorf("gamelog game = %q, want Stones", frame.Outcome.Gamelog.GameName)
	}
	if len(frame.Outcome.ClientInfos) != 2 || !frame.Outcome.ClientInfos[0].Won {
		t.Errorf("client infos = %+v", frame.Outcome.ClientInfos)
	}
}

func TestReadFrameOnClosedPeer(t *testing.T) {
	lobbyEnd, workerEnd := pair(t)

	workerEnd.Close()
	if _, _, err := lobbyEnd.ReadFrame(); err == nil {
		t.Error("ReadFrame() after peer close returned nil error")
	}
}

func TestSocketpairChildEndUsableAsFile(t *testing.T) {
	lobbyEnd, childFile, err := Socketpair()
	if err != nil {
		t.Fatalf("Socketpair() error: %v", err)
	}
	defer lobbyEnd.Close()

	// The child end must survive being passed around as a plain file,
	// the way exec.Cmd.ExtraFiles hands it to the worker.
	workerEnd, err := Inherited(childFile.Fd())
	if err != nil {
		t.Fatalf("Inherited() error: %v", err)
	}
	defer workerEnd.Close()

	if err := workerEnd.WriteFrame(&Frame{Type: TypeDone}); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
	frame, _, err := lobbyEnd.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if frame.Type != TypeDone {
		t.Errorf("frame type = %q, want %q", frame.Type, TypeDone)
	}
}
