// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package handoff

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/arena-foundation/arena/lib/codec"
)

// maxFrameSize bounds one handoff packet. Outcome frames carry a full
// gamelog, so the bound is generous.
const maxFrameSize = 16 << 20

// Conn is one end of the handoff socketpair.
type Conn struct {
	uc *net.UnixConn

	// readBuf is reused across ReadFrame calls. Both ends of the
	// handoff read sequentially from a single goroutine.
	readBuf []byte
}

// Socketpair creates the handoff channel: the lobby keeps the returned
// Conn, and childEnd is handed to the forked worker via
// exec.Cmd.ExtraFiles (becoming descriptor 3 in the child). SEQPACKET
// preserves message boundaries, so one write is always one frame.
func Socketpair() (parent *Conn, childEnd *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("creating handoff socketpair: %w", err)
	}

	parentFile := os.NewFile(uintptr(fds[0]), "handoff-parent")
	childFile := os.NewFile(uintptr(fds[1]), "handoff-child")

	conn, err := wrap(parentFile)
	if err != nil {
		childFile.Close()
		return nil, nil, err
	}
	return conn, childFile, nil
}

// Inherited opens the handoff connection the worker inherited at the
// given descriptor.
func Inherited(fd uintptr) (*Conn, error) {
	return wrap(os.NewFile(fd, "handoff"))
}

// wrap converts an *os.File holding a socket into a Conn. The file is
// closed in either case; net.FileConn duplicates the descriptor.
func wrap(file *os.File) (*Conn, error) {
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("opening handoff socket: %w", err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("handoff descriptor is a %T, not a unix socket", conn)
	}
	return &Conn{uc: uc}, nil
}

// WriteFrame sends one frame with no descriptor attached.
func (c *Conn) WriteFrame(frame *Frame) error {
	return c.write(frame, nil)
}

// WriteClientFrame sends a client frame with the connection descriptor
// in the packet's ancillary data. The caller still owns file and
// should close its copy once WriteClientFrame returns. By then the
// kernel has duplicated the descriptor into the receiving process.
func (c *Conn) WriteClientFrame(meta *ClientMeta, file *os.File) error {
	frame := &Frame{Type: TypeClient, Client: meta}
	return c.write(frame, unix.UnixRights(int(file.Fd())))
}

func (c *Conn) write(frame *Frame, oob []byte) error {
	payload, err := codec.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", frame.Type, err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("%s frame of %d bytes exceeds protocol limit", frame.Type, len(payload))
	}
	if _, _, err := c.uc.WriteMsgUnix(payload, oob, nil); err != nil {
		return fmt.Errorf("writing %s frame: %w", frame.Type, err)
	}
	return nil
}

// ReadFrame reads the next frame. If the packet carried a descriptor,
// the returned file wraps it and the caller owns it. A closed peer
// surfaces as an error (io.EOF wrapped); the caller decides whether
// that is fatal.
func (c *Conn) ReadFrame() (*Frame, *os.File, error) {
	if c.readBuf == nil {
		c.readBuf = make([]byte, maxFrameSize)
	}
	payload := c.readBuf
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, flags, _, err := c.uc.ReadMsgUnix(payload, oob)
	if err != nil {
		return nil, nil, fmt.Errorf("reading handoff frame: %w", err)
	}
	if n == 0 {
		return nil, nil, fmt.Errorf("handoff peer closed the socket")
	}
	if flags&unix.MSG_TRUNC != 0 || flags&unix.MSG_CTRUNC != 0 {
		return nil, nil, fmt.Errorf("handoff frame truncated (flags %#x)", flags)
	}

	var file *os.File
	if oobn > 0 {
		file, err = parseDescriptor(oob[:oobn])
		if err != nil {
			return nil, nil, err
		}
	}

	var frame Frame
	if err := codec.Unmarshal(payload[:n], &frame); err != nil {
		if file != nil {
			file.Close()
		}
		return nil, nil, fmt.Errorf("decoding handoff frame: %w", err)
	}
	return &frame, file, nil
}

// Close closes this end of the handoff channel.
func (c *Conn) Close() error {
	return c.uc.Close()
}

// parseDescriptor extracts the single transferred descriptor from
// ancillary data.
func parseDescriptor(oob []byte) (*os.File, error) {
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parsing handoff control message: %w", err)
	}
	for _, message := range messages {
		fds, err := unix.ParseUnixRights(&message)
		if err != nil {
			continue
		}
		if len(fds) != 1 {
			for _, fd := range fds {
				unix.Close(fd)
			}
			return nil, fmt.Errorf("handoff packet carried %d descriptors, want 1", len(fds))
		}
		unix.CloseOnExec(fds[0])
		return os.NewFile(uintptr(fds[0]), "handoff-client"), nil
	}
	return nil, fmt.Errorf("handoff ancillary data carried no descriptor")
}
