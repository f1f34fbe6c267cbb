// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package duplex allocates the byte channels that carry captured
// console output from the host process to runlog-sync.
//
// A Channel carries bytes over a pipe. The host end is written by the
// stream redirector's tee; the child end is inherited by runlog-sync,
// which reads the captured bytes.
//
// When the host stream is a terminal the channel also holds a
// pseudo-terminal pair. The redirector installs the slave on the
// stream's descriptor, so programs that check isatty on their stdout
// keep producing terminal output (progress bars, colors), and reads the
// master to feed the tee. The pty is put in raw mode and sized like the
// host terminal. Without a terminal, or when the platform has no pty
// support, the program's stream is redirected onto a plain pipe.
//
// Reading a pty master after every slave descriptor is closed fails
// with EIO on Linux rather than returning io.EOF. Use IsEOF to treat
// both the same way.
package duplex

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Kind names which standard stream a channel captures.
type Kind int

const (
	Stdout Kind = iota
	Stderr
)

func (k Kind) String() string {
	switch k {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// File returns the process's stream of this kind.
func (k Kind) File() *os.File {
	if k == Stderr {
		return os.Stderr
	}
	return os.Stdout
}

// Mode selects the channel implementation.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModePTY  Mode = "pty"
	ModePipe Mode = "pipe"
)

// errNoPTY is returned by openPTY on platforms without pty support.
var errNoPTY = errors.New("pseudo-terminals not supported on this platform")

// Channel is one allocated capture channel.
type Channel struct {
	kind   Kind
	host   *os.File
	child  *os.File
	master *os.File
	slave  *os.File
}

// Open allocates a channel for kind. ModeAuto picks a pty when the
// process's stream of that kind is a terminal. ModePTY falls back to a
// pipe where ptys are unsupported.
func Open(kind Kind, mode Mode) (*Channel, error) {
	return OpenFor(kind, mode, kind.File())
}

// OpenFor is Open with an explicit host stream used for the terminal
// check and window size.
func OpenFor(kind Kind, mode Mode, hostStream *os.File) (*Channel, error) {
	usePTY := false
	switch mode {
	case ModePTY:
		usePTY = true
	case ModeAuto, "":
		usePTY = hostStream != nil && term.IsTerminal(int(hostStream.Fd()))
	case ModePipe:
	default:
		return nil, fmt.Errorf("duplex: unknown mode %q", mode)
	}

	channel := &Channel{kind: kind}
	if usePTY {
		master, slave, err := openPTY()
		switch {
		case err == nil:
			configurePTY(slave, hostStream)
			channel.master, channel.slave = master, slave
		case !errors.Is(err, errNoPTY):
			return nil, fmt.Errorf("allocating %s pty: %w", kind, err)
		}
	}

	reader, writer, err := os.Pipe()
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("allocating %s pipe: %w", kind, err)
	}
	channel.host, channel.child = writer, reader
	return channel, nil
}

// configurePTY puts the slave in raw mode, so captured bytes match what
// the program wrote, and copies the host terminal's size. Both are
// best-effort. Only the slave's descriptor is touched: the master must
// stay in non-blocking mode so Close interrupts a pending Read.
func configurePTY(slave, hostStream *os.File) {
	fd := int(slave.Fd())
	_, _ = term.MakeRaw(fd)
	if hostStream == nil {
		return
	}
	columns, rows, err := term.GetSize(int(hostStream.Fd()))
	if err != nil {
		return
	}
	_ = unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, &unix.Winsize{
		Col: uint16(columns),
		Row: uint16(rows),
	})
}

// Kind returns which stream the channel captures.
func (c *Channel) Kind() Kind { return c.kind }

// PTY reports whether the channel carries a pseudo-terminal pair.
func (c *Channel) PTY() bool { return c.slave != nil }

// Host returns the write end owned by the redirector.
func (c *Channel) Host() *os.File { return c.host }

// Child returns the read end handed to runlog-sync.
func (c *Channel) Child() *os.File { return c.child }

// Slave returns the terminal installed on the captured stream, or nil
// for a pipe-only channel.
func (c *Channel) Slave() *os.File { return c.slave }

// Master returns the controlling side of Slave, or nil.
func (c *Channel) Master() *os.File { return c.master }

// CloseChild closes the host process's copy of the child end. Called
// by the supervisor once the child has inherited it.
func (c *Channel) CloseChild() error {
	return closeFile(c.child)
}

// CloseHost closes the host end. After this and the child's own
// copies are gone, the reader sees EOF.
func (c *Channel) CloseHost() error {
	return closeFile(c.host)
}

// Close closes both ends and the pty pair, if any.
func (c *Channel) Close() error {
	return errors.Join(c.CloseHost(), c.CloseChild(), closeFile(c.slave), closeFile(c.master))
}

func closeFile(file *os.File) error {
	if file == nil {
		return nil
	}
	if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// IsEOF reports whether err from reading a child end means the
// writer side is gone.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, unix.EIO) || errors.Is(err, os.ErrClosed)
}
