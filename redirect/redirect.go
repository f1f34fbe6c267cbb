// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package redirect tees a process's standard stream at the file
// descriptor level.
//
// Redirect replaces the target descriptor (1 or 2) with the write end
// of a pipe, or with a pseudo-terminal slave when one is configured so
// the stream stays a terminal. Everything the process writes to it,
// including output from C libraries and subprocesses that inherited
// it, passes through a pump goroutine reading the other side. The pump writes each chunk to the original
// destination first and then to the sink (a duplex channel's host
// end). A failing sink is dropped; the original destination keeps
// receiving output.
//
// Restore puts the original descriptor back, drains the pump, and
// closes the sink. Nothing written after Restore reaches the sink.
package redirect

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/runlog/lib/debuglog"
)

// DefaultDrainTimeout bounds how long Restore waits for the pump.
const DefaultDrainTimeout = time.Second

// Config describes one redirection.
type Config struct {
	// Target is the stream to redirect, normally os.Stdout or
	// os.Stderr. Its descriptor number is what gets replaced.
	Target *os.File

	// Sink receives a copy of every byte. Closed by Restore.
	Sink io.WriteCloser

	// Terminal, when set, is installed on the target descriptor in
	// place of a pipe and Master is read by the pump. The redirector
	// owns both once Redirect succeeds.
	Terminal *os.File
	Master   *os.File

	// DrainTimeout bounds Restore's wait for buffered output. Zero
	// means DefaultDrainTimeout.
	DrainTimeout time.Duration

	Logger *slog.Logger
}

// Redirector owns one redirected descriptor.
type Redirector struct {
	target       *os.File
	sink         io.WriteCloser
	terminal     *os.File
	master       *os.File
	drainTimeout time.Duration
	logger       *slog.Logger

	mu         sync.Mutex
	redirected bool
	restored   bool
	saved      int      // dup of the original descriptor
	original   *os.File // saved, wrapped for writing
	reader     *os.File
	pumpDone   chan struct{}
}

// New prepares a redirector. Nothing changes until Redirect.
func New(config Config) *Redirector {
	drain := config.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	return &Redirector{
		target:       config.Target,
		sink:         config.Sink,
		terminal:     config.Terminal,
		master:       config.Master,
		drainTimeout: drain,
		logger:       debuglog.Subsystem(config.Logger, "redirect"),
		saved:        -1,
	}
}

// Redirect installs the tee. Calling it twice is an error; calling it
// after Restore is an error.
func (r *Redirector) Redirect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.restored {
		return errors.New("redirect: already restored")
	}
	if r.redirected {
		return errors.New("redirect: already redirected")
	}

	targetFD := int(r.target.Fd())
	saved, err := unix.Dup(targetFD)
	if err != nil {
		return fmt.Errorf("duplicating fd %d: %w", targetFD, err)
	}
	unix.CloseOnExec(saved)

	reader, writer := r.master, r.terminal
	if r.terminal == nil || r.master == nil {
		reader, writer, err = os.Pipe()
		if err != nil {
			unix.Close(saved)
			return fmt.Errorf("creating redirect pipe: %w", err)
		}
	}
	// The target descriptor is shared with C code and subprocesses
	// that expect blocking writes.
	if err := unix.SetNonblock(int(writer.Fd()), false); err != nil {
		unix.Close(saved)
		reader.Close()
		writer.Close()
		return fmt.Errorf("configuring redirect pipe: %w", err)
	}
	if err := dupTo(int(writer.Fd()), targetFD); err != nil {
		unix.Close(saved)
		reader.Close()
		writer.Close()
		return fmt.Errorf("installing redirect on fd %d: %w", targetFD, err)
	}
	// targetFD now refers to the pipe or terminal; this copy is
	// redundant.
	writer.Close()

	r.saved = saved
	r.original = os.NewFile(uintptr(saved), r.target.Name()+" (original)")
	r.reader = reader
	r.pumpDone = make(chan struct{})
	r.redirected = true

	go r.pump(r.reader, r.original, r.sink, r.pumpDone)
	r.logger.Debug("stream redirected", "fd", targetFD, "terminal", r.terminal != nil)
	return nil
}

// pump copies until the last writer of the pipe or terminal is gone.
func (r *Redirector) pump(reader io.Reader, original io.Writer, sink io.Writer, done chan<- struct{}) {
	defer close(done)
	buffer := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buffer)
		if n > 0 {
			chunk := buffer[:n]
			if _, writeErr := original.Write(chunk); writeErr != nil {
				r.logger.Warn("writing to original stream", "error", writeErr)
			}
			if sink != nil {
				if _, writeErr := sink.Write(chunk); writeErr != nil {
					r.logger.Warn("capture sink failed, continuing without it", "error", writeErr)
					sink = nil
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// Restore reinstates the original descriptor and closes the sink. It
// is idempotent and safe to call without a prior Redirect.
func (r *Redirector) Restore() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.restored {
		return nil
	}
	r.restored = true

	var errs []error
	if r.redirected {
		targetFD := int(r.target.Fd())
		// Dropping the redirect from targetFD leaves the pump reading
		// until every inherited copy of the write end is closed.
		if err := dupTo(r.saved, targetFD); err != nil {
			errs = append(errs, fmt.Errorf("restoring fd %d: %w", targetFD, err))
		}

		select {
		case <-r.pumpDone:
		case <-time.After(r.drainTimeout):
			// A subprocess still holds the write end. Close our
			// reader to unblock the pump.
			r.logger.Warn("stream drain timed out", "fd", targetFD, "timeout", r.drainTimeout)
			r.reader.Close()
			<-r.pumpDone
		}
		r.reader.Close()
		if err := r.original.Close(); err != nil {
			errs = append(errs, err)
		}
		r.logger.Debug("stream restored", "fd", targetFD)
	}

	if r.sink != nil {
		if err := r.sink.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("closing capture sink: %w", err))
		}
	}
	return errors.Join(errs...)
}
