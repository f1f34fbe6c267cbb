// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/runlog/handshake"
	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/protocol"
)

// ErrFinished is returned by Send after Finish.
var ErrFinished = errors.New("supervisor: control link finished")

// Handle is a ready runlog-sync process and its control link.
type Handle struct {
	process      *process.Process
	session      *handshake.Session
	clock        clock.Clock
	pollInterval time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	finished bool
}

// PID returns the sync process id.
func (h *Handle) PID() int {
	return h.process.PID()
}

// Version returns the version the sync process reported at handshake.
func (h *Handle) Version() string {
	return h.session.PeerVersion()
}

// Alive reports whether the sync process is still running.
func (h *Handle) Alive() bool {
	return h.process.Alive()
}

// Exited is closed when the sync process has been reaped.
func (h *Handle) Exited() <-chan struct{} {
	return h.process.Exited()
}

// ExitCode returns the sync process exit code, -1 while running.
func (h *Handle) ExitCode() int {
	return h.process.ExitCode()
}

// Send writes one control frame.
func (h *Handle) Send(message protocol.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return ErrFinished
	}
	return h.session.Send(message)
}

// Finish sends the done frame with the host's exit code and
// half-closes the control link. Later calls are no-ops.
func (h *Handle) Finish(exitCode int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return nil
	}
	h.finished = true
	sendErr := h.session.Send(protocol.Done(exitCode))
	return errors.Join(sendErr, h.session.CloseWrite())
}

// Wait polls Alive every poll interval until the process exits,
// timeout passes, or ctx is cancelled. It reports whether the process
// exited.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) bool {
	return h.poll(ctx, timeout)
}

// Kill sends SIGKILL and closes the control link.
func (h *Handle) Kill() error {
	err := h.process.Kill()
	h.Close()
	return err
}

// Close closes the control link without signalling the process.
func (h *Handle) Close() error {
	if h.session == nil {
		return nil
	}
	h.mu.Lock()
	h.finished = true
	h.mu.Unlock()
	return h.session.Close()
}

func (h *Handle) poll(ctx context.Context, timeout time.Duration) bool {
	deadline := h.clock.Now().Add(timeout)
	for {
		if !h.process.Alive() {
			return true
		}
		if !h.clock.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !h.process.Alive()
		case <-h.process.Exited():
			return true
		case <-h.clock.After(h.pollInterval):
		}
	}
}
