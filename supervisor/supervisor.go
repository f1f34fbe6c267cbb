// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor starts runlog-sync for a run and proves it is
// ready before returning.
//
// Launch binds the handshake listener, spawns the sync binary with a
// JSON bundle argument and the captured streams' child ends inherited
// as fds 3 and 4, then blocks on the handshake. If the child does not
// report ready within the handshake timeout (or reports failure), it is
// killed, its termination is polled for, and a *LaunchError pointing
// at the debug log is returned. There is no retry.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bureau-foundation/runlog/handshake"
	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/debuglog"
	"github.com/bureau-foundation/runlog/lib/duplex"
	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/protocol"
)

// Defaults for Config's zero durations.
const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultKillTimeout      = 2 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
)

// Config describes one launch.
type Config struct {
	// Binary is the sync executable.
	Binary string

	// Args are extra arguments placed before the bundle (for example
	// "--settings PATH").
	Args []string

	RunID   string
	RunDir  string
	BaseDir string
	Cloud   bool

	// Env is the complete child environment. Nil inherits.
	Env []string

	// Stdout and Stderr are the capture channels whose child ends the
	// sync process inherits. Either may be nil when that stream is not
	// captured. Launch closes the host process's copies of the child
	// ends once the child has started, whatever the outcome.
	Stdout *duplex.Channel
	Stderr *duplex.Channel

	// ChildOutput receives the sync process's own stdout and stderr.
	// Nil discards them.
	ChildOutput io.Writer

	HandshakeTimeout time.Duration
	KillTimeout      time.Duration
	PollInterval     time.Duration

	// DebugLog is the path named in LaunchError messages.
	DebugLog string

	Clock  clock.Clock
	Logger *slog.Logger
}

// LaunchError is the fatal failure to bring runlog-sync to ready, or
// to prepare the run for it.
type LaunchError struct {
	Reason   string
	DebugLog string

	// PID is the killed sync process, 0 when none was started.
	PID int

	Err error
}

func (e *LaunchError) Error() string {
	message := e.Reason
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	if e.DebugLog != "" {
		message += " (see " + e.DebugLog + " for details)"
	}
	return message
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Launch spawns runlog-sync and waits for its handshake.
func Launch(ctx context.Context, config Config) (*Handle, error) {
	config.applyDefaults()
	logger := config.Logger

	fail := func(reason string, err error) *LaunchError {
		return &LaunchError{Reason: reason, DebugLog: config.DebugLog, Err: err}
	}

	if _, err := os.Stat(config.RunDir); err != nil {
		config.closeChildEnds()
		return nil, fail("run directory missing", err)
	}

	listener, err := handshake.Listen(config.RunID)
	if err != nil {
		config.closeChildEnds()
		return nil, fail("opening handshake listener", err)
	}
	defer listener.Close()

	bundle := protocol.Bundle{
		Command:  protocol.BundleCommand,
		RunID:    config.RunID,
		RunDir:   config.RunDir,
		BaseDir:  config.BaseDir,
		PID:      os.Getpid(),
		StdoutFD: -1,
		StderrFD: -1,
		Cloud:    config.Cloud,
		Port:     listener.Port(),
		Address:  listener.Address(),
	}
	var inherit []*os.File
	if config.Stdout != nil {
		bundle.StdoutFD = process.InheritedFD(len(inherit))
		inherit = append(inherit, config.Stdout.Child())
	}
	if config.Stderr != nil {
		bundle.StderrFD = process.InheritedFD(len(inherit))
		inherit = append(inherit, config.Stderr.Child())
	}
	argument, err := bundle.Encode()
	if err != nil {
		config.closeChildEnds()
		return nil, fail("building spawn bundle", err)
	}

	child, err := process.Spawn(process.Command{
		Path:    config.Binary,
		Args:    append(append([]string(nil), config.Args...), argument),
		Env:     config.Env,
		Inherit: inherit,
		Stdout:  config.ChildOutput,
		Stderr:  config.ChildOutput,
	})
	config.closeChildEnds()
	if err != nil {
		return nil, fail("starting sync process", err)
	}
	logger.Info("sync process started", "pid", child.PID(), "binary", config.Binary, "handshake", listener.Address())

	handle := &Handle{
		process:      child,
		clock:        config.Clock,
		pollInterval: config.PollInterval,
		logger:       logger,
	}

	session, err := listener.Accept(ctx, config.HandshakeTimeout)
	if err != nil {
		reason := "sync process failed to start"
		if errors.Is(err, handshake.ErrTimeout) {
			reason = fmt.Sprintf("sync process not ready after %s", config.HandshakeTimeout)
		}
		logger.Error("handshake failed, killing sync process", "pid", child.PID(), "error", err)
		if killErr := child.Kill(); killErr != nil {
			logger.Error("killing sync process", "pid", child.PID(), "error", killErr)
		}
		if !handle.poll(context.Background(), config.KillTimeout) {
			logger.Error("sync process still alive after kill", "pid", child.PID(), "timeout", config.KillTimeout)
		}
		launchErr := fail(reason, err)
		launchErr.PID = child.PID()
		return nil, launchErr
	}

	handle.session = session
	logger.Info("sync process ready", "pid", child.PID())
	return handle, nil
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = DefaultKillTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	c.Logger = debuglog.Subsystem(c.Logger, "supervisor")
}

func (c *Config) closeChildEnds() {
	for _, channel := range []*duplex.Channel{c.Stdout, c.Stderr} {
		if channel != nil {
			channel.CloseChild()
		}
	}
}
