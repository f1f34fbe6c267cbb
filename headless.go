// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"context"
	"fmt"
	"os"

	"github.com/bureau-foundation/runlog/history"
	"github.com/bureau-foundation/runlog/lib/duplex"
	"github.com/bureau-foundation/runlog/lib/env"
	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/lib/settings"
	"github.com/bureau-foundation/runlog/protocol"
	"github.com/bureau-foundation/runlog/redirect"
	"github.com/bureau-foundation/runlog/shutdown"
	"github.com/bureau-foundation/runlog/sink"
	"github.com/bureau-foundation/runlog/sink/localstore"
	"github.com/bureau-foundation/runlog/supervisor"
)

// startHeadless launches runlog-sync, attaches the history and config
// to its control link, registers shutdown, and redirects the console.
// The console is redirected last so launch failures still reach the
// terminal.
func (r *Run) startHeadless(ctx context.Context) error {
	captureStdout, captureStderr := r.captureTargets()
	var channels []*duplex.Channel
	openChannel := func(kind duplex.Kind, target *os.File) (*duplex.Channel, error) {
		channel, err := duplex.OpenFor(kind, duplex.Mode(r.settings.Console), target)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
		return channel, nil
	}
	closeChannels := func() {
		for _, channel := range channels {
			channel.Close()
		}
	}

	var stdoutChannel, stderrChannel *duplex.Channel
	var err error
	if captureStdout != nil {
		if stdoutChannel, err = openChannel(duplex.Stdout, captureStdout); err != nil {
			closeChannels()
			return &LaunchError{Reason: "allocating capture channel", DebugLog: r.DebugLog(), Err: err}
		}
	}
	if captureStderr != nil {
		if stderrChannel, err = openChannel(duplex.Stderr, captureStderr); err != nil {
			closeChannels()
			return &LaunchError{Reason: "allocating capture channel", DebugLog: r.DebugLog(), Err: err}
		}
	}

	binary := r.options.SyncBinary
	if binary == "" {
		binary = r.settings.SyncBinary
	}
	overrides := r.identity.environment()
	overrides[env.Dir] = r.baseDir
	supervision := r.settings.Supervisor
	handle, err := supervisor.Launch(ctx, supervisor.Config{
		Binary:           binary,
		Args:             r.options.SyncArgs,
		RunID:            r.id,
		RunDir:           r.dir,
		BaseDir:          r.baseDir,
		Cloud:            r.settings.Remote.URL != "",
		Env:              env.Snapshot(os.Environ(), overrides),
		Stdout:           stdoutChannel,
		Stderr:           stderrChannel,
		HandshakeTimeout: supervision.HandshakeTimeout.Std(),
		KillTimeout:      supervision.KillTimeout.Std(),
		PollInterval:     supervision.PollInterval.Std(),
		DebugLog:         r.DebugLog(),
		Clock:            r.clock,
		Logger:           r.logger,
	})
	if err != nil {
		closeChannels()
		return err
	}
	r.handle = handle
	r.send = handle.Send
	r.terminal.Infof("Started sync process version %s with PID %d", handle.Version(), handle.PID())
	r.terminal.Infof("Syncing run %s to %s", r.id, r.dir)

	r.history = history.New(history.Config{
		RunID:  r.id,
		Start:  r.started,
		Send:   r.send,
		Clock:  r.clock,
		Logger: r.logger,
	})
	r.config.Attach(r.send)

	var redirectors []*redirect.Redirector
	for _, pair := range []struct {
		target  *os.File
		channel *duplex.Channel
	}{
		{captureStdout, stdoutChannel},
		{captureStderr, stderrChannel},
	} {
		if pair.channel == nil {
			continue
		}
		redirectors = append(redirectors, redirect.New(redirect.Config{
			Target:       pair.target,
			Sink:         pair.channel.Host(),
			Terminal:     pair.channel.Slave(),
			Master:       pair.channel.Master(),
			DrainTimeout: supervision.DrainTimeout.Std(),
			Logger:       r.logger,
		}))
	}
	var streams []shutdown.Restorer
	for _, redirector := range redirectors {
		streams = append(streams, redirector)
	}
	r.coordinator = r.newCoordinator(streams, handle, func(int) {
		if err := handle.Close(); err != nil {
			r.logger.Warn("closing control link", "error", err)
		}
	})
	r.coordinator.Watch()

	for _, redirector := range redirectors {
		if err := redirector.Redirect(); err != nil {
			// The run is already active from runlog-sync's point of
			// view; an unredirected stream only loses capture.
			r.logger.Error("redirecting console", "error", err)
		}
	}
	return nil
}

// captureTargets returns the streams to capture. Console "off"
// captures nothing; debug mode leaves stderr alone so the debug log
// tee stays visible.
func (r *Run) captureTargets() (stdout, stderr *os.File) {
	if r.settings.Console == settings.ConsoleOff {
		return nil, nil
	}
	stdout = r.options.stdout()
	if !r.settings.Debug {
		stderr = r.options.stderr()
	}
	return stdout, stderr
}

// startLocal records straight into the run directory's local store.
func (r *Run) startLocal() error {
	store, err := localstore.Open(localstore.Config{RunDir: r.dir, RunID: r.id, Logger: r.logger})
	if err != nil {
		return &LaunchError{Reason: "opening local store", DebugLog: r.DebugLog(), Err: err}
	}
	r.send = func(message protocol.Message) error {
		return store.Write(context.Background(), message)
	}
	r.history = history.New(history.Config{
		RunID:  r.id,
		Start:  r.started,
		Send:   r.send,
		Clock:  r.clock,
		Logger: r.logger,
	})
	r.config.Attach(r.send)
	r.terminal.Infof("Local-only mode, recording run %s in %s", r.id, r.dir)

	r.coordinator = r.newCoordinator(nil, nil, func(exitCode int) {
		if err := store.Write(context.Background(), protocol.Exit(r.id, exitCode)); err != nil {
			r.logger.Error("recording exit", "error", err)
		}
		if err := store.Close(); err != nil {
			r.logger.Warn("closing local store", "error", err)
		}
	})
	r.coordinator.Watch()
	return nil
}

// startDetached keeps records in memory, readable through Records.
func (r *Run) startDetached() {
	memory := &sink.Memory{}
	r.memory = memory
	r.send = func(message protocol.Message) error {
		return memory.Write(context.Background(), message)
	}
	r.history = history.New(history.Config{
		RunID:  r.id,
		Start:  r.started,
		Send:   r.send,
		Clock:  r.clock,
		Logger: r.logger,
	})
	r.config.Attach(r.send)
	r.coordinator = r.newCoordinator(nil, nil, func(exitCode int) {
		memory.Write(context.Background(), protocol.Exit(r.id, exitCode))
		memory.Close()
	})
}

// newCoordinator builds the exit coordinator. closeTransport runs
// after the sync process has finished.
func (r *Run) newCoordinator(streams []shutdown.Restorer, child shutdown.Process, closeTransport shutdown.Hook) *shutdown.Coordinator {
	post := []shutdown.Hook{}
	if closeTransport != nil {
		post = append(post, closeTransport)
	}
	post = append(post,
		func(exitCode int) {
			if exitCode != process.ExitClean {
				return
			}
			if err := r.resume.Clear(); err != nil {
				r.logger.Warn("clearing resume marker", "error", err)
			}
		},
		func(exitCode int) {
			r.setState(StateClosed)
			r.logger.Info("run closed", "exit_code", exitCode, "elapsed", r.clock.Now().Sub(r.started))
			r.debugLog.Close()
		},
	)
	config := shutdown.Config{
		Streams: streams,
		Flush: []shutdown.Hook{func(int) {
			r.setState(StateFinalizing)
			r.history.Close()
			r.config.Freeze()
		}},
		Process:       child,
		Post:          post,
		FinishTimeout: r.settings.Supervisor.FinishTimeout.Std(),
		Exit:          exitProcess,
		Terminal:      r.terminal,
		Logger:        r.logger,
	}
	return shutdown.New(config)
}

func (r *Run) String() string {
	return fmt.Sprintf("run %s (%s)", r.id, r.mode)
}
