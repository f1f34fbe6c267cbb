// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/runlog/handshake"
	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/debuglog"
	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/lib/settings"
	"github.com/bureau-foundation/runlog/protocol"
	"github.com/bureau-foundation/runlog/sink"
	"github.com/bureau-foundation/runlog/sink/localstore"
)

// OutputLogName is the captured console log in the run directory.
const OutputLogName = "output.log"

// Config wires an Engine.
type Config struct {
	Bundle   protocol.Bundle
	Settings *settings.Settings

	// Stdout and Stderr override the descriptors named in the bundle.
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	// Remote overrides the remote sink built from Settings.Remote.
	Remote sink.Sink

	// ParentAlive reports whether the host pid still exists. Nil
	// probes with signal 0.
	ParentAlive func(pid int) bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine runs one run's sync.
type Engine struct {
	config Config
	bundle protocol.Bundle
	clock  clock.Clock
	logger *slog.Logger

	session *handshake.Session
	store   *localstore.Store
	sinks   *sink.Fanout
	files   *fileWatcher

	outputMu  sync.Mutex
	outputLog *os.File

	finishOnce sync.Once
	finish     chan int
	started    time.Time
}

// New validates config and returns an engine. Nothing is opened until
// Run.
func New(config Config) (*Engine, error) {
	if config.Settings == nil {
		config.Settings = settings.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.ParentAlive == nil {
		config.ParentAlive = processExists
	}
	if config.Bundle.RunID == "" || config.Bundle.RunDir == "" || config.Bundle.Address == "" {
		return nil, errors.New("syncer: bundle needs run_id, run_dir, and address")
	}
	logger := debuglog.OrDiscard(config.Logger).With("run_id", config.Bundle.RunID)
	return &Engine{
		config: config,
		bundle: config.Bundle,
		clock:  config.Clock,
		logger: logger,
		finish: make(chan int, 1),
	}, nil
}

// Run performs the whole sync and returns once the run is finalized.
// The error is non-nil only when the engine could not start.
func (e *Engine) Run(ctx context.Context) error {
	e.started = e.clock.Now()
	session, err := handshake.Dial(ctx, e.bundle.Address, e.bundle.RunID)
	if err != nil {
		return err
	}
	e.session = session

	if err := e.open(ctx); err != nil {
		e.logger.Error("sync engine failed to start", "error", err)
		session.Fail(err)
		return err
	}

	streams := e.streams()
	var pumps errgroup.Group
	for _, stream := range streams {
		pumps.Go(func() error {
			e.pump(ctx, stream.name, stream.reader)
			return nil
		})
	}
	pumpsDone := make(chan struct{})
	go func() {
		pumps.Wait()
		close(pumpsDone)
	}()

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()
	watchers, watchCtx := errgroup.WithContext(watchCtx)
	watchers.Go(func() error { return e.readControl(watchCtx) })
	watchers.Go(func() error { return e.files.run(watchCtx) })
	watchers.Go(func() error { return e.watchParent(watchCtx) })

	if err := session.Ready(); err != nil {
		e.logger.Error("sending ready", "error", err)
		e.requestFinish(process.ExitFailure)
	} else {
		e.logger.Info("sync engine ready", "stdout_fd", e.bundle.StdoutFD, "stderr_fd", e.bundle.StderrFD, "remote", e.sinks.RemoteActive())
	}

	var exitCode int
	select {
	case exitCode = <-e.finish:
	case <-ctx.Done():
		exitCode = process.ExitCancelled
		e.logger.Warn("sync engine interrupted", "error", ctx.Err())
	}

	stopWatching()
	session.Close()
	if err := watchers.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("worker stopped with error", "error", err)
	}

	e.finalize(exitCode, streams, pumpsDone)
	return nil
}

func (e *Engine) open(ctx context.Context) error {
	runDir := e.bundle.RunDir
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	outputLog, err := os.OpenFile(filepath.Join(runDir, OutputLogName), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening output log: %w", err)
	}
	e.outputLog = outputLog

	store, err := localstore.Open(localstore.Config{RunDir: runDir, RunID: e.bundle.RunID, Logger: e.logger})
	if err != nil {
		outputLog.Close()
		return err
	}
	e.store = store

	remote := e.config.Remote
	if remote == nil && e.bundle.Cloud && e.config.Settings.Remote.URL != "" {
		remote, err = openRemote(ctx, e.config.Settings.Remote, e.bundle.RunID)
		if err != nil {
			var communication *sink.CommunicationError
			if !errors.As(err, &communication) {
				communication = &sink.CommunicationError{Sink: "remote", Op: "open", Err: err}
			}
			e.logger.Warn("remote sink unavailable, syncing locally only", "error", communication)
			remote = nil
		}
	}
	e.sinks = sink.NewFanout(store, remote, e.logger, nil)
	e.files = newFileWatcher(runDir, e.config.Settings.Sync.FilePollInterval.Std(), e.clock, e.record, e.logger)
	return nil
}

// record delivers one record to the sinks.
func (e *Engine) record(message protocol.Message) {
	if message.RunID == "" {
		message.RunID = e.bundle.RunID
	}
	// Records are written even while finalizing, after the run
	// context may be cancelled.
	if err := e.sinks.Write(context.Background(), message); err != nil {
		e.logger.Error("recording", "type", message.Type, "error", err)
	}
}

func (e *Engine) requestFinish(exitCode int) {
	e.finishOnce.Do(func() {
		e.finish <- exitCode
	})
}

func (e *Engine) readControl(ctx context.Context) error {
	for {
		message, err := e.session.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				e.logger.Warn("control link closed without done, host exited abnormally")
			} else {
				e.logger.Error("reading control link", "error", err)
			}
			e.requestFinish(process.ExitFailure)
			return nil
		}

		switch message.Type {
		case protocol.TypeRow, protocol.TypeConfig, protocol.TypeSummary:
			e.record(message)
		case protocol.TypeSave:
			if message.Save != nil {
				e.files.add(*message.Save)
			}
		case protocol.TypeDone:
			exitCode := process.ExitClean
			if message.ExitCode != nil {
				exitCode = *message.ExitCode
			}
			e.logger.Info("host finished", "exit_code", exitCode)
			e.requestFinish(exitCode)
			return nil
		default:
			e.logger.Warn("unexpected control frame", "type", message.Type)
		}
	}
}

func (e *Engine) watchParent(ctx context.Context) error {
	if e.bundle.PID <= 0 {
		return nil
	}
	ticker := e.clock.NewTicker(e.config.Settings.Sync.ParentPollInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !e.config.ParentAlive(e.bundle.PID) {
				e.logger.Warn("host process gone", "pid", e.bundle.PID)
				e.requestFinish(process.ExitFailure)
				return nil
			}
		}
	}
}

func (e *Engine) finalize(exitCode int, streams []stream, pumpsDone <-chan struct{}) {
	e.logger.Info("finalizing", "exit_code", exitCode)

	drain := e.config.Settings.Supervisor.DrainTimeout.Std()
	select {
	case <-pumpsDone:
	case <-e.clock.After(drain):
		e.logger.Warn("output still open at finalize, closing", "timeout", drain)
		for _, stream := range streams {
			stream.reader.Close()
		}
		<-pumpsDone
	}
	for _, stream := range streams {
		stream.reader.Close()
	}

	e.files.finalize()
	e.record(protocol.Exit(e.bundle.RunID, exitCode))

	e.outputMu.Lock()
	if err := e.outputLog.Close(); err != nil {
		e.logger.Error("closing output log", "error", err)
	}
	e.outputMu.Unlock()

	compression := e.config.Settings.Sync.OutputCompression
	if archived, err := Archive(filepath.Join(e.bundle.RunDir, OutputLogName), compression); err != nil {
		e.logger.Error("archiving output log", "error", err)
	} else {
		e.logger.Info("output log archived", "path", archived, "compression", compression)
	}

	if err := e.sinks.Close(); err != nil {
		e.logger.Error("closing sinks", "error", err)
	}
	e.logger.Info("sync finished", "exit_code", exitCode, "elapsed", clock.Since(e.clock, e.started))
}

// processExists probes pid with signal 0. EPERM means it exists but
// belongs to someone else.
func processExists(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
