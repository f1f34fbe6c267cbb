// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shutdown runs a run's termination sequence exactly once,
// whichever way the program ends.
//
// Triggers are an explicit finish or exit, an uncaught panic recorded
// by the caller, an interrupt signal, and a join. The first trigger
// performs the sequence; concurrent and later triggers wait for it and
// get the same exit code. The sequence is:
//
//  1. restore the redirected standard streams,
//  2. run flush hooks (pending history row, final summary),
//  3. tell the sync process to finish with the exit code,
//  4. poll until it exits, bounded by the finish timeout and cut short
//     by a second interrupt,
//  5. kill it if it is still alive,
//  6. run post hooks (clear the resume marker, close the debug log).
//
// A signal-triggered shutdown re-raises the signal afterwards with its
// default disposition, so the process dies the way the user asked.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/runlog/lib/debuglog"
	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/lib/termlog"
)

// DefaultFinishTimeout bounds the wait for the sync process.
const DefaultFinishTimeout = 60 * time.Second

// Restorer puts a redirected stream back.
type Restorer interface {
	Restore() error
}

// Process is the supervised sync process as the coordinator sees it.
type Process interface {
	PID() int
	Finish(exitCode int) error
	Wait(ctx context.Context, timeout time.Duration) bool
	Kill() error
}

// Hook runs during shutdown with the final exit code.
type Hook func(exitCode int)

// Config wires a Coordinator.
type Config struct {
	// Streams are restored first, in order.
	Streams []Restorer

	// Flush hooks run after the streams are restored and before the
	// sync process is told to finish.
	Flush []Hook

	// Process is nil for runs without a sync process.
	Process Process

	// Post hooks run last, in order.
	Post []Hook

	// FinishTimeout bounds the wait for Process. Zero means
	// DefaultFinishTimeout.
	FinishTimeout time.Duration

	// Terminal receives user-facing progress lines. Nil is silent.
	Terminal *termlog.Printer

	Logger *slog.Logger

	// Notify subscribes to interrupt signals. Nil uses signal.Notify
	// for SIGINT and SIGTERM.
	Notify func(chan<- os.Signal)

	// StopNotify undoes Notify. Nil uses signal.Stop.
	StopNotify func(chan<- os.Signal)

	// Raise re-delivers a signal after a signal-triggered shutdown.
	// Nil resets the signal's handler and sends it to this process.
	Raise func(os.Signal)

	// Exit terminates the process for Coordinator.Exit. Nil uses
	// os.Exit.
	Exit func(code int)
}

// Coordinator owns the termination sequence.
type Coordinator struct {
	config Config
	logger *slog.Logger

	once     sync.Once
	started  atomic.Bool
	done     chan struct{}
	exitCode int

	waitCtx    context.Context
	cancelWait context.CancelFunc

	signals   chan os.Signal
	stopWatch chan struct{}
	watchOnce sync.Once
}

// New returns a coordinator. Call Watch to intercept signals.
func New(config Config) *Coordinator {
	if config.FinishTimeout <= 0 {
		config.FinishTimeout = DefaultFinishTimeout
	}
	if config.Notify == nil {
		config.Notify = func(ch chan<- os.Signal) {
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		}
	}
	if config.StopNotify == nil {
		config.StopNotify = func(ch chan<- os.Signal) { signal.Stop(ch) }
	}
	if config.Raise == nil {
		config.Raise = raise
	}
	if config.Exit == nil {
		config.Exit = os.Exit
	}
	waitCtx, cancelWait := context.WithCancel(context.Background())
	return &Coordinator{
		config:     config,
		logger:     debuglog.Subsystem(config.Logger, "shutdown"),
		done:       make(chan struct{}),
		exitCode:   -1,
		waitCtx:    waitCtx,
		cancelWait: cancelWait,
		signals:    make(chan os.Signal, 2),
		stopWatch:  make(chan struct{}),
	}
}

// Watch starts intercepting interrupt signals. The first interrupt
// triggers shutdown with process.SignalExitCode; a second one while
// the sequence is waiting for the sync process abandons the wait.
func (c *Coordinator) Watch() {
	c.watchOnce.Do(func() {
		c.config.Notify(c.signals)
		go c.watch()
	})
}

func (c *Coordinator) watch() {
	defer c.config.StopNotify(c.signals)
	for {
		select {
		case sig := <-c.signals:
			if c.started.Load() {
				c.logger.Warn("interrupt during shutdown, abandoning wait for sync process", "signal", sig)
				c.cancelWait()
				continue
			}
			c.logger.Info("interrupted", "signal", sig)
			go func() {
				c.Shutdown(process.SignalExitCode(sig))
				c.config.Raise(sig)
			}()
		case <-c.stopWatch:
			return
		}
	}
}

// Started reports whether shutdown has begun.
func (c *Coordinator) Started() bool {
	return c.started.Load()
}

// Done is closed when the sequence has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// ExitCode returns the recorded exit code, -1 before shutdown.
func (c *Coordinator) ExitCode() int {
	select {
	case <-c.done:
		return c.exitCode
	default:
		return -1
	}
}

// Shutdown runs the sequence with exitCode if no trigger has run it
// yet, waits for it to complete, and returns the exit code actually
// recorded.
func (c *Coordinator) Shutdown(exitCode int) int {
	c.once.Do(func() {
		c.started.Store(true)
		c.exitCode = exitCode
		c.run(exitCode)
		close(c.done)
	})
	<-c.done
	return c.exitCode
}

// Join finishes a run that ended normally.
func (c *Coordinator) Join() int {
	return c.Shutdown(process.ExitClean)
}

// Exit shuts down with code and terminates the process with the
// recorded exit code.
func (c *Coordinator) Exit(code int) {
	c.config.Exit(c.Shutdown(code))
}

func (c *Coordinator) run(exitCode int) {
	c.logger.Info("shutdown started", "exit_code", exitCode)

	for _, stream := range c.config.Streams {
		if err := stream.Restore(); err != nil {
			c.logger.Error("restoring stream", "error", err)
		}
	}
	for _, hook := range c.config.Flush {
		hook(exitCode)
	}

	if child := c.config.Process; child != nil {
		if exitCode != process.ExitClean {
			c.config.Terminal.Warnf("Program failed with code %d. Press ctrl-c to abort syncing.", exitCode)
		}
		c.config.Terminal.Infof("Waiting for sync process to finish, PID %d", child.PID())
		if err := child.Finish(exitCode); err != nil {
			c.logger.Error("sending finish to sync process", "pid", child.PID(), "error", err)
		}
		if !child.Wait(c.waitCtx, c.config.FinishTimeout) {
			c.logger.Warn("sync process did not finish, killing", "pid", child.PID(), "timeout", c.config.FinishTimeout)
			if err := child.Kill(); err != nil {
				c.logger.Error("killing sync process", "pid", child.PID(), "error", err)
			}
		}
		c.config.Terminal.Infof("Program ended.")
	}

	for _, hook := range c.config.Post {
		hook(exitCode)
	}
	close(c.stopWatch)
	c.cancelWait()
}

// raise re-delivers sig with its default disposition.
func raise(sig os.Signal) {
	number, ok := sig.(syscall.Signal)
	if !ok {
		return
	}
	signal.Reset(sig)
	unix.Kill(os.Getpid(), number)
}
