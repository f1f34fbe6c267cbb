// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/runlog/history"
	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/debuglog"
	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/lib/resume"
	"github.com/bureau-foundation/runlog/lib/settings"
	"github.com/bureau-foundation/runlog/lib/termlog"
	"github.com/bureau-foundation/runlog/protocol"
	"github.com/bureau-foundation/runlog/runconfig"
	"github.com/bureau-foundation/runlog/shutdown"
	"github.com/bureau-foundation/runlog/sink"
	"github.com/bureau-foundation/runlog/supervisor"
)

// State is a run's lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateResolving
	StateSpawning
	StateActive
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResolving:
		return "resolving"
	case StateSpawning:
		return "spawning"
	case StateActive:
		return "active"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Run is one experiment run. All methods are safe for concurrent use.
// The methods of a disabled Run do nothing.
type Run struct {
	id       string
	dir      string
	baseDir  string
	mode     Mode
	policy   ResumePolicy
	resumed  bool
	disabled bool
	identity identity
	options  Options
	settings *settings.Settings
	started  time.Time

	state atomic.Int32

	clock    clock.Clock
	logger   *slog.Logger
	debugLog *debuglog.Log
	terminal *termlog.Printer

	resume      *resume.Store
	config      *runconfig.Config
	history     *history.Stream
	handle      *supervisor.Handle
	coordinator *shutdown.Coordinator

	// send forwards records to the run's transport; nil drops them.
	send func(protocol.Message) error

	// memory holds the records of interactive and notebook runs.
	memory *sink.Memory

	savedMu sync.Mutex
	saved   map[saveDeclaration]bool
}

func newDisabledRun() *Run {
	run := &Run{
		disabled: true,
		logger:   debuglog.Discard(),
		saved:    make(map[saveDeclaration]bool),
	}
	run.config = runconfig.New("", run.logger)
	run.history = history.New(history.Config{Logger: run.logger})
	run.setState(StateClosed)
	return run
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Dir returns the run directory, <base>/run-<id>.
func (r *Run) Dir() string { return r.dir }

// Mode returns the run's mode.
func (r *Run) Mode() Mode { return r.mode }

// Resumed reports whether the run re-attached to an earlier one.
func (r *Run) Resumed() bool { return r.resumed }

// Disabled reports whether this is the no-op run handed to a process
// whose parent owns the real one.
func (r *Run) Disabled() bool { return r.disabled }

// State returns the current lifecycle state.
func (r *Run) State() State { return State(r.state.Load()) }

func (r *Run) setState(state State) { r.state.Store(int32(state)) }

func (r *Run) Project() string { return r.identity.Project }
func (r *Run) Entity() string  { return r.identity.Entity }
func (r *Run) Group() string   { return r.identity.Group }
func (r *Run) JobType() string { return r.identity.JobType }
func (r *Run) Tags() []string  { return append([]string(nil), r.identity.Tags...) }

// SyncPID returns the runlog-sync process id, 0 when there is none.
func (r *Run) SyncPID() int {
	if r.handle == nil {
		return 0
	}
	return r.handle.PID()
}

// DebugLog returns the debug log path, "" for a disabled run.
func (r *Run) DebugLog() string {
	if r.debugLog == nil {
		return ""
	}
	return r.debugLog.Path()
}

// accepting reports whether mutating calls are still applied, logging
// an IntegrityWarning for those that are not.
func (r *Run) accepting(operation string) bool {
	if r.disabled {
		return false
	}
	if state := r.State(); state != StateActive {
		warning := &IntegrityWarning{Reason: operation + " while " + state.String(), Step: -1}
		r.logger.Warn(warning.Error(), "operation", operation)
		return false
	}
	return true
}

// Log commits one history row at the next step.
func (r *Run) Log(values map[string]any) error {
	return r.LogFields(protocol.FieldsFromMap(values), true)
}

// LogFields merges fields into the pending history row, committing it
// when commit is true. A "_step" field selects the step explicitly.
func (r *Run) LogFields(fields []protocol.Field, commit bool) error {
	if !r.accepting("log") {
		return nil
	}
	if err := r.history.Append(fields, commit); err != nil {
		return configurationError("log", err)
	}
	return nil
}

// Flush commits the pending history row, if any.
func (r *Run) Flush() {
	if !r.accepting("flush") {
		return
	}
	r.history.Flush()
}

// Config returns the run configuration.
func (r *Run) Config() *runconfig.Config { return r.config }

// UpdateConfig sets configuration values. Changing an existing value
// needs Options.AllowValChange.
func (r *Run) UpdateConfig(values map[string]any) error {
	if !r.accepting("config") {
		return nil
	}
	if err := r.config.Update(protocol.FieldsFromMap(values), r.options.AllowValChange); err != nil {
		return configurationError("config update", err)
	}
	return nil
}

// Summary returns the run summary. It tracks the latest committed
// value of every logged key; Update sets values explicitly.
func (r *Run) Summary() *history.Summary { return r.history.Summary() }

// Finish shuts the run down cleanly and returns the recorded exit
// code, which differs from 0 when another trigger got there first.
func (r *Run) Finish() int {
	return r.Shutdown(process.ExitClean)
}

// Join is Finish, for programs that end by waiting on their run.
func (r *Run) Join() int {
	if r.coordinator == nil {
		return process.ExitClean
	}
	return r.coordinator.Join()
}

// Shutdown runs the shutdown sequence with exitCode unless it already
// ran, and returns the recorded exit code.
func (r *Run) Shutdown(exitCode int) int {
	if r.coordinator == nil {
		return exitCode
	}
	return r.coordinator.Shutdown(exitCode)
}

// exitProcess terminates the process for Exit.
var exitProcess = os.Exit

// Exit shuts down with code and terminates the process. A disabled run
// has nothing to shut down and exits directly.
func (r *Run) Exit(code int) {
	if r.coordinator == nil {
		exitProcess(code)
		return
	}
	r.coordinator.Exit(code)
}

// Recover records a panic as exit code 1, shuts the run down, and
// panics again. It must be deferred directly:
//
//	defer run.Recover()
func (r *Run) Recover() {
	value := recover()
	if value == nil {
		return
	}
	if r.coordinator != nil {
		r.logger.Error("uncaught panic", "panic", fmt.Sprint(value))
		r.coordinator.Shutdown(process.ExitFailure)
	}
	panic(value)
}

// Records returns the records an interactive-run or notebook run has
// kept in memory, in order. Other runs ship their records elsewhere
// and return nil.
func (r *Run) Records() []protocol.Message {
	if r.memory == nil {
		return nil
	}
	return r.memory.Messages()
}

// Done is closed once shutdown has completed. A disabled run is
// always done.
func (r *Run) Done() <-chan struct{} {
	if r.coordinator == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return r.coordinator.Done()
}
