// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/debuglog"
	"github.com/bureau-foundation/runlog/lib/env"
	"github.com/bureau-foundation/runlog/lib/resume"
	"github.com/bureau-foundation/runlog/lib/settings"
	"github.com/bureau-foundation/runlog/lib/termlog"
	"github.com/bureau-foundation/runlog/protocol"
	"github.com/bureau-foundation/runlog/runconfig"
)

// cell is one construction attempt. Callers that lose the race wait on
// done and share the outcome.
type cell struct {
	done chan struct{}
	run  *Run
	err  error
}

var current atomic.Pointer[cell]

// Init returns the process's run, constructing it on first use.
func Init(ctx context.Context, options Options) (*Run, error) {
	if options.Reinit {
		if previous := current.Swap(nil); previous != nil {
			<-previous.done
			if previous.run != nil {
				previous.run.Finish()
			}
		}
	}

	for {
		if existing := current.Load(); existing != nil {
			<-existing.done
			if existing.err == nil {
				return existing.run, nil
			}
			// A failed construction is shared with the callers that
			// raced it, then cleared below so a later Init retries.
			return nil, existing.err
		}

		attempt := &cell{done: make(chan struct{})}
		if !current.CompareAndSwap(nil, attempt) {
			continue
		}
		attempt.run, attempt.err = construct(ctx, options)
		close(attempt.done)
		if attempt.err != nil {
			current.CompareAndSwap(attempt, nil)
		}
		return attempt.run, attempt.err
	}
}

// Reset forgets the process's run without finishing it, so the next
// Init constructs a new one.
func Reset() {
	current.Store(nil)
}

// identity is the resolved who-and-what of a run, persisted in run.env.
type identity struct {
	RunID   string
	Project string
	Entity  string
	Group   string
	JobType string
	Tags    []string
}

func construct(ctx context.Context, options Options) (*Run, error) {
	lookup := options.Env
	if lookup == nil {
		lookup = env.Process
	}

	if inited := lookup.Get(env.Inited); inited != "" && inited != strconv.Itoa(os.Getpid()) {
		return newDisabledRun(), nil
	}

	config := options.Settings
	if config == nil {
		loaded, err := settings.Load(lookup, options.Dir)
		if err != nil {
			return nil, configurationError("loading settings", err)
		}
		config = loaded
	} else if options.Dir != "" {
		copied := *config
		copied.BaseDir = options.Dir
		config = &copied
	}

	mode := options.Mode
	if mode == "" {
		mode = Mode(config.Mode)
	}
	if !mode.valid() {
		return nil, configurationError(fmt.Sprintf("invalid mode %q", mode), nil)
	}
	policy := options.Resume
	if policy == "" {
		policy = ResumePolicy(lookup.Get(env.Resume))
	}
	if policy == "" {
		policy = ResumeNone
	}
	if !policy.valid() {
		return nil, configurationError(fmt.Sprintf("invalid resume policy %q", policy), nil)
	}

	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	terminal := options.Terminal
	if terminal == nil {
		terminal = os.Stderr
	}

	run := &Run{
		mode:     mode,
		policy:   policy,
		baseDir:  config.BaseDir,
		settings: config,
		options:  options,
		clock:    options.Clock,
		terminal: termlog.New(terminal),
		started:  options.Clock.Now(),
		saved:    make(map[saveDeclaration]bool),
	}
	run.setState(StateResolving)

	if err := os.MkdirAll(run.baseDir, 0755); err != nil {
		run.setState(StateClosed)
		return nil, &LaunchError{Reason: "creating base directory " + run.baseDir, Err: err}
	}
	debugConfig := debuglog.Config{BaseDir: run.baseDir, Component: "host"}
	if config.Debug {
		debugConfig.Tee = os.Stderr
	}
	debugLog, err := debuglog.Open(debugConfig)
	if err != nil {
		run.setState(StateClosed)
		return nil, &LaunchError{Reason: "opening debug log", Err: err}
	}
	run.debugLog = debugLog
	run.logger = debugLog.Logger()

	if err := run.resolve(lookup); err != nil {
		run.abort(err)
		return nil, err
	}

	if err := run.prepareConfig(); err != nil {
		run.abort(err)
		return nil, err
	}

	os.Setenv(env.Inited, strconv.Itoa(os.Getpid()))

	switch {
	case options.Environment == EnvironmentNotebook:
		run.terminal.Infof("Notebook environment, console capture and background sync are off")
		run.startDetached()
	case mode == ModeHeadless:
		run.setState(StateSpawning)
		if err := run.startHeadless(ctx); err != nil {
			run.terminal.Warnf("%v", err)
			run.abort(err)
			return nil, err
		}
	case mode == ModeLocal:
		if err := run.startLocal(); err != nil {
			run.abort(err)
			return nil, err
		}
	default:
		run.startDetached()
	}

	run.setState(StateActive)
	run.logger.Info("run active", "mode", mode, "dir", run.dir)
	return run, nil
}

// resolve settles the run's identity and creates its directory.
func (r *Run) resolve(lookup env.LookupFunc) error {
	options := r.options
	id := identity{
		RunID:   firstNonEmpty(options.RunID, lookup.Get(env.RunID)),
		Project: firstNonEmpty(options.Project, lookup.Get(env.Project)),
		Entity:  firstNonEmpty(options.Entity, lookup.Get(env.Entity)),
		Group:   firstNonEmpty(options.Group, lookup.Get(env.RunGroup)),
		JobType: firstNonEmpty(options.JobType, lookup.Get(env.JobType)),
		Tags:    options.Tags,
	}
	if len(id.Tags) == 0 {
		id.Tags = lookup.List(env.Tags)
	}

	r.resume = resume.NewStore(r.baseDir)
	resuming := false
	switch r.policy {
	case ResumeNone:
		if err := r.resume.Clear(); err != nil {
			r.logger.Warn("removing stale resume marker", "error", err)
		}
	case ResumeAllow:
		resuming = id.RunID != ""
	case ResumeAuto, ResumeMust:
		if id.RunID != "" {
			resuming = true
			break
		}
		marker, found, err := r.resume.Read()
		if err != nil {
			r.logger.Warn("reading resume marker", "path", r.resume.Path(), "error", err)
		}
		if found {
			id.RunID = marker.RunID
			resuming = true
			r.logger.Info("resuming from marker", "run_id", marker.RunID)
		} else if r.policy == ResumeMust {
			return configurationError("resume policy \"must\" needs a run id or a resume marker", nil)
		}
	}

	if id.RunID == "" {
		id.RunID = uuid.NewString()
	}
	r.id = id.RunID
	r.dir = filepath.Join(r.baseDir, "run-"+r.id)
	r.logger = r.logger.With("run_id", r.id)

	if resuming {
		if previous, err := readIdentity(r.dir); err == nil {
			id = mergeIdentity(id, previous)
			r.resumed = true
		} else if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("reading persisted run identity", "error", err)
		}
	}
	r.identity = id

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return &LaunchError{Reason: "creating run directory " + r.dir, Err: err}
	}
	if err := writeIdentity(r.dir, id); err != nil {
		r.logger.Warn("persisting run identity", "error", err)
	}
	if err := r.resume.Write(r.id); err != nil {
		r.logger.Warn("writing resume marker", "error", err)
	}
	r.logger.Info("run resolved", "dir", r.dir, "resumed", r.resumed, "policy", r.policy, "project", id.Project)
	return nil
}

// prepareConfig loads defaults, applies Options.Config, and records
// the run directory. Nothing is forwarded until a transport attaches.
func (r *Run) prepareConfig() error {
	r.config = runconfig.New(r.id, r.logger)

	defaultsPath := r.options.ConfigDefaults
	if defaultsPath == "" {
		defaultsPath = runconfig.DefaultsFile
	}
	defaults, err := runconfig.LoadDefaults(defaultsPath)
	if err != nil {
		return configurationError("loading "+defaultsPath, err)
	}
	if err := r.config.Update(defaults, true); err != nil {
		return configurationError("applying "+defaultsPath, err)
	}
	r.config.SetRunDir(r.dir)
	if len(r.options.Config) > 0 {
		if err := r.config.Update(protocol.FieldsFromMap(r.options.Config), r.options.AllowValChange); err != nil {
			return configurationError("applying config", err)
		}
	}
	return nil
}

// abort closes a run that failed before becoming active.
func (r *Run) abort(err error) {
	r.logger.Error("init failed", "error", err)
	r.setState(StateClosed)
	r.debugLog.Close()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
