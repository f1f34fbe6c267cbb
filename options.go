// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"io"
	"os"

	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/env"
	"github.com/bureau-foundation/runlog/lib/settings"
)

// Mode selects how a run is persisted.
type Mode string

const (
	// ModeInteractive keeps records in memory only. An outer tool is
	// expected to own capture and syncing.
	ModeInteractive Mode = "interactive-run"

	// ModeHeadless supervises a runlog-sync process that captures the
	// console and syncs everything.
	ModeHeadless Mode = "headless-sync"

	// ModeLocal writes records straight to the run directory's local
	// store, without a background process or console capture.
	ModeLocal Mode = "local-only"
)

func (m Mode) valid() bool {
	switch m {
	case ModeInteractive, ModeHeadless, ModeLocal:
		return true
	}
	return false
}

// ResumePolicy decides whether Init re-attaches to an earlier run.
type ResumePolicy string

const (
	// ResumeNone always starts a new run and deletes a stale marker.
	ResumeNone ResumePolicy = "none"

	// ResumeAllow resumes the run named by RunID if one is given.
	ResumeAllow ResumePolicy = "allow"

	// ResumeMust requires a run id, from RunID or the resume marker.
	ResumeMust ResumePolicy = "must"

	// ResumeAuto adopts the resume marker's run id when RunID is
	// empty.
	ResumeAuto ResumePolicy = "auto"
)

func (p ResumePolicy) valid() bool {
	switch p {
	case ResumeNone, ResumeAllow, ResumeMust, ResumeAuto:
		return true
	}
	return false
}

// Environment is the kind of program hosting the run.
type Environment int

const (
	// EnvironmentScript is an ordinary process. The default.
	EnvironmentScript Environment = iota

	// EnvironmentNotebook is an interactive kernel. No runlog-sync is
	// spawned and the console is not captured.
	EnvironmentNotebook
)

// Options configure Init. Zero values fall back to RUNLOG_*
// environment variables, then to the settings file, then to defaults.
type Options struct {
	Project string
	Entity  string
	Group   string
	JobType string
	Tags    []string

	// Dir is the base directory holding run directories, the resume
	// marker, and the debug log.
	Dir string

	// RunID names the run explicitly. With ResumeAllow or ResumeMust
	// an existing run of that id is resumed.
	RunID  string
	Resume ResumePolicy
	Mode   Mode

	Environment Environment

	// Config seeds the run configuration after config-defaults.yaml.
	Config map[string]any

	// AllowValChange permits Config and UpdateConfig to change values
	// already set.
	AllowValChange bool

	// ConfigDefaults is the defaults file. Empty means
	// config-defaults.yaml in the working directory.
	ConfigDefaults string

	// Reinit finishes any existing run in this process and starts a
	// new one.
	Reinit bool

	// SyncBinary overrides the runlog-sync executable.
	SyncBinary string

	// SyncArgs are extra runlog-sync arguments placed before the
	// bundle.
	SyncArgs []string

	// Settings replaces the settings file and environment lookup.
	Settings *settings.Settings

	// Env is the environment lookup. Nil reads the process
	// environment.
	Env env.LookupFunc

	// Stdout and Stderr are the streams captured in headless-sync
	// mode. Nil means os.Stdout and os.Stderr.
	Stdout *os.File
	Stderr *os.File

	// Terminal receives user-facing "runlog:" messages. Nil means
	// os.Stderr.
	Terminal io.Writer

	Clock clock.Clock
}

func (o *Options) stdout() *os.File {
	if o.Stdout != nil {
		return o.Stdout
	}
	return os.Stdout
}

func (o *Options) stderr() *os.File {
	if o.Stderr != nil {
		return o.Stderr
	}
	return os.Stderr
}
