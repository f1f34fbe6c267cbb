// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"github.com/bureau-foundation/runlog/history"
	"github.com/bureau-foundation/runlog/sink"
	"github.com/bureau-foundation/runlog/supervisor"
)

// LaunchError is returned by Init when runlog-sync did not become
// ready or the run directory could not be prepared.
type LaunchError = supervisor.LaunchError

// CommunicationError is a failed remote sink operation. runlog-sync
// logs it and continues local-only.
type CommunicationError = sink.CommunicationError

// IntegrityWarning describes a call that was dropped or forwarded out
// of order. It is logged, never returned from an active run.
type IntegrityWarning = history.IntegrityWarning

// ConfigurationError reports invalid caller arguments.
type ConfigurationError struct {
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return "runlog: " + e.Message + ": " + e.Err.Error()
	}
	return "runlog: " + e.Message
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configurationError(message string, err error) *ConfigurationError {
	return &ConfigurationError{Message: message, Err: err}
}
