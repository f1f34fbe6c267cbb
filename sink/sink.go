// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sink defines where runlog-sync delivers a run's records and
// how local and remote destinations are combined.
//
// Every record is a protocol.Message. The local sink (a SQLite
// database in the run directory) is authoritative: its failures are
// logged and returned, but never stop the engine. A remote sink is
// best-effort: its first failure becomes a *CommunicationError, the
// remote sink is closed, and the run continues local-only.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/runlog/lib/debuglog"
	"github.com/bureau-foundation/runlog/protocol"
)

// Sink persists or publishes records.
type Sink interface {
	Write(ctx context.Context, message protocol.Message) error
	Close() error
}

// CommunicationError is a failed remote operation. It is recoverable:
// the remote sink is disabled and syncing continues locally.
type CommunicationError struct {
	// Sink names the remote ("nats", "redis").
	Sink string

	// Op is what failed ("connect", "publish").
	Op string

	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Sink, e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// Named is implemented by remote sinks to label their errors.
type Named interface {
	Name() string
}

// Fanout writes every record to a local sink and, while it is healthy,
// a remote one.
type Fanout struct {
	local  Sink
	logger *slog.Logger

	mu        sync.Mutex
	remote    Sink
	remoteErr *CommunicationError
	onFailure func(*CommunicationError)
}

// NewFanout combines local and remote. remote may be nil. onFailure,
// if set, is called once when the remote sink is disabled.
func NewFanout(local, remote Sink, logger *slog.Logger, onFailure func(*CommunicationError)) *Fanout {
	return &Fanout{
		local:     local,
		remote:    remote,
		logger:    debuglog.Subsystem(logger, "sink"),
		onFailure: onFailure,
	}
}

// Write delivers message. The returned error reports the local sink's
// failure only; remote failures are absorbed after disabling the
// remote.
func (f *Fanout) Write(ctx context.Context, message protocol.Message) error {
	var localErr error
	if f.local != nil {
		if localErr = f.local.Write(ctx, message); localErr != nil {
			f.logger.Error("local sink write failed", "type", message.Type, "error", localErr)
		}
	}

	f.mu.Lock()
	remote := f.remote
	f.mu.Unlock()
	if remote == nil {
		return localErr
	}

	if err := remote.Write(ctx, message); err != nil {
		f.disableRemote(remote, asCommunicationError(remote, "publish", err))
	}
	return localErr
}

// RemoteErr returns the error that disabled the remote sink, if any.
func (f *Fanout) RemoteErr() *CommunicationError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteErr
}

// RemoteActive reports whether records are still going to the remote.
func (f *Fanout) RemoteActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote != nil
}

func (f *Fanout) disableRemote(remote Sink, err *CommunicationError) {
	f.mu.Lock()
	if f.remote != remote {
		f.mu.Unlock()
		return
	}
	f.remote = nil
	f.remoteErr = err
	onFailure := f.onFailure
	f.mu.Unlock()

	f.logger.Warn("remote sink disabled, continuing local-only", "error", err)
	if closeErr := remote.Close(); closeErr != nil {
		f.logger.Debug("closing failed remote sink", "error", closeErr)
	}
	if onFailure != nil {
		onFailure(err)
	}
}

// Close closes both sinks.
func (f *Fanout) Close() error {
	f.mu.Lock()
	remote := f.remote
	f.remote = nil
	f.mu.Unlock()

	var errs []error
	if remote != nil {
		if err := remote.Close(); err != nil {
			errs = append(errs, asCommunicationError(remote, "close", err))
		}
	}
	if f.local != nil {
		if err := f.local.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing local sink: %w", err))
		}
	}
	return errors.Join(errs...)
}

func asCommunicationError(remote Sink, op string, err error) *CommunicationError {
	var existing *CommunicationError
	if errors.As(err, &existing) {
		return existing
	}
	name := "remote"
	if named, ok := remote.(Named); ok {
		name = named.Name()
	}
	return &CommunicationError{Sink: name, Op: op, Err: err}
}
