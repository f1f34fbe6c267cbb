// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package debuglog opens the per-base-directory debug log shared by the
// host library and runlog-sync.
//
// Both processes append to the same file. Each line is a
// slog.TextHandler record carrying time, level, source location, the
// writing component ("host", "sync", "supervisor", ...) and the pid, so
// interleaved lines from the two processes can be told apart.
//
// Open is called once per process. The returned Log owns the file; the
// logger is passed explicitly to every component that logs, and no
// package touches slog.SetDefault.
package debuglog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the debug log's name inside the base directory.
const FileName = "debug.log"

// Config controls Open.
type Config struct {
	// BaseDir is the directory holding debug.log. Created if missing.
	BaseDir string

	// Component is bound to every record as the "component" attribute.
	Component string

	// Tee additionally writes every record to this writer (stderr in
	// debug mode). Nil disables the tee.
	Tee io.Writer

	// Level is the minimum level written. Zero is slog.LevelInfo;
	// Open lowers it to Debug when Tee is set.
	Level slog.Level
}

// Log is an open debug log.
type Log struct {
	path   string
	file   *os.File
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open creates (or appends to) <BaseDir>/debug.log.
func Open(config Config) (*Log, error) {
	if config.BaseDir == "" {
		return nil, fmt.Errorf("debuglog: base directory is required")
	}
	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating base directory %s: %w", config.BaseDir, err)
	}
	path := filepath.Join(config.BaseDir, FileName)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening debug log %s: %w", path, err)
	}

	var out io.Writer = file
	level := config.Level
	if config.Tee != nil {
		out = io.MultiWriter(file, config.Tee)
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})

	component := config.Component
	if component == "" {
		component = "host"
	}
	logger := slog.New(handler).With(
		"component", component,
		"pid", os.Getpid(),
	)
	return &Log{path: path, file: file, logger: logger}, nil
}

// Path returns the absolute-or-relative path of the log file as
// opened. Error messages point users here.
func (l *Log) Path() string {
	return l.path
}

// Logger returns the logger bound to the opening component.
func (l *Log) Logger() *slog.Logger {
	return l.logger
}

// Subsystem returns logger (or a discarding logger when nil) with a
// "subsystem" attribute. The "component" attribute bound by Open names
// the process and is left alone.
func Subsystem(logger *slog.Logger, name string) *slog.Logger {
	return OrDiscard(logger).With("subsystem", name)
}

// Close flushes and closes the file. Safe to call more than once.
// Records logged after Close are dropped by the closed file's writes
// failing, which slog ignores.
func (l *Log) Close() error {
	l.closeOnce.Do(func() {
		if err := l.file.Sync(); err != nil {
			l.closeErr = err
		}
		if err := l.file.Close(); err != nil && l.closeErr == nil {
			l.closeErr = err
		}
	})
	return l.closeErr
}

// Discard returns a logger that drops everything. Components use it
// when their config carries a nil logger.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns logger, or Discard() when logger is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}
