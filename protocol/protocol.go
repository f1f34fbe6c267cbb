// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the records exchanged between the host
// library and runlog-sync, and the framing used on the control link.
//
// The control link is the loopback TCP connection established by the
// handshake. Every frame is one CBOR-encoded Message; CBOR is
// self-delimiting so frames need no length prefix. The first frame
// from runlog-sync is ready or failed. After that the host sends row,
// config, summary, save, and finally done frames; runlog-sync never
// writes again.
//
// The same Message type is what sinks persist, with three record types
// produced inside runlog-sync (output, file, exit) joining the
// host-originated ones.
package protocol

import (
	"time"
)

// Type discriminates a Message.
type Type string

const (
	// Handshake tokens, runlog-sync to host.
	TypeReady  Type = "ready"
	TypeFailed Type = "failed"

	// Control frames, host to runlog-sync.
	TypeRow     Type = "row"
	TypeConfig  Type = "config"
	TypeSummary Type = "summary"
	TypeSave    Type = "save"
	TypeDone    Type = "done"

	// Records produced by runlog-sync.
	TypeOutput Type = "output"
	TypeFile   Type = "file"
	TypeExit   Type = "exit"
)

// Message is one frame or sink record. Exactly the field matching Type
// is set.
type Message struct {
	Type  Type   `cbor:"type"`
	RunID string `cbor:"run_id,omitempty"`

	// Error accompanies TypeFailed.
	Error string `cbor:"error,omitempty"`

	// Version is the sender's build version, on TypeReady.
	Version string `cbor:"version,omitempty"`

	Row     *Row    `cbor:"row,omitempty"`
	Config  []Field `cbor:"config,omitempty"`
	Summary []Field `cbor:"summary,omitempty"`
	Save    *Save   `cbor:"save,omitempty"`
	Output  *Output `cbor:"output,omitempty"`
	File    *File   `cbor:"file,omitempty"`

	// ExitCode accompanies TypeDone and TypeExit.
	ExitCode *int `cbor:"exit_code,omitempty"`
}

// Field is one key/value pair. Rows, config, and summary travel as
// ordered field lists so insertion order survives the wire.
type Field struct {
	Key   string `cbor:"k"`
	Value any    `cbor:"v"`
}

// Row is one committed history row.
type Row struct {
	Step      int64     `cbor:"step"`
	Fields    []Field   `cbor:"fields"`
	Timestamp time.Time `cbor:"timestamp"`

	// Runtime is seconds since the run started.
	Runtime float64 `cbor:"runtime"`
}

// Lookup returns the value of key in fields and whether it is present.
func Lookup(fields []Field, key string) (any, bool) {
	for _, field := range fields {
		if field.Key == key {
			return field.Value, true
		}
	}
	return nil, false
}

// Save file policies.
const (
	PolicyLive = "live"
	PolicyEnd  = "end"
)

// Save declares a file glob for syncing. Glob is relative to the run
// directory, where the host has already linked the matches.
type Save struct {
	Glob   string `cbor:"glob"`
	Policy string `cbor:"policy"`
}

// Output is one line of captured console output.
type Output struct {
	Stream string    `cbor:"stream"`
	Line   string    `cbor:"line"`
	Time   time.Time `cbor:"time"`
}

// File records a synced file's content at the time it was recorded.
type File struct {
	Path   string `cbor:"path"`
	Policy string `cbor:"policy"`
	Size   int64  `cbor:"size"`
	Digest string `cbor:"digest"`
}

// Ready returns the handshake success token.
func Ready(runID, version string) Message {
	return Message{Type: TypeReady, RunID: runID, Version: version}
}

// Failed returns the handshake failure token.
func Failed(runID string, err error) Message {
	return Message{Type: TypeFailed, RunID: runID, Error: err.Error()}
}

// Done returns the finish frame carrying the host's exit code.
func Done(exitCode int) Message {
	return Message{Type: TypeDone, ExitCode: &exitCode}
}

// Exit returns the terminal exit record.
func Exit(runID string, exitCode int) Message {
	return Message{Type: TypeExit, RunID: runID, ExitCode: &exitCode}
}
