// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncer is the engine inside runlog-sync: everything that
// happens outside the user's process once a run is started.
//
// An Engine dials the host's handshake address, opens the run's local
// store (and a remote sink when the run is cloud-backed), starts its
// workers, and only then reports ready. The workers are:
//
//   - one output pump per captured stream, appending raw bytes to
//     output.log and emitting an output record per line,
//   - the control reader, applying row, config, summary, and save
//     frames from the host,
//   - the file watcher, re-digesting live-policy files on an interval,
//   - the parent watch, noticing when the host process disappears.
//
// A done frame, the control link closing without one (the host
// crashed: exit code 1), or the host process vanishing starts
// finalization: drain the pumps, record end-policy files, write the
// exit record, archive output.log, close the sinks.
package syncer
