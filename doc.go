// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package runlog is an experiment-telemetry client. A program calls
// Init once; the returned Run records configuration, metrics, summary
// values, declared files, and console output, and ships them through a
// supervised background process (runlog-sync) so the program itself
// never blocks on storage or the network.
//
//	run, err := runlog.Init(ctx, runlog.Options{Project: "vision"})
//	if err != nil {
//	    return err
//	}
//	defer run.Recover()
//	for step := range epochs {
//	    run.Log(map[string]any{"loss": loss(step)})
//	}
//	run.Finish()
//
// # Lifecycle
//
// A Run moves through resolving (identity, environment, resume
// marker), spawning (headless-sync mode only: launch runlog-sync and
// wait for its handshake), active, finalizing, and closed. Errors
// before active are returned from Init; after active they are written
// to the debug log and the run degrades instead of failing the
// program.
//
// Init is process-wide: later and concurrent calls return the same Run
// until Reset, or until a call sets Options.Reinit. A process that
// inherits RUNLOG_INITED from a parent that already owns a run gets a
// disabled Run whose methods do nothing.
//
// # Shutdown
//
// Exactly one of Finish, Join, Exit, a recovered panic (defer
// run.Recover()), or an interrupt signal runs the shutdown sequence:
// restore the standard streams, flush the pending history row, tell
// runlog-sync the exit code, wait for it to finish, then clear the
// resume marker on a clean exit.
package runlog
