// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for every runlog component that
// sleeps, polls, or timestamps.
//
// The supervisor's post-kill poll, the exit coordinator's finish wait,
// the sync engine's file watcher and parent probe, and the history
// stream's row timestamps all take a Clock. Production wiring passes
// Real(); tests pass Fake() and drive time with Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go watcher.Run(ctx)        // registers a ticker on c
//	c.WaitForTimers(1)         // wait until the ticker exists
//	c.Advance(5 * time.Second) // fire it
package clock
