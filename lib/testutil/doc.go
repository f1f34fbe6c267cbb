// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for runlog packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so individual tests never call time.After themselves.
//
// [HelperProcess] implements the re-exec pattern used by tests that
// need a real child process: the test binary is spawned again with an
// environment switch, and TestMain hands control to the helper body
// instead of running tests. This keeps process tests hermetic without
// building separate binaries.
//
// [UniqueID] generates monotonically increasing identifiers.
//
// All helpers call t.Fatalf on failure.
package testutil
