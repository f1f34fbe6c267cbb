// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package history accumulates metric rows and forwards committed rows
// to runlog-sync.
//
// A Stream holds at most one pending row. Append with commit=false
// merges fields into it (a later value for a key replaces the earlier
// one in place); Append with commit=true merges and then finalizes the
// row. Finalized rows are numbered: each takes the step after the last
// committed step unless the fields carry an explicit "_step". A step
// at or below the last committed one is still forwarded, with an
// IntegrityWarning logged.
//
// Summary tracks the latest committed value of every key, plus values
// set explicitly.
package history
