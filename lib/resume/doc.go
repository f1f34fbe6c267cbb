// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resume persists the resume marker: a small JSON file naming
// the run id of the most recent run under a base directory.
//
// The marker is written as soon as a run id is final and removed only
// when the run finishes cleanly. A process that crashes leaves it in
// place, and the next Init with resume policy "auto" adopts the stored
// id instead of minting a new one.
//
// Writes are atomic (temporary file, fsync, rename, directory fsync),
// so a reader never observes a partial marker even if the writer dies
// mid-write. There is one marker path per base directory, which keeps
// at most one unconsumed marker per root.
package resume
