// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process covers the process-level plumbing shared by the host
// library and the runlog-sync binary:
//
//   - Spawn starts a child with an explicit, ordered list of files to
//     inherit (fds 3, 4, ... in the child). Every other descriptor in
//     the parent is close-on-exec, so the child sees exactly what it
//     was handed.
//   - The exit code vocabulary observed by host callers (0 clean,
//     1 failure, 255 user cancelled) and the mapping from signals.
//   - Fatal, the binary entrypoint error handler for runlog-sync.
package process
