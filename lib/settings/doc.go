// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package settings loads runlog's operational settings: where runs
// live, which sync binary to spawn, the supervision timeouts, how
// console output is captured, and where remote records go.
//
// Settings come from at most one file, chosen in this order and with
// no other discovery:
//
//  1. the path in RUNLOG_SETTINGS,
//  2. <base>/settings.yaml,
//  3. <base>/settings.json (JSON with comments and trailing commas).
//
// RUNLOG_* environment variables then override individual values.
// Paths may contain ${HOME} or ${VAR:-default}.
package settings
