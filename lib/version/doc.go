// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for runlog.
//
// Values are injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/runlog/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// The host library and runlog-sync exchange their versions during the
// handshake; Compatible decides whether a mismatch is worth a warning.
package version
