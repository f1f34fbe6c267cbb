// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/bureau-foundation/runlog/lib/settings"
	"github.com/bureau-foundation/runlog/sink"
	"github.com/bureau-foundation/runlog/sink/natssink"
	"github.com/bureau-foundation/runlog/sink/redissink"
)

// openRemote builds the remote sink named by the settings URL scheme.
// An empty URL means no remote.
func openRemote(ctx context.Context, remote settings.RemoteSettings, runID string) (sink.Sink, error) {
	switch {
	case remote.URL == "":
		return nil, fmt.Errorf("no remote.url configured")
	case strings.HasPrefix(remote.URL, "nats://"):
		return natssink.Open(ctx, natssink.Config{URL: remote.URL, Prefix: remote.Prefix, RunID: runID})
	case strings.HasPrefix(remote.URL, "redis://"):
		return redissink.Open(ctx, redissink.Config{URL: remote.URL, Prefix: remote.Prefix, RunID: runID})
	default:
		return nil, fmt.Errorf("unsupported remote url %q", remote.URL)
	}
}
