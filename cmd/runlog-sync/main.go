// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// runlog-sync is the per-run background process spawned by the host
// library. It is not intended for direct use:
//
//	runlog-sync [--settings PATH] '<bundle json>'
//
// The bundle names the run, its directory, the host's loopback
// handshake address, and the inherited descriptors carrying the host's
// console output. runlog-sync dials back, reports ready, and records
// everything until the host sends done or disappears.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/runlog/lib/debuglog"
	"github.com/bureau-foundation/runlog/lib/env"
	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/lib/settings"
	"github.com/bureau-foundation/runlog/lib/version"
	"github.com/bureau-foundation/runlog/protocol"
	"github.com/bureau-foundation/runlog/syncer"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		settingsPath string
		showVersion  bool
	)
	flags := pflag.NewFlagSet("runlog-sync", pflag.ContinueOnError)
	flags.StringVar(&settingsPath, "settings", "", "settings file (overrides "+env.Settings+")")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("runlog-sync %s\n", version.Full())
		return nil
	}

	if flags.NArg() != 1 {
		return fmt.Errorf("usage: runlog-sync [--settings PATH] <bundle>\n\n" +
			"This binary is spawned by the runlog host library. It is not intended for direct use.")
	}
	bundle, err := protocol.ParseBundle(flags.Arg(0))
	if err != nil {
		return err
	}

	lookup := env.Process
	if settingsPath != "" {
		lookup = func(key string) (string, bool) {
			if key == env.Settings {
				return settingsPath, true
			}
			return env.Process(key)
		}
	}
	config, err := settings.Load(lookup, bundle.BaseDir)
	if err != nil {
		return err
	}

	debugLog, err := debuglog.Open(debuglog.Config{BaseDir: config.BaseDir, Component: "sync"})
	if err != nil {
		return err
	}
	defer debugLog.Close()
	logger := debugLog.Logger()
	logger.Info("runlog-sync starting",
		"version", version.Short(),
		"run_id", bundle.RunID,
		"host_pid", bundle.PID,
	)

	// A terminal interrupt reaches the whole foreground process group.
	// The host owns that signal and tells us when to finish; SIGTERM is
	// the only request to stop early.
	signal.Ignore(syscall.SIGINT)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	engine, err := syncer.New(syncer.Config{
		Bundle:   bundle,
		Settings: config,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := engine.Run(ctx); err != nil {
		logger.Error("runlog-sync failed", "error", err)
		return err
	}
	return nil
}
