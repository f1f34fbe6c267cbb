// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"testing"

	"github.com/bureau-foundation/runlog/lib/env"
	"github.com/bureau-foundation/runlog/lib/resume"
	"github.com/bureau-foundation/runlog/lib/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	useHelper(t, "sync")
	options := testOptions(t, ModeHeadless)

	first := mustInit(t, options)
	second, err := Init(context.Background(), options)
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if first != second {
		t.Fatal("second Init returned a different run")
	}
	if first.State() != StateActive {
		t.Errorf("State = %s, want active", first.State())
	}
	if first.SyncPID() == 0 {
		t.Error("SyncPID = 0 for a headless run")
	}
	if code := first.Finish(); code != 0 {
		t.Errorf("Finish = %d, want 0", code)
	}
	if got := spawnCount(t, options.Settings.BaseDir); got != 1 {
		t.Errorf("spawned %d sync processes, want 1", got)
	}
}

func TestConcurrentInitSharesOneRun(t *testing.T) {
	useHelper(t, "sync")
	options := testOptions(t, ModeHeadless)

	const callers = 16
	runs := make([]*Run, callers)
	errs := make([]error, callers)
	var start, done sync.WaitGroup
	start.Add(1)
	for i := range callers {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			runs[i], errs[i] = Init(context.Background(), options)
		}()
	}
	start.Done()
	done.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if runs[i] != runs[0] {
			t.Fatalf("caller %d got a different run", i)
		}
	}
	runs[0].Finish()
	if got := spawnCount(t, options.Settings.BaseDir); got != 1 {
		t.Errorf("spawned %d sync processes, want 1", got)
	}
}

func TestReinitReplacesRun(t *testing.T) {
	options := testOptions(t, ModeLocal)
	first := mustInit(t, options)

	options.Reinit = true
	second := mustInit(t, options)
	if first == second || first.ID() == second.ID() {
		t.Fatal("Reinit returned the previous run")
	}
	if first.State() != StateClosed {
		t.Errorf("previous run State = %s, want closed", first.State())
	}
}

func TestResumeRoundTrip(t *testing.T) {
	options := testOptions(t, ModeLocal)
	options.Resume = ResumeAuto
	store := resume.NewStore(options.Settings.BaseDir)
	if err := store.Write("abc123"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	run := mustInit(t, options)
	if run.ID() != "abc123" {
		t.Fatalf("ID = %q, want abc123", run.ID())
	}
	if code := run.Finish(); code != 0 {
		t.Fatalf("Finish = %d", code)
	}
	if _, found, _ := store.Read(); found {
		t.Error("resume marker survived a clean finish")
	}

	Reset()
	next := mustInit(t, options)
	if next.ID() == "abc123" || next.ID() == "" {
		t.Errorf("next run ID = %q, want a fresh id", next.ID())
	}
}

func TestResumeRestoresIdentity(t *testing.T) {
	options := testOptions(t, ModeLocal)
	options.Group = "sweep-7"
	options.Tags = []string{"baseline"}
	first := mustInit(t, options)
	id := first.ID()
	// Simulate a crash: the marker stays behind.
	first.Shutdown(1)

	Reset()
	options.Group = ""
	options.Tags = nil
	options.Resume = ResumeAuto
	resumed := mustInit(t, options)
	if resumed.ID() != id || !resumed.Resumed() {
		t.Fatalf("ID = %q resumed=%v, want %q resumed", resumed.ID(), resumed.Resumed(), id)
	}
	if resumed.Group() != "sweep-7" || len(resumed.Tags()) != 1 || resumed.Tags()[0] != "baseline" {
		t.Errorf("identity not restored: group=%q tags=%v", resumed.Group(), resumed.Tags())
	}
}

func TestResumeMustWithoutIDFails(t *testing.T) {
	options := testOptions(t, ModeLocal)
	options.Resume = ResumeMust
	_, err := Init(context.Background(), options)
	var configErr *ConfigurationError
	if !errors.As(err, &configErr) {
		t.Fatalf("Init error = %v, want ConfigurationError", err)
	}

	// A failed construction does not stick.
	options.Resume = ResumeNone
	mustInit(t, options)
}

func TestResumeNoneReplacesStaleMarker(t *testing.T) {
	options := testOptions(t, ModeLocal)
	store := resume.NewStore(options.Settings.BaseDir)
	store.Write("stale")

	run := mustInit(t, options)
	if run.ID() == "stale" {
		t.Fatal("policy none adopted the stale marker")
	}
	marker, found, err := store.Read()
	if err != nil || !found || marker.RunID != run.ID() {
		t.Errorf("marker = %+v, %v, %v; want the new run id", marker, found, err)
	}
}

func TestInvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"mode", func(o *Options) { o.Mode = "batch" }},
		{"resume", func(o *Options) { o.Resume = "sometimes" }},
		{"config", func(o *Options) { o.Config = map[string]any{"bad": make(chan int)} }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			options := testOptions(t, ModeLocal)
			test.mutate(&options)
			_, err := Init(context.Background(), options)
			var configErr *ConfigurationError
			if !errors.As(err, &configErr) {
				t.Errorf("Init error = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestForkedChildGetsDisabledRun(t *testing.T) {
	options := testOptions(t, ModeHeadless)
	options.Env = env.FromMap(map[string]string{env.Inited: strconv.Itoa(os.Getppid())})

	run := mustInit(t, options)
	if !run.Disabled() {
		t.Fatal("Disabled = false for a process whose parent owns the run")
	}
	if err := run.Log(map[string]any{"loss": 1}); err != nil {
		t.Errorf("Log on disabled run: %v", err)
	}
	if files, err := run.Save("*.txt", "", PolicyLive); files != nil || err != nil {
		t.Errorf("Save on disabled run = %v, %v", files, err)
	}
	if code := run.Finish(); code != 0 {
		t.Errorf("Finish = %d", code)
	}
	if got := spawnCount(t, options.Settings.BaseDir); got != 0 {
		t.Errorf("disabled run spawned %d processes", got)
	}
}

func TestDisabledRunExitTerminates(t *testing.T) {
	binary, entry := testutil.HelperProcess("exit-disabled")
	command := exec.Command(binary)
	command.Env = append(os.Environ(), entry)
	output, err := command.CombinedOutput()

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("helper exited with %v, want exit code 2 (output %q)", err, output)
	}
	if code := exitErr.ExitCode(); code != 2 {
		t.Errorf("exit code = %d, want 2 (output %q)", code, output)
	}
}

func TestOwnPIDInitedIsNotDisabled(t *testing.T) {
	options := testOptions(t, ModeLocal)
	options.Env = env.FromMap(map[string]string{env.Inited: strconv.Itoa(os.Getpid())})
	if run := mustInit(t, options); run.Disabled() {
		t.Error("run disabled by its own RUNLOG_INITED")
	}
}
