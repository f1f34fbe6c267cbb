// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/bureau-foundation/runlog/lib/duplex"
	"github.com/bureau-foundation/runlog/lib/resume"
	"github.com/bureau-foundation/runlog/lib/settings"
	"github.com/bureau-foundation/runlog/protocol"
	"github.com/bureau-foundation/runlog/sink/localstore"
	"github.com/bureau-foundation/runlog/syncer"
)

func openStore(t *testing.T, run *Run) *localstore.Store {
	t.Helper()
	store, err := localstore.Open(localstore.Config{RunDir: run.Dir(), RunID: run.ID()})
	if err != nil {
		t.Fatalf("localstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHeadlessRunEndToEnd(t *testing.T) {
	useHelper(t, "sync")
	options := testOptions(t, ModeHeadless)
	options.Config = map[string]any{"lr": 0.1}
	run := mustInit(t, options)

	if _, err := options.Stdout.WriteString("epoch 1 done\n"); err != nil {
		t.Fatalf("writing stdout: %v", err)
	}
	options.Stderr.WriteString("warning: slow loader\n")

	run.LogFields([]protocol.Field{{Key: "a", Value: 1}}, false)
	run.LogFields([]protocol.Field{{Key: "b", Value: 2}}, false)
	run.LogFields([]protocol.Field{{Key: "c", Value: 3}}, true)
	if err := run.UpdateConfig(map[string]any{"batch": 32}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	if code := run.Finish(); code != 0 {
		t.Fatalf("Finish = %d", code)
	}
	if run.State() != StateClosed {
		t.Errorf("State = %s, want closed", run.State())
	}

	// Written after restore: reaches the file only.
	options.Stdout.WriteString("after finish\n")

	ctx := context.Background()
	store := openStore(t, run)
	rows, err := store.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Step != 0 {
		t.Errorf("row step = %d, want 0", rows[0].Step)
	}
	wantFields := []protocol.Field{{Key: "a", Value: 1.0}, {Key: "b", Value: 2.0}, {Key: "c", Value: 3.0}}
	if diff := cmp.Diff(wantFields, rows[0].Fields); diff != "" {
		t.Errorf("row fields mismatch (-want +got):\n%s", diff)
	}

	config, _ := store.Config(ctx)
	values := protocol.FieldsToMap(config)
	if values["lr"] != 0.1 || values["batch"] != 32.0 || values["_run_dir"] != run.Dir() {
		t.Errorf("stored config = %v", values)
	}

	summary, _ := store.Summary(ctx)
	if value, ok := protocol.Lookup(summary, "c"); !ok || value != 3.0 {
		t.Errorf("summary c = %v, %v", value, ok)
	}

	code, found, _ := store.Exit(ctx)
	if !found || code != 0 {
		t.Errorf("exit = %d, %v", code, found)
	}

	output, _ := store.Output(ctx)
	lines := map[string][]string{}
	for _, line := range output {
		lines[line.Stream] = append(lines[line.Stream], line.Line)
	}
	wantLines := map[string][]string{
		"stdout": {"epoch 1 done"},
		"stderr": {"warning: slow loader"},
	}
	if diff := cmp.Diff(wantLines, lines); diff != "" {
		t.Errorf("captured output mismatch (-want +got):\n%s", diff)
	}

	shown, err := os.ReadFile(options.Stdout.Name())
	if err != nil {
		t.Fatalf("reading stdout file: %v", err)
	}
	if string(shown) != "epoch 1 done\nafter finish\n" {
		t.Errorf("stdout file = %q", shown)
	}

	if _, err := os.Stat(filepath.Join(run.Dir(), syncer.OutputLogName+".zst")); err != nil {
		t.Errorf("archived output log: %v", err)
	}
	if _, found, _ := resume.NewStore(options.Settings.BaseDir).Read(); found {
		t.Error("resume marker survived a clean finish")
	}
}

func TestHandshakeTimeoutIsFatal(t *testing.T) {
	useHelper(t, "hang")
	options := testOptions(t, ModeHeadless)
	options.Settings.Supervisor.HandshakeTimeout = settings.Duration(300 * time.Millisecond)

	started := time.Now()
	run, err := Init(context.Background(), options)
	elapsed := time.Since(started)
	if run != nil {
		t.Fatal("Init returned a run after a failed handshake")
	}
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("Init error = %v, want LaunchError", err)
	}
	if elapsed > 10*time.Second {
		t.Errorf("Init took %s, handshake timeout not enforced", elapsed)
	}
	if launchErr.PID == 0 {
		t.Fatal("LaunchError.PID = 0")
	}
	if err := unix.Kill(launchErr.PID, 0); !errors.Is(err, unix.ESRCH) {
		t.Errorf("sync process %d still exists: %v", launchErr.PID, err)
	}
	if launchErr.DebugLog == "" {
		t.Error("LaunchError does not name the debug log")
	}

	// Nothing was redirected.
	options.Stdout.WriteString("still mine\n")
	shown, _ := os.ReadFile(options.Stdout.Name())
	if string(shown) != "still mine\n" {
		t.Errorf("stdout file = %q", shown)
	}
}

func TestDebugModeLeavesStderrAlone(t *testing.T) {
	useHelper(t, "sync")
	options := testOptions(t, ModeHeadless)
	options.Settings.Debug = true
	run := mustInit(t, options)

	options.Stderr.WriteString("direct\n")
	run.Finish()

	output, _ := openStore(t, run).Output(context.Background())
	for _, line := range output {
		if line.Stream == "stderr" {
			t.Errorf("stderr captured in debug mode: %q", line.Line)
		}
	}
}

func TestTerminalStdoutStaysATerminal(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("pty allocation is linux-only")
	}
	screen, err := duplex.OpenFor(duplex.Stdout, duplex.ModePTY, nil)
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	t.Cleanup(func() { screen.Close() })

	var (
		shownMu sync.Mutex
		shown   bytes.Buffer
	)
	go func() {
		buffer := make([]byte, 4096)
		for {
			n, err := screen.Master().Read(buffer)
			shownMu.Lock()
			shown.Write(buffer[:n])
			shownMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	useHelper(t, "sync")
	options := testOptions(t, ModeHeadless)
	options.Settings.Console = settings.ConsoleAuto
	options.Stdout = screen.Slave()
	run := mustInit(t, options)

	if !term.IsTerminal(int(options.Stdout.Fd())) {
		t.Fatal("stdout stopped being a terminal after Init")
	}
	options.Stdout.WriteString("\x1b[32mok\x1b[0m\n")
	if code := run.Finish(); code != 0 {
		t.Fatalf("Finish = %d", code)
	}

	output, _ := openStore(t, run).Output(context.Background())
	var captured []string
	for _, line := range output {
		if line.Stream == "stdout" {
			captured = append(captured, line.Line)
		}
	}
	if diff := cmp.Diff([]string{"\x1b[32mok\x1b[0m"}, captured); diff != "" {
		t.Errorf("captured stdout mismatch (-want +got):\n%s", diff)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		shownMu.Lock()
		got := shown.String()
		shownMu.Unlock()
		if got == "\x1b[32mok\x1b[0m\n" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("terminal showed %q", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
