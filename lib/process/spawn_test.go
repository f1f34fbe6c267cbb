// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"io"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/bureau-foundation/runlog/lib/testutil"
)

func TestSpawnInheritsFilesInOrder(t *testing.T) {
	firstReader, firstWriter, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer firstReader.Close()
	secondReader, secondWriter, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer secondReader.Close()

	child, err := Spawn(Command{
		Path:    "/bin/sh",
		Args:    []string{"-c", "echo first >&3; echo second >&4"},
		Inherit: []*os.File{firstWriter, secondWriter},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	firstWriter.Close()
	secondWriter.Close()

	testutil.RequireClosed(t, child.Exited(), 10*time.Second, "child exit")
	if code := child.ExitCode(); code != 0 {
		t.Fatalf("ExitCode = %d, want 0", code)
	}

	for _, test := range []struct {
		reader *os.File
		want   string
	}{
		{firstReader, "first"},
		{secondReader, "second"},
	} {
		data, err := io.ReadAll(test.reader)
		if err != nil {
			t.Fatalf("reading inherited pipe: %v", err)
		}
		if got := strings.TrimSpace(string(data)); got != test.want {
			t.Errorf("inherited fd got %q, want %q", got, test.want)
		}
	}
}

func TestSpawnReportsExitCode(t *testing.T) {
	child, err := Spawn(Command{Path: "/bin/sh", Args: []string{"-c", "exit 7"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	testutil.RequireClosed(t, child.Exited(), 10*time.Second, "child exit")
	if child.Alive() {
		t.Error("Alive = true after exit")
	}
	if code := child.ExitCode(); code != 7 {
		t.Errorf("ExitCode = %d, want 7", code)
	}
}

func TestKillTerminatesChild(t *testing.T) {
	child, err := Spawn(Command{Path: "/bin/sh", Args: []string{"-c", "sleep 60"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !child.Alive() {
		t.Fatal("Alive = false immediately after Spawn")
	}
	if err := child.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	testutil.RequireClosed(t, child.Exited(), 10*time.Second, "killed child exit")
	if err := child.Kill(); err != nil {
		t.Errorf("second Kill: %v", err)
	}
}

func TestSpawnRequiresPath(t *testing.T) {
	if _, err := Spawn(Command{}); err == nil {
		t.Fatal("Spawn with empty Path succeeded")
	}
}

func TestSignalExitCode(t *testing.T) {
	tests := []struct {
		signal os.Signal
		want   int
	}{
		{syscall.SIGINT, ExitCancelled},
		{syscall.SIGTERM, 143},
		{syscall.SIGHUP, 129},
	}
	for _, test := range tests {
		if got := SignalExitCode(test.signal); got != test.want {
			t.Errorf("SignalExitCode(%v) = %d, want %d", test.signal, got, test.want)
		}
	}
}

func TestInheritedFD(t *testing.T) {
	if InheritedFD(0) != 3 || InheritedFD(1) != 4 {
		t.Errorf("InheritedFD(0,1) = %d,%d, want 3,4", InheritedFD(0), InheritedFD(1))
	}
}
