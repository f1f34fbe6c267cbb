// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resume

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteRead(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Write("abc123"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	marker, ok, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !ok {
		t.Fatal("Read reported no marker after Write")
	}
	if marker.RunID != "abc123" {
		t.Errorf("RunID = %q, want %q", marker.RunID, "abc123")
	}
}

func TestWireFormat(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Write("abc123"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got, want := string(data), "{\"run_id\":\"abc123\"}\n"; got != want {
		t.Errorf("marker contents = %q, want %q", got, want)
	}
}

func TestWriteOverwritesExisting(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Write("first"); err != nil {
		t.Fatalf("Write first: %v", err)
	}
	if err := store.Write("second"); err != nil {
		t.Fatalf("Write second: %v", err)
	}
	marker, _, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if marker.RunID != "second" {
		t.Errorf("RunID = %q, want %q", marker.RunID, "second")
	}
}

func TestWriteLeavesNoTemporaryFile(t *testing.T) {
	directory := t.TempDir()
	store := NewStore(directory)
	if err := store.Write("abc123"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(directory, FileName+".tmp")); !os.IsNotExist(err) {
		t.Errorf("temporary file still present: %v", err)
	}
}

func TestReadMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	_, ok, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ok {
		t.Error("Read reported a marker in an empty directory")
	}
}

func TestReadCorrupt(t *testing.T) {
	directory := t.TempDir()
	if err := os.WriteFile(filepath.Join(directory, FileName), []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := NewStore(directory).Read(); err == nil {
		t.Error("Read of corrupt marker succeeded")
	}
}

func TestReadEmptyRunID(t *testing.T) {
	directory := t.TempDir()
	if err := os.WriteFile(filepath.Join(directory, FileName), []byte(`{"run_id":""}`), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := NewStore(directory).Read(); err == nil {
		t.Error("Read of marker without run_id succeeded")
	}
}

func TestWriteRejectsEmptyRunID(t *testing.T) {
	if err := NewStore(t.TempDir()).Write(""); err == nil {
		t.Error("Write(\"\") succeeded")
	}
}

func TestClearIdempotent(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Write("abc123"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	if _, ok, _ := store.Read(); ok {
		t.Error("marker still present after Clear")
	}
}
