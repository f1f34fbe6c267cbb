// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestConnCarriesFramesInOrder(t *testing.T) {
	client, server := net.Pipe()
	sender := NewConn(client)
	receiver := NewConn(server)

	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sent := []Message{
		{Type: TypeRow, Row: &Row{
			Step:      0,
			Fields:    []Field{{Key: "loss", Value: 0.5}, {Key: "epoch", Value: int64(1)}},
			Timestamp: stamp,
			Runtime:   1.5,
		}},
		{Type: TypeConfig, Config: []Field{{Key: "lr", Value: 0.25}}},
		{Type: TypeSave, Save: &Save{Glob: "*.ckpt", Policy: PolicyEnd}},
		Done(3),
	}

	go func() {
		for _, message := range sent {
			if err := sender.Send(message); err != nil {
				t.Errorf("Send: %v", err)
				return
			}
		}
		client.Close()
	}()

	for i, want := range sent {
		got, err := receiver.Receive()
		if err != nil {
			t.Fatalf("Receive #%d: %v", i, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("frame %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if _, err := receiver.Receive(); !errors.Is(err, io.EOF) {
		t.Errorf("Receive after close = %v, want io.EOF", err)
	}
}

func TestLookup(t *testing.T) {
	fields := []Field{{Key: "a", Value: int64(1)}, {Key: "b", Value: "x"}}
	if value, ok := Lookup(fields, "b"); !ok || value != "x" {
		t.Errorf("Lookup(b) = %v, %v", value, ok)
	}
	if _, ok := Lookup(fields, "c"); ok {
		t.Error("Lookup(c) found a missing key")
	}
}

func TestHandshakeTokens(t *testing.T) {
	failed := Failed("abc", errors.New("no store"))
	if failed.Type != TypeFailed || failed.Error != "no store" || failed.RunID != "abc" {
		t.Errorf("Failed = %+v", failed)
	}
	exit := Exit("abc", 255)
	if exit.ExitCode == nil || *exit.ExitCode != 255 {
		t.Errorf("Exit code = %v", exit.ExitCode)
	}
}

func TestFieldsFromMapSortsKeys(t *testing.T) {
	got := FieldsFromMap(map[string]any{"b": 2, "a": 1, "c": 3})
	want := []Field{{Key: "a", Value: 1}, {Key: "b", Value: 2}, {Key: "c", Value: 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FieldsFromMap mismatch (-want +got):\n%s", diff)
	}
	if values := FieldsToMap(append(got, Field{Key: "a", Value: 9})); values["a"] != 9 {
		t.Errorf("FieldsToMap kept %v for a, want the later 9", values["a"])
	}
}
