// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/bureau-foundation/runlog/protocol"
)

type flakyRemote struct {
	Memory
	failAfter int
	writes    int
	closes    int
}

func (r *flakyRemote) Name() string { return "nats" }

func (r *flakyRemote) Write(ctx context.Context, message protocol.Message) error {
	r.writes++
	if r.writes > r.failAfter {
		return errors.New("connection reset")
	}
	return r.Memory.Write(ctx, message)
}

func (r *flakyRemote) Close() error {
	r.closes++
	return r.Memory.Close()
}

func TestFanoutDisablesRemoteOnFirstFailure(t *testing.T) {
	local := &Memory{}
	remote := &flakyRemote{failAfter: 1}
	var failures []*CommunicationError
	fanout := NewFanout(local, remote, nil, func(err *CommunicationError) {
		failures = append(failures, err)
	})

	ctx := context.Background()
	for i := range 4 {
		if err := fanout.Write(ctx, protocol.Message{Type: protocol.TypeOutput}); err != nil {
			t.Fatalf("Write #%d: %v", i, err)
		}
	}

	if got := len(local.Messages()); got != 4 {
		t.Errorf("local received %d records, want 4", got)
	}
	if got := len(remote.Messages()); got != 1 {
		t.Errorf("remote received %d records, want 1", got)
	}
	if remote.writes != 2 {
		t.Errorf("remote attempted %d writes, want 2", remote.writes)
	}
	if fanout.RemoteActive() {
		t.Error("remote still active after failure")
	}
	if len(failures) != 1 {
		t.Fatalf("onFailure called %d times, want 1", len(failures))
	}
	if failures[0].Sink != "nats" || failures[0].Op != "publish" {
		t.Errorf("CommunicationError = %+v", failures[0])
	}
	if fanout.RemoteErr() != failures[0] {
		t.Error("RemoteErr does not return the disabling error")
	}
	if remote.closes != 1 {
		t.Errorf("remote closed %d times, want 1", remote.closes)
	}

	if err := fanout.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if remote.closes != 1 {
		t.Errorf("Close closed the disabled remote again")
	}
}

func TestFanoutReturnsLocalErrors(t *testing.T) {
	local := &Memory{}
	local.Close()
	fanout := NewFanout(local, nil, nil, nil)
	if err := fanout.Write(context.Background(), protocol.Message{Type: protocol.TypeRow}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write error = %v, want ErrClosed", err)
	}
}

func TestCommunicationErrorUnwraps(t *testing.T) {
	cause := errors.New("no responders")
	err := error(&CommunicationError{Sink: "redis", Op: "connect", Err: cause})
	if !errors.Is(err, cause) {
		t.Error("CommunicationError does not unwrap to its cause")
	}
	if err.Error() != "redis connect: no responders" {
		t.Errorf("Error() = %q", err.Error())
	}
}
