// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/runlog/lib/version"
	"github.com/bureau-foundation/runlog/protocol"
)

func TestReadyHandshakeEstablishesControlLink(t *testing.T) {
	listener, err := Listen("run-1")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	childErr := make(chan error, 1)
	received := make(chan protocol.Message, 1)
	go func() {
		session, err := Dial(context.Background(), listener.Address(), "run-1")
		if err != nil {
			childErr <- err
			return
		}
		defer session.Close()
		if err := session.Ready(); err != nil {
			childErr <- err
			return
		}
		message, err := session.Receive()
		if err != nil {
			childErr <- err
			return
		}
		received <- message
		childErr <- nil
	}()

	session, err := listener.Accept(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer session.Close()

	if err := session.Send(protocol.Done(0)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := <-childErr; err != nil {
		t.Fatalf("child: %v", err)
	}
	if message := <-received; message.Type != protocol.TypeDone {
		t.Errorf("child received %q, want done", message.Type)
	}

	// The listener is gone after the single accept.
	if conn, err := net.DialTimeout("tcp", listener.Address(), time.Second); err == nil {
		conn.Close()
		t.Error("listener still accepting after Accept returned")
	}
}

func TestAcceptTimesOutWithoutClient(t *testing.T) {
	listener, err := Listen("run-2")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	start := time.Now()
	_, err = listener.Accept(context.Background(), 150*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Accept error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Accept took %v", elapsed)
	}
}

func TestAcceptTimesOutWhenClientNeverReady(t *testing.T) {
	listener, err := Listen("run-3")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	conn, err := net.Dial("tcp", listener.Address())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_, err = listener.Accept(context.Background(), 150*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Accept error = %v, want ErrTimeout", err)
	}
}

func TestAcceptReportsChildFailure(t *testing.T) {
	listener, err := Listen("run-4")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() {
		session, err := Dial(context.Background(), listener.Address(), "run-4")
		if err != nil {
			return
		}
		session.Fail(errors.New("cannot open run.db"))
	}()

	_, err = listener.Accept(context.Background(), 5*time.Second)
	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Accept error = %v, want *FailedError", err)
	}
	if failed.Reason != "cannot open run.db" {
		t.Errorf("Reason = %q", failed.Reason)
	}
}

func TestAcceptRejectsOtherRun(t *testing.T) {
	listener, err := Listen("run-5")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() {
		session, err := Dial(context.Background(), listener.Address(), "someone-else")
		if err != nil {
			return
		}
		defer session.Close()
		session.Ready()
		for {
			if _, err := session.Receive(); err != nil {
				return
			}
		}
	}()

	if _, err := listener.Accept(context.Background(), 5*time.Second); err == nil {
		t.Fatal("Accept succeeded for mismatched run id")
	}
}

func TestAcceptRejectsIncompatibleVersion(t *testing.T) {
	listener, err := Listen("run-7")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() {
		conn, err := net.Dial("tcp", listener.Address())
		if err != nil {
			return
		}
		control := protocol.NewConn(conn)
		defer control.Close()
		control.Send(protocol.Ready("run-7", "99.0.0"))
		for {
			if _, err := control.Receive(); err != nil {
				return
			}
		}
	}()

	_, err = listener.Accept(context.Background(), 5*time.Second)
	if !errors.Is(err, ErrIncompatibleVersion) {
		t.Fatalf("Accept error = %v, want ErrIncompatibleVersion", err)
	}
}

func TestAcceptRecordsPeerVersion(t *testing.T) {
	listener, err := Listen("run-8")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() {
		session, err := Dial(context.Background(), listener.Address(), "run-8")
		if err != nil {
			return
		}
		defer session.Close()
		session.Ready()
		session.Receive()
	}()

	session, err := listener.Accept(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer session.Close()
	if got := session.PeerVersion(); got != version.Short() {
		t.Errorf("PeerVersion = %q, want %q", got, version.Short())
	}
}

func TestAcceptHonorsCancellation(t *testing.T) {
	listener, err := Listen("run-6")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if _, err := listener.Accept(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("Accept error = %v, want context.Canceled", err)
	}
}
