// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package duplex

import (
	"io"
	"os"
	"runtime"
	"testing"
	"time"

	"golang.org/x/term"
)

func TestPipeChannelCarriesBytes(t *testing.T) {
	channel, err := Open(Stdout, ModePipe)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer channel.Close()

	if channel.PTY() {
		t.Fatal("pipe mode produced a pty")
	}
	if _, err := channel.Host().Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := channel.CloseHost(); err != nil {
		t.Fatalf("CloseHost: %v", err)
	}

	data, err := io.ReadAll(channel.Child())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("read %q, want %q", data, "hello\n")
	}
}

func TestAutoUsesPipeForNonTerminal(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "host")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer file.Close()

	channel, err := OpenFor(Stderr, ModeAuto, file)
	if err != nil {
		t.Fatalf("OpenFor: %v", err)
	}
	defer channel.Close()
	if channel.PTY() {
		t.Error("auto mode chose a pty for a regular file")
	}
	if channel.Kind() != Stderr {
		t.Errorf("Kind = %v, want stderr", channel.Kind())
	}
}

func TestPTYChannelRawAndEOF(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("pty allocation is linux-only")
	}
	channel, err := OpenFor(Stdout, ModePTY, nil)
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	defer channel.Close()
	if !channel.PTY() {
		t.Fatal("ModePTY on linux produced a pipe")
	}
	if !term.IsTerminal(int(channel.Slave().Fd())) {
		t.Error("slave is not a terminal")
	}
	if term.IsTerminal(int(channel.Host().Fd())) {
		t.Error("transport host end is a terminal, want a pipe")
	}

	if _, err := channel.Slave().Write([]byte("a\nb\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	channel.Slave().Close()

	var collected []byte
	buffer := make([]byte, 64)
	for {
		n, err := channel.Master().Read(buffer)
		collected = append(collected, buffer[:n]...)
		if err != nil {
			if !IsEOF(err) {
				t.Fatalf("Read: %v", err)
			}
			break
		}
	}
	// Raw mode: no \n to \r\n translation.
	if string(collected) != "a\nb\n" {
		t.Errorf("read %q, want %q", collected, "a\nb\n")
	}
}

func TestPTYMasterCloseInterruptsRead(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("pty allocation is linux-only")
	}
	channel, err := OpenFor(Stdout, ModePTY, nil)
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	defer channel.Close()

	done := make(chan error, 1)
	go func() {
		_, err := channel.Master().Read(make([]byte, 64))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	channel.Master().Close()

	select {
	case err := <-done:
		if !IsEOF(err) {
			t.Errorf("Read after Close = %v, want a closed error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not interrupt a pending master Read")
	}
}

func TestUnknownMode(t *testing.T) {
	if _, err := Open(Stdout, Mode("tee")); err == nil {
		t.Fatal("Open with unknown mode succeeded")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	channel, err := Open(Stdout, ModePipe)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := channel.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := channel.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
