// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// firstInheritedFD is the descriptor number the first inherited file
// receives in the child (after stdin, stdout, stderr).
const firstInheritedFD = 3

// InheritedFD returns the descriptor number the file at index i of
// Command.Inherit will have in the child.
func InheritedFD(i int) int {
	return firstInheritedFD + i
}

// Command describes a child to spawn.
type Command struct {
	// Path is the executable. Resolved through PATH when it contains
	// no separator.
	Path string

	// Args are the arguments after the program name.
	Args []string

	// Env is the complete child environment. Nil inherits the
	// parent's environment.
	Env []string

	// Inherit lists files the child receives as fds 3, 4, ... in
	// order. The caller keeps ownership of its copies and should
	// close them once Spawn returns.
	Inherit []*os.File

	// Stdout and Stderr receive the child's own standard streams. Nil
	// discards them.
	Stdout io.Writer
	Stderr io.Writer
}

// Process is a running (or exited) child started by Spawn. A
// background goroutine reaps the child, so Exited and Alive never
// block.
type Process struct {
	command *exec.Cmd
	exited  chan struct{}

	mu       sync.Mutex
	exitCode int
	waitErr  error
}

// Spawn starts the child described by command.
func Spawn(command Command) (*Process, error) {
	if command.Path == "" {
		return nil, errors.New("process: Path is required")
	}

	child := exec.Command(command.Path, command.Args...)
	child.Env = command.Env
	child.ExtraFiles = command.Inherit
	child.Stdout = command.Stdout
	child.Stderr = command.Stderr

	if err := child.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", command.Path, err)
	}

	p := &Process{
		command:  child,
		exited:   make(chan struct{}),
		exitCode: -1,
	}
	go p.reap()
	return p, nil
}

func (p *Process) reap() {
	err := p.command.Wait()

	p.mu.Lock()
	p.waitErr = err
	if state := p.command.ProcessState; state != nil {
		p.exitCode = state.ExitCode()
	}
	p.mu.Unlock()

	close(p.exited)
}

// PID returns the child's process id.
func (p *Process) PID() int {
	return p.command.Process.Pid
}

// Exited is closed once the child has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Alive reports whether the child has not yet been reaped.
func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// ExitCode returns the child's exit code, -1 while it is running or
// when it was killed by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Kill sends SIGKILL. Killing an already-reaped child is not an error.
func (p *Process) Kill() error {
	if !p.Alive() {
		return nil
	}
	if err := p.command.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing pid %d: %w", p.PID(), err)
	}
	return nil
}

// Signal delivers sig to the child. Signalling a reaped child is not
// an error.
func (p *Process) Signal(sig os.Signal) error {
	if !p.Alive() {
		return nil
	}
	if err := p.command.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signalling pid %d: %w", p.PID(), err)
	}
	return nil
}
