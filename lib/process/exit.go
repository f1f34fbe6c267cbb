// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
	"syscall"
)

// Exit codes observed by the host caller.
const (
	ExitClean     = 0
	ExitFailure   = 1
	ExitCancelled = 255
)

// SignalExitCode maps a terminating signal to the run's exit code. An
// interrupt is a user cancellation (255); other signals follow the
// shell convention of 128 plus the signal number.
func SignalExitCode(sig os.Signal) int {
	unixSignal, ok := sig.(syscall.Signal)
	if !ok {
		return ExitFailure
	}
	if unixSignal == syscall.SIGINT {
		return ExitCancelled
	}
	return 128 + int(unixSignal)
}

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the debug log may not be open.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitFailure)
}
