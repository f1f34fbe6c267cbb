// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
)

// HelperEnv is the environment variable that switches a re-executed
// test binary into helper mode. Its value names the helper body.
const HelperEnv = "RUNLOG_TEST_HELPER"

// HelperProcess returns the path of the running test binary and the
// environment entry that selects the named helper body when that
// binary is spawned again.
//
//	binary, entry := testutil.HelperProcess("never-connect")
//	command := process.Command{Path: binary, Env: append(os.Environ(), entry)}
func HelperProcess(name string) (binary string, envEntry string) {
	return os.Args[0], HelperEnv + "=" + name
}

// RunHelper is called from TestMain. When the binary was spawned as a
// helper it runs the matching body and exits with its return value;
// otherwise it returns and TestMain proceeds to m.Run.
//
//	func TestMain(m *testing.M) {
//	    testutil.RunHelper(map[string]func() int{"sync": syncHelper})
//	    os.Exit(m.Run())
//	}
func RunHelper(bodies map[string]func() int) {
	name := os.Getenv(HelperEnv)
	if name == "" {
		return
	}
	body, ok := bodies[name]
	if !ok {
		os.Stderr.WriteString("testutil: unknown helper " + name + "\n")
		os.Exit(2)
	}
	os.Exit(body())
}
