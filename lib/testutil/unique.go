// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"strconv"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-PID-N". The pid keeps ids distinct across
// test binaries sharing one NATS or Redis server; N increases within
// the binary.
func UniqueID(prefix string) string {
	return prefix + "-" + strconv.Itoa(os.Getpid()) + "-" + strconv.FormatUint(uniqueCounter.Add(1), 10)
}
