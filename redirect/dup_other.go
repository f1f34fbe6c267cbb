// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix && !linux

package redirect

import "golang.org/x/sys/unix"

func dupTo(oldFD, newFD int) error {
	return unix.Dup2(oldFD, newFD)
}
