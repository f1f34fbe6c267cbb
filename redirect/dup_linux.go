// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package redirect

import "golang.org/x/sys/unix"

// dupTo makes newFD refer to oldFD's open file. The result is
// inheritable, as a standard stream must be.
func dupTo(oldFD, newFD int) error {
	return unix.Dup3(oldFD, newFD, 0)
}
