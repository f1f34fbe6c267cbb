// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package duplex

import "os"

func openPTY() (master, slave *os.File, err error) {
	return nil, nil, errNoPTY
}
