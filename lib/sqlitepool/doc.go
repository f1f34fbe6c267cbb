// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite connection pool behind the local
// run store.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies one set
// of pragmas to every connection:
//
//   - journal_mode=WAL so a reader (a test, or a later resume) never
//     blocks runlog-sync's writer.
//   - synchronous=NORMAL: committed rows survive a process crash, which
//     is the failure runlog is built around. Power loss may drop the
//     last transactions.
//   - busy_timeout=5000 to ride out a concurrent writer.
//   - temp_store=MEMORY.
//
// Callers Take a connection, use sqlitex.Execute for cached statements,
// and Put it back. Connections are not safe for concurrent use.
package sqlitepool
