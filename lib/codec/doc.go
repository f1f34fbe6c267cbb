// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by every runlog
// component that speaks the control-link protocol.
//
// JSON is used where a human or an external tool reads the bytes: the
// spawn bundle, the resume marker, settings files, and rows persisted
// in the local store. CBOR is used on the wire between the host process
// and runlog-sync, and for payloads handed to remote sinks. CBOR is
// self-delimiting, so a stream of frames needs no length prefix:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Encoding is Core Deterministic (sorted map keys, shortest integers).
// Decoding into an interface produces map[string]any and int64 for
// integers, so values read off the wire compare cleanly with values a
// caller logged.
package codec
