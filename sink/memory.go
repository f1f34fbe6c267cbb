// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/bureau-foundation/runlog/protocol"
)

// ErrClosed is returned by Memory.Write after Close.
var ErrClosed = errors.New("sink closed")

// Memory keeps records in memory. Interactive runs record into it.
type Memory struct {
	mu       sync.Mutex
	messages []protocol.Message
	closed   bool
}

// Write appends message.
func (m *Memory) Write(_ context.Context, message protocol.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.messages = append(m.messages, message)
	return nil
}

// Messages returns a copy of everything written.
func (m *Memory) Messages() []protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.Message(nil), m.messages...)
}

// Close marks the sink closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
