// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"log/slog"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/bureau-foundation/runlog/protocol"
)

// Summary is the latest value of every key, whether it came from a
// committed row or an explicit Update. The most recent write wins.
type Summary struct {
	runID  string
	send   SendFunc
	logger *slog.Logger

	mu       sync.Mutex
	values *orderedmap.OrderedMap[string, any]
	closed bool
}

func newSummary(runID string, send SendFunc, logger *slog.Logger) *Summary {
	return &Summary{
		runID:  runID,
		send:   send,
		logger: logger,
		values: orderedmap.New[string, any](),
	}
}

// Get returns the current summary value of key.
func (s *Summary) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Get(key)
}

// Fields returns a snapshot in first-seen key order.
func (s *Summary) Fields() []protocol.Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fieldsLocked()
}

// Update sets values explicitly and forwards the new summary.
func (s *Summary) Update(fields []protocol.Field) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		warning := &IntegrityWarning{Reason: "summary updated after the run finished", Step: -1}
		s.logger.Warn(warning.Error())
		return
	}
	for _, field := range fields {
		s.values.Set(field.Key, field.Value)
	}
	snapshot := s.fieldsLocked()
	s.mu.Unlock()

	s.forward(snapshot)
}

func (s *Summary) observe(fields []protocol.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, field := range fields {
		s.values.Set(field.Key, field.Value)
	}
}

// close forwards the final summary once.
func (s *Summary) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	snapshot := s.fieldsLocked()
	s.mu.Unlock()

	if len(snapshot) > 0 {
		s.forward(snapshot)
	}
}

func (s *Summary) forward(snapshot []protocol.Field) {
	if s.send == nil {
		return
	}
	if err := s.send(protocol.Message{Type: protocol.TypeSummary, RunID: s.runID, Summary: snapshot}); err != nil {
		s.logger.Error("forwarding summary", "error", err)
	}
}

func (s *Summary) fieldsLocked() []protocol.Field {
	fields := make([]protocol.Field, 0, s.values.Len())
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		fields = append(fields, protocol.Field{Key: pair.Key, Value: pair.Value})
	}
	return fields
}
