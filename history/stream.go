// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/debuglog"
	"github.com/bureau-foundation/runlog/protocol"
)

// StepKey is the reserved field that sets a row's step explicitly.
const StepKey = "_step"

// ErrInvalidStep is returned when "_step" is not an integer in
// [0, MaxStep].
var ErrInvalidStep = errors.New("_step must be a non-negative integer below 2^63-1")

// MaxStep is the largest explicit step. One auto-assigned step may
// follow it; rows after that are dropped.
const MaxStep = math.MaxInt64 - 1

// IntegrityWarning describes a recoverable inconsistency: an
// out-of-order step, or a mutation after the run began finalizing.
// It is logged, never returned.
type IntegrityWarning struct {
	Reason string
	Step   int64
}

func (w *IntegrityWarning) Error() string {
	if w.Step >= 0 {
		return fmt.Sprintf("integrity warning: %s (step %d)", w.Reason, w.Step)
	}
	return "integrity warning: " + w.Reason
}

// SendFunc forwards a message to runlog-sync. Errors are logged.
type SendFunc func(protocol.Message) error

// Config configures a Stream.
type Config struct {
	RunID string

	// Start is the run's start time; rows carry their runtime
	// relative to it. Zero means the clock's Now at New.
	Start time.Time

	// Send receives committed rows. Nil drops them (local-only runs
	// without a sync process still track summary).
	Send SendFunc

	Clock  clock.Clock
	Logger *slog.Logger
}

// Stream is safe for concurrent use. Rows leave in the order their
// committing Append acquired the lock.
type Stream struct {
	runID  string
	start  time.Time
	send   SendFunc
	clock  clock.Clock
	logger *slog.Logger

	summary *Summary

	mu            sync.Mutex
	pending       *orderedmap.OrderedMap[string, any]
	pendingStep   int64 // -1 when auto-assigned
	lastCommitted int64 // -1 before the first commit
	closed        bool
}

// New returns an empty stream.
func New(config Config) *Stream {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Start.IsZero() {
		config.Start = config.Clock.Now()
	}
	logger := debuglog.Subsystem(config.Logger, "history")
	return &Stream{
		runID:         config.RunID,
		start:         config.Start,
		send:          config.Send,
		clock:         config.Clock,
		logger:        logger,
		summary:       newSummary(config.RunID, config.Send, logger),
		pendingStep:   -1,
		lastCommitted: -1,
	}
}

// Summary returns the stream's summary.
func (s *Stream) Summary() *Summary {
	return s.summary
}

// Append merges fields into the pending row and, when commit is true,
// finalizes it.
func (s *Stream) Append(fields []protocol.Field, commit bool) error {
	step, hasStep, rest, err := splitStep(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.warn(&IntegrityWarning{Reason: "row logged after the run finished", Step: -1})
		return nil
	}

	// A different explicit step starts a new row.
	if hasStep && s.pending != nil && s.pendingStep >= 0 && s.pendingStep != step {
		s.commitLocked()
	}
	if s.pending == nil {
		s.pending = orderedmap.New[string, any]()
	}
	if hasStep {
		s.pendingStep = step
	}
	for _, field := range rest {
		s.pending.Set(field.Key, field.Value)
	}
	if commit {
		s.commitLocked()
	}
	return nil
}

// Flush finalizes the pending row, if any.
func (s *Stream) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.commitLocked()
	}
}

// LastStep returns the last committed step, -1 before the first.
func (s *Stream) LastStep() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommitted
}

// Close flushes the pending row, sends the final summary, and refuses
// further rows. Later calls are no-ops.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.pending != nil {
		s.commitLocked()
	}
	s.closed = true
	s.mu.Unlock()

	s.summary.close()
}

func (s *Stream) commitLocked() {
	step := s.pendingStep
	if step < 0 {
		if s.lastCommitted == math.MaxInt64 {
			s.warn(&IntegrityWarning{Reason: "step counter exhausted, row dropped", Step: -1})
			s.pending = nil
			return
		}
		step = s.lastCommitted + 1
	} else if s.lastCommitted >= 0 && step <= s.lastCommitted {
		s.warn(&IntegrityWarning{
			Reason: fmt.Sprintf("step is not after the last committed step %d", s.lastCommitted),
			Step:   step,
		})
	}

	var fields []protocol.Field
	if s.pending != nil {
		fields = make([]protocol.Field, 0, s.pending.Len())
		for pair := s.pending.Oldest(); pair != nil; pair = pair.Next() {
			fields = append(fields, protocol.Field{Key: pair.Key, Value: pair.Value})
		}
	}
	s.pending = nil
	s.pendingStep = -1
	s.lastCommitted = max(s.lastCommitted, step)

	now := s.clock.Now()
	row := &protocol.Row{
		Step:      step,
		Fields:    fields,
		Timestamp: now,
		Runtime:   now.Sub(s.start).Seconds(),
	}
	s.summary.observe(fields)

	if s.send == nil {
		return
	}
	if err := s.send(protocol.Message{Type: protocol.TypeRow, RunID: s.runID, Row: row}); err != nil {
		s.logger.Error("forwarding history row", "step", step, "error", err)
	}
}

func (s *Stream) warn(warning *IntegrityWarning) {
	s.logger.Warn(warning.Error(), "reason", warning.Reason, "step", warning.Step)
}

// splitStep removes "_step" from fields and validates it.
func splitStep(fields []protocol.Field) (step int64, ok bool, rest []protocol.Field, err error) {
	rest = make([]protocol.Field, 0, len(fields))
	for _, field := range fields {
		if field.Key != StepKey {
			rest = append(rest, field)
			continue
		}
		step, err = toStep(field.Value)
		if err != nil {
			return 0, false, nil, err
		}
		ok = true
	}
	return step, ok, rest, nil
}

func toStep(value any) (int64, error) {
	var step int64
	switch v := value.(type) {
	case int:
		step = int64(v)
	case int32:
		step = int64(v)
	case int64:
		step = v
	case uint:
		step = int64(v)
	case uint32:
		step = int64(v)
	case uint64:
		if v > MaxStep {
			return 0, fmt.Errorf("%w: %d", ErrInvalidStep, v)
		}
		step = int64(v)
	case float64:
		// float64(MaxStep) rounds up to 2^63, so the bound is strict.
		if v != math.Trunc(v) || v < 0 || v >= float64(MaxStep) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidStep, v)
		}
		step = int64(v)
	default:
		return 0, fmt.Errorf("%w: %T", ErrInvalidStep, value)
	}
	if step < 0 || step > MaxStep {
		return 0, fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
	return step, nil
}
