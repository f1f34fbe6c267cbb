// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package runconfig holds a run's configuration: the ordered
// hyperparameters and settings the user records once per run.
//
// Keys keep their insertion order. A key's value may not change once
// set unless the caller explicitly allows it, which catches the common
// mistake of two code paths disagreeing about a hyperparameter.
// Every accepted update is forwarded to runlog-sync.
package runconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/bureau-foundation/runlog/lib/debuglog"
	"github.com/bureau-foundation/runlog/protocol"
)

// RunDirKey records the run directory in the config.
const RunDirKey = "_run_dir"

// ErrValueChange is returned when Update would change an existing
// value without allowValChange.
var ErrValueChange = errors.New("config value change not allowed")

// ErrNotSerializable is returned for values that cannot be encoded as
// JSON.
var ErrNotSerializable = errors.New("config value is not JSON-serializable")

// SendFunc forwards a config frame. Errors are logged.
type SendFunc func(protocol.Message) error

// Config is safe for concurrent use.
type Config struct {
	runID  string
	logger *slog.Logger

	mu     sync.Mutex
	send   SendFunc
	values *orderedmap.OrderedMap[string, any]
	frozen bool
}

// New returns an empty config.
func New(runID string, logger *slog.Logger) *Config {
	return &Config{
		runID:  runID,
		logger: debuglog.Subsystem(logger, "config"),
		values: orderedmap.New[string, any](),
	}
}

// Attach starts forwarding updates through send, first sending the
// current contents. Used once the sync process is ready.
func (c *Config) Attach(send SendFunc) {
	c.mu.Lock()
	c.send = send
	snapshot := c.fieldsLocked()
	c.mu.Unlock()

	if len(snapshot) > 0 {
		c.forward(send, snapshot)
	}
}

// Update sets fields. Changing an existing key's value fails with
// ErrValueChange unless allowValChange is set; nothing is applied
// when any field is rejected.
func (c *Config) Update(fields []protocol.Field, allowValChange bool) error {
	for _, field := range fields {
		if _, err := json.Marshal(field.Value); err != nil {
			return fmt.Errorf("%w: key %q: %v", ErrNotSerializable, field.Key, err)
		}
	}

	c.mu.Lock()
	if c.frozen {
		c.mu.Unlock()
		c.logger.Warn("config updated after the run finished; dropped", "keys", len(fields))
		return nil
	}
	if !allowValChange {
		for _, field := range fields {
			if existing, ok := c.values.Get(field.Key); ok && !sameValue(existing, field.Value) {
				c.mu.Unlock()
				return fmt.Errorf("%w: key %q is %v, refusing %v", ErrValueChange, field.Key, existing, field.Value)
			}
		}
	}
	for _, field := range fields {
		c.values.Set(field.Key, field.Value)
	}
	send := c.send
	c.mu.Unlock()

	if send != nil && len(fields) > 0 {
		c.forward(send, fields)
	}
	return nil
}

// SetRunDir records the run directory under RunDirKey.
func (c *Config) SetRunDir(dir string) {
	c.Update([]protocol.Field{{Key: RunDirKey, Value: dir}}, true)
}

// Get returns the value of key.
func (c *Config) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values.Get(key)
}

// Fields returns a snapshot in insertion order.
func (c *Config) Fields() []protocol.Field {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fieldsLocked()
}

// Len returns the number of keys.
func (c *Config) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values.Len()
}

// Freeze drops all later updates with a warning.
func (c *Config) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

func (c *Config) forward(send SendFunc, fields []protocol.Field) {
	if err := send(protocol.Message{Type: protocol.TypeConfig, RunID: c.runID, Config: fields}); err != nil {
		c.logger.Error("forwarding config", "error", err)
	}
}

func (c *Config) fieldsLocked() []protocol.Field {
	fields := make([]protocol.Field, 0, c.values.Len())
	for pair := c.values.Oldest(); pair != nil; pair = pair.Next() {
		fields = append(fields, protocol.Field{Key: pair.Key, Value: pair.Value})
	}
	return fields
}

// sameValue compares values the way their JSON encodings would: 1 and
// 1.0 are the same value.
func sameValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	var leftValue, rightValue any
	if json.Unmarshal(left, &leftValue) != nil || json.Unmarshal(right, &rightValue) != nil {
		return false
	}
	return reflect.DeepEqual(leftValue, rightValue)
}
