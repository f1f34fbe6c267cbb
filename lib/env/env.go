// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package env names the RUNLOG_* environment variables and reads them.
//
// Every variable the host library and runlog-sync consult lives here so
// the namespace is auditable in one place. Lookup functions take an
// explicit lookup func rather than reading os.Getenv, which keeps
// resolution testable without mutating the process environment.
package env

import (
	"os"
	"strconv"
	"strings"
)

// Prefix namespaces every runlog variable.
const Prefix = "RUNLOG_"

// Variable names.
const (
	RunID      = Prefix + "RUN_ID"
	Project    = Prefix + "PROJECT"
	Entity     = Prefix + "ENTITY"
	RunGroup   = Prefix + "RUN_GROUP"
	JobType    = Prefix + "JOB_TYPE"
	Tags       = Prefix + "TAGS"
	Dir        = Prefix + "DIR"
	Resume     = Prefix + "RESUME"
	Inited     = Prefix + "INITED"
	Debug      = Prefix + "DEBUG"
	Mode       = Prefix + "MODE"
	SyncBinary = Prefix + "SYNC_BINARY"
	Settings   = Prefix + "SETTINGS"
	Console    = Prefix + "CONSOLE"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Process reads the real process environment.
var Process LookupFunc = os.LookupEnv

// FromMap returns a LookupFunc over a fixed map, such as a parsed
// dotenv file.
func FromMap(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

// Get returns the trimmed value of key, or "" when unset.
func (lookup LookupFunc) Get(key string) string {
	value, _ := lookup(key)
	return strings.TrimSpace(value)
}

// Bool interprets key as a boolean. Unset or unparsable values are
// false.
func (lookup LookupFunc) Bool(key string) bool {
	value := lookup.Get(key)
	if value == "" {
		return false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return parsed
}

// List splits a comma-separated value, dropping empty entries.
func (lookup LookupFunc) List(key string) []string {
	var values []string
	for _, part := range strings.Split(lookup.Get(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

// Snapshot returns os.Environ with overrides applied: entries in
// overrides replace existing ones, and keys mapped to "" are removed.
// The result is the environment handed to a spawned child.
func Snapshot(base []string, overrides map[string]string) []string {
	result := make([]string, 0, len(base)+len(overrides))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, overridden := overrides[key]; overridden {
			continue
		}
		result = append(result, entry)
	}
	for key, value := range overrides {
		if value == "" {
			continue
		}
		result = append(result, key+"="+value)
	}
	return result
}
