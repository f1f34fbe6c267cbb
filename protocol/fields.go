// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"sort"
)

// FieldsFromMap converts a map to fields sorted by key, which gives
// callers passing plain maps a deterministic order.
func FieldsFromMap(values map[string]any) []Field {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fields := make([]Field, 0, len(keys))
	for _, key := range keys {
		fields = append(fields, Field{Key: key, Value: values[key]})
	}
	return fields
}

// FieldsToMap collapses fields into a map; later keys win.
func FieldsToMap(fields []Field) map[string]any {
	values := make(map[string]any, len(fields))
	for _, field := range fields {
		values[field.Key] = field.Value
	}
	return values
}
