// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runconfig

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/runlog/protocol"
)

// DefaultsFile is the config defaults file looked for in the working
// directory.
const DefaultsFile = "config-defaults.yaml"

// versionKey is a bookkeeping entry some tools write into defaults
// files; it is not a config value.
const versionKey = "runlog_version"

// LoadDefaults reads a defaults file. Top-level keys keep file order.
// An entry may be a plain value or a mapping with a "value" key (and
// usually a "desc"), in which case only the value is used. A missing
// file yields no fields and no error.
func LoadDefaults(path string) ([]protocol.Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(document.Content) == 0 {
		return nil, nil
	}
	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: top level must be a mapping", path)
	}

	var fields []protocol.Field
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		if key == versionKey {
			continue
		}
		valueNode := root.Content[i+1]
		if inner := describedValue(valueNode); inner != nil {
			valueNode = inner
		}
		var value any
		if err := valueNode.Decode(&value); err != nil {
			return nil, fmt.Errorf("%s: key %q: %w", path, key, err)
		}
		fields = append(fields, protocol.Field{Key: key, Value: value})
	}
	return fields, nil
}

// describedValue returns the "value" node of a {desc, value} mapping.
func describedValue(node *yaml.Node) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	var value *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "value":
			value = node.Content[i+1]
		case "desc":
		default:
			return nil
		}
	}
	return value
}
