// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// BundleCommand is the only command runlog-sync understands.
const BundleCommand = "headless"

// Bundle is the single JSON argument runlog-sync is started with.
// StdoutFD and StderrFD are -1 when that stream is not captured.
type Bundle struct {
	Command  string `json:"command"`
	RunID    string `json:"run_id"`
	RunDir   string `json:"run_dir"`
	BaseDir  string `json:"base_dir"`
	PID      int    `json:"pid"`
	StdoutFD int    `json:"stdout_fd"`
	StderrFD int    `json:"stderr_fd"`
	Cloud    bool   `json:"cloud"`
	Port     int    `json:"port"`
	Address  string `json:"address"`
}

// Encode renders the bundle as the argument string.
func (b Bundle) Encode() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encoding spawn bundle: %w", err)
	}
	return string(data), nil
}

// ParseBundle decodes and validates the argument string.
func ParseBundle(argument string) (Bundle, error) {
	var bundle Bundle
	if err := json.Unmarshal([]byte(argument), &bundle); err != nil {
		return Bundle{}, fmt.Errorf("decoding spawn bundle: %w", err)
	}
	var errs []error
	if bundle.Command != BundleCommand {
		errs = append(errs, fmt.Errorf("unsupported command %q", bundle.Command))
	}
	if bundle.RunID == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if bundle.RunDir == "" {
		errs = append(errs, errors.New("run_dir is required"))
	}
	if bundle.Address == "" {
		errs = append(errs, errors.New("address is required"))
	}
	if bundle.PID <= 0 {
		errs = append(errs, errors.New("pid is required"))
	}
	if len(errs) > 0 {
		return Bundle{}, fmt.Errorf("invalid spawn bundle: %w", errors.Join(errs...))
	}
	return bundle, nil
}
