// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resume

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the marker's name inside the base directory.
const FileName = "resume.json"

// Marker is the persisted record.
type Marker struct {
	RunID string `json:"run_id"`
}

// Store reads and writes the marker for one base directory.
type Store struct {
	path string
}

// NewStore returns a Store for the marker under baseDirectory.
func NewStore(baseDirectory string) *Store {
	return &Store{path: filepath.Join(baseDirectory, FileName)}
}

// Path returns the marker's filesystem path.
func (s *Store) Path() string {
	return s.path
}

// Read returns the stored marker. The bool is false when no marker
// exists. A marker without a run id is reported as an error rather
// than as absent, since it can only come from a foreign writer.
func (s *Store) Read() (Marker, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Marker{}, false, nil
		}
		return Marker{}, false, fmt.Errorf("reading resume marker: %w", err)
	}

	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return Marker{}, false, fmt.Errorf("parsing resume marker %s: %w", s.path, err)
	}
	if marker.RunID == "" {
		return Marker{}, false, fmt.Errorf("resume marker %s has no run_id", s.path)
	}
	return marker, true, nil
}

// Write atomically replaces the marker with one naming runID. The
// parent directory must exist.
func (s *Store) Write(runID string) error {
	if runID == "" {
		return errors.New("resume: empty run id")
	}
	data, err := json.Marshal(Marker{RunID: runID})
	if err != nil {
		return fmt.Errorf("marshaling resume marker: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := s.path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary resume marker: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary resume marker: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary resume marker: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary resume marker: %w", err)
	}
	if err := os.Rename(temporaryPath, s.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming resume marker into place: %w", err)
	}

	// Make the rename itself durable.
	if directory, err := os.Open(filepath.Dir(s.path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

// Clear removes the marker. Idempotent.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing resume marker: %w", err)
	}
	return nil
}
