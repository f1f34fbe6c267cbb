// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/runlog/protocol"
)

// File sync policies for Save.
const (
	PolicyLive = protocol.PolicyLive
	PolicyEnd  = protocol.PolicyEnd
)

type saveDeclaration struct {
	glob     string
	basePath string
	policy   string
}

// Save declares files to sync. Matches of glob are symlinked into the
// run directory at their path relative to basePath (the glob's
// directory when empty); runlog-sync records live files whenever their
// contents change and end files when the run finishes. It returns the
// run-directory paths linked now. Repeating an identical declaration
// does nothing.
func (r *Run) Save(glob, basePath, policy string) ([]string, error) {
	if r.disabled {
		return nil, nil
	}
	if policy == "" {
		policy = PolicyLive
	}
	if policy != PolicyLive && policy != PolicyEnd {
		return nil, configurationError(fmt.Sprintf("unknown save policy %q, want %q or %q", policy, PolicyLive, PolicyEnd), nil)
	}
	if strings.HasPrefix(glob, "gs://") || strings.HasPrefix(glob, "s3://") {
		return nil, configurationError(glob+" is a cloud storage URL, only local files can be saved", nil)
	}
	if basePath == "" {
		basePath = filepath.Dir(glob)
	}
	relativeGlob, err := filepath.Rel(basePath, glob)
	if err != nil {
		return nil, configurationError("save glob "+glob, err)
	}
	if relativeGlob == ".." || strings.HasPrefix(relativeGlob, ".."+string(filepath.Separator)) {
		return nil, configurationError(fmt.Sprintf("glob %q walks above base path %q", glob, basePath), nil)
	}
	if _, err := filepath.Match(relativeGlob, ""); err != nil {
		return nil, configurationError("save glob "+glob, err)
	}
	if !r.accepting("save") {
		return nil, nil
	}

	declaration := saveDeclaration{glob: glob, basePath: basePath, policy: policy}
	r.savedMu.Lock()
	if r.saved[declaration] {
		r.savedMu.Unlock()
		return nil, nil
	}
	r.saved[declaration] = true
	r.savedMu.Unlock()

	if r.send != nil {
		message := protocol.Message{
			Type:  protocol.TypeSave,
			RunID: r.id,
			Save:  &protocol.Save{Glob: filepath.ToSlash(relativeGlob), Policy: policy},
		}
		if err := r.send(message); err != nil {
			r.logger.Error("forwarding save declaration", "glob", glob, "error", err)
		}
	}

	matches, err := filepath.Glob(glob)
	if err != nil {
		return nil, configurationError("save glob "+glob, err)
	}
	var linked []string
	for _, match := range matches {
		path, err := r.link(match, basePath)
		if err != nil {
			r.logger.Warn("linking saved file", "path", match, "error", err)
			continue
		}
		linked = append(linked, path)
	}
	r.logger.Info("files declared", "glob", glob, "policy", policy, "linked", len(linked))
	return linked, nil
}

// link symlinks match into the run directory. An existing link that
// points elsewhere is replaced.
func (r *Run) link(match, basePath string) (string, error) {
	relative, err := filepath.Rel(basePath, match)
	if err != nil {
		return "", err
	}
	absolute, err := filepath.Abs(match)
	if err != nil {
		return "", err
	}
	destination := filepath.Join(r.dir, relative)
	if filepath.Clean(absolute) == filepath.Clean(destination) {
		return destination, nil
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return "", err
	}
	if existing, err := os.Readlink(destination); err == nil {
		if existing == absolute {
			return destination, nil
		}
		if err := os.Remove(destination); err != nil {
			return "", err
		}
	} else if _, statErr := os.Lstat(destination); statErr == nil {
		// A regular file already lives there; leave it alone.
		return destination, nil
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return "", statErr
	}
	if err := os.Symlink(absolute, destination); err != nil {
		return "", err
	}
	return destination, nil
}
