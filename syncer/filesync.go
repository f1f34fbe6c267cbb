// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/protocol"
)

// fileWatcher records declared files. Globs are relative to the run
// directory, where the host has linked the user's files.
type fileWatcher struct {
	runDir   string
	interval time.Duration
	clock    clock.Clock
	record   func(protocol.Message)
	logger   *slog.Logger

	mu      sync.Mutex
	saves   []protocol.Save
	digests map[string]string // path → last recorded digest
}

func newFileWatcher(runDir string, interval time.Duration, clock clock.Clock, record func(protocol.Message), logger *slog.Logger) *fileWatcher {
	return &fileWatcher{
		runDir:   runDir,
		interval: interval,
		clock:    clock,
		record:   record,
		logger:   logger.With("subsystem", "files"),
		digests:  make(map[string]string),
	}
}

// add registers a declaration; duplicates are ignored. Live files are
// scanned immediately.
func (w *fileWatcher) add(save protocol.Save) {
	w.mu.Lock()
	for _, existing := range w.saves {
		if existing == save {
			w.mu.Unlock()
			return
		}
	}
	w.saves = append(w.saves, save)
	w.mu.Unlock()

	w.logger.Debug("file declaration", "glob", save.Glob, "policy", save.Policy)
	if save.Policy == protocol.PolicyLive {
		w.scan(protocol.PolicyLive)
	}
}

// run rescans live files until ctx is done.
func (w *fileWatcher) run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.scan(protocol.PolicyLive)
		}
	}
}

// finalize records every declared file whose content changed since
// it was last recorded.
func (w *fileWatcher) finalize() {
	w.scan(protocol.PolicyLive)
	w.scan(protocol.PolicyEnd)
}

func (w *fileWatcher) scan(policy string) {
	w.mu.Lock()
	var globs []string
	for _, save := range w.saves {
		if save.Policy == policy {
			globs = append(globs, save.Glob)
		}
	}
	w.mu.Unlock()

	seen := make(map[string]bool)
	for _, glob := range globs {
		matches, err := filepath.Glob(filepath.Join(w.runDir, glob))
		if err != nil {
			w.logger.Warn("bad glob", "glob", glob, "error", err)
			continue
		}
		sort.Strings(matches)
		for _, match := range matches {
			if seen[match] {
				continue
			}
			seen[match] = true
			w.recordIfChanged(match, policy)
		}
	}
}

func (w *fileWatcher) recordIfChanged(path, policy string) {
	relative, err := filepath.Rel(w.runDir, path)
	if err != nil {
		return
	}
	size, digest, err := digestFile(path)
	if err != nil {
		w.logger.Debug("skipping file", "path", relative, "error", err)
		return
	}

	w.mu.Lock()
	unchanged := w.digests[relative] == digest
	if !unchanged {
		w.digests[relative] = digest
	}
	w.mu.Unlock()
	if unchanged {
		return
	}

	w.record(protocol.Message{
		Type: protocol.TypeFile,
		File: &protocol.File{Path: relative, Policy: policy, Size: size, Digest: digest},
	})
}

// digestFile returns the size and BLAKE3 hex digest of a regular file,
// following symlinks.
func digestFile(path string) (int64, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return 0, "", err
	}
	if !info.Mode().IsRegular() {
		return 0, "", fmt.Errorf("%s is not a regular file", path)
	}
	hasher := blake3.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return 0, "", err
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}
