// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/runlog/lib/env"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	base := t.TempDir()
	s, err := Load(env.FromMap(nil), base)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.BaseDir != base {
		t.Errorf("BaseDir = %q, want %q", s.BaseDir, base)
	}
	if s.Supervisor.HandshakeTimeout.Std() != 30*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 30s", s.Supervisor.HandshakeTimeout)
	}
	if s.Supervisor.KillTimeout.Std() != 2*time.Second {
		t.Errorf("KillTimeout = %v, want 2s", s.Supervisor.KillTimeout)
	}
	if s.Supervisor.PollInterval.Std() != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want 100ms", s.Supervisor.PollInterval)
	}
	if s.Console != ConsoleAuto || s.Mode != "headless-sync" {
		t.Errorf("Console, Mode = %q, %q", s.Console, s.Mode)
	}
}

func TestLoadYAMLFromBase(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "settings.yaml"), `
mode: local-only
console: pipe
supervisor:
  handshake_timeout: 5s
  finish_timeout: 90s
sync:
  output_compression: lz4
remote:
  url: nats://127.0.0.1:4222
`)
	s, err := Load(env.FromMap(nil), base)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Mode != "local-only" || s.Console != ConsolePipe {
		t.Errorf("Mode, Console = %q, %q", s.Mode, s.Console)
	}
	if s.Supervisor.HandshakeTimeout.Std() != 5*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 5s", s.Supervisor.HandshakeTimeout)
	}
	if s.Supervisor.FinishTimeout.Std() != 90*time.Second {
		t.Errorf("FinishTimeout = %v, want 90s", s.Supervisor.FinishTimeout)
	}
	if s.Supervisor.KillTimeout.Std() != 2*time.Second {
		t.Errorf("KillTimeout lost its default: %v", s.Supervisor.KillTimeout)
	}
	if s.Sync.OutputCompression != CompressionLZ4 {
		t.Errorf("OutputCompression = %q, want lz4", s.Sync.OutputCompression)
	}
	if s.Remote.URL != "nats://127.0.0.1:4222" {
		t.Errorf("Remote.URL = %q", s.Remote.URL)
	}
}

func TestLoadJSONWithComments(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "settings.json"), `{
  // spawn the locally built engine
  "sync_binary": "${HOME}/bin/runlog-sync",
  "supervisor": {"handshake_timeout": "10s",},
}`)
	s, err := Load(env.FromMap(map[string]string{"HOME": "/home/alice"}), base)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.SyncBinary != "/home/alice/bin/runlog-sync" {
		t.Errorf("SyncBinary = %q", s.SyncBinary)
	}
	if s.Supervisor.HandshakeTimeout.Std() != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 10s", s.Supervisor.HandshakeTimeout)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "settings.yaml"), "console: pty\nmode: local-only\n")
	s, err := Load(env.FromMap(map[string]string{
		env.Console:    "off",
		env.Mode:       "headless-sync",
		env.SyncBinary: "/opt/runlog-sync",
		env.Debug:      "1",
	}), base)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Console != ConsoleOff || s.Mode != "headless-sync" || s.SyncBinary != "/opt/runlog-sync" || !s.Debug {
		t.Errorf("environment overrides not applied: %+v", s)
	}
}

func TestExplicitSettingsPathMustExist(t *testing.T) {
	_, err := Load(env.FromMap(map[string]string{env.Settings: "/nonexistent/settings.yaml"}), t.TempDir())
	if err == nil {
		t.Fatal("Load with missing explicit settings file succeeded")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		want     string
	}{
		{"bad mode", "mode: turbo\n", "invalid mode"},
		{"bad console", "console: tee\n", "invalid console"},
		{"bad compression", "sync:\n  output_compression: gzip\n", "output_compression"},
		{"zero timeout", "supervisor:\n  handshake_timeout: 0s\n", "handshake_timeout must be positive"},
		{"bad duration", "supervisor:\n  kill_timeout: soon\n", "parsing duration"},
		{"bad remote", "remote:\n  url: http://example.com\n", "scheme must be"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			base := t.TempDir()
			writeFile(t, filepath.Join(base, "settings.yaml"), test.contents)
			_, err := Load(env.FromMap(nil), base)
			if err == nil {
				t.Fatal("Load succeeded")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error %q does not mention %q", err, test.want)
			}
		})
	}
}
