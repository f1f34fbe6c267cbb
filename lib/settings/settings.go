// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/runlog/lib/env"
)

// DefaultBaseDir is the base directory used when neither options,
// RUNLOG_DIR, nor a settings file names one. Relative to the working
// directory.
const DefaultBaseDir = "runlog"

// Console capture modes.
const (
	ConsoleAuto = "auto" // pty when the host stream is a terminal, else pipe
	ConsolePTY  = "pty"
	ConsolePipe = "pipe"
	ConsoleOff  = "off"
)

// Output archive compression.
const (
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
	CompressionNone = "none"
)

// Settings is the complete operational configuration.
type Settings struct {
	// BaseDir is the root under which run directories, the resume
	// marker, and the debug log live.
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// Mode is the default run mode when Options.Mode is empty.
	Mode string `yaml:"mode" json:"mode"`

	// SyncBinary is the runlog-sync executable, resolved through PATH
	// when it has no separator.
	SyncBinary string `yaml:"sync_binary" json:"sync_binary"`

	// Console selects how standard streams are captured.
	Console string `yaml:"console" json:"console"`

	// Debug tees the debug log to stderr and leaves stderr
	// un-redirected.
	Debug bool `yaml:"debug" json:"debug"`

	Supervisor SupervisorSettings `yaml:"supervisor" json:"supervisor"`
	Sync       SyncSettings       `yaml:"sync" json:"sync"`
	Remote     RemoteSettings     `yaml:"remote" json:"remote"`
}

// SupervisorSettings bounds every blocking step of process supervision.
type SupervisorSettings struct {
	// HandshakeTimeout is how long Init waits for runlog-sync to
	// report ready.
	HandshakeTimeout Duration `yaml:"handshake_timeout" json:"handshake_timeout"`

	// KillTimeout is how long to poll for termination after killing a
	// child that failed the handshake.
	KillTimeout Duration `yaml:"kill_timeout" json:"kill_timeout"`

	// PollInterval is the liveness sampling interval for both the
	// post-kill poll and the finish wait.
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`

	// FinishTimeout bounds how long shutdown waits for runlog-sync to
	// flush before killing it.
	FinishTimeout Duration `yaml:"finish_timeout" json:"finish_timeout"`

	// DrainTimeout bounds how long restoring a redirected stream waits
	// for buffered output to reach both destinations.
	DrainTimeout Duration `yaml:"drain_timeout" json:"drain_timeout"`
}

// SyncSettings configure the runlog-sync engine.
type SyncSettings struct {
	// FilePollInterval is how often live-policy files are re-digested.
	FilePollInterval Duration `yaml:"file_poll_interval" json:"file_poll_interval"`

	// ParentPollInterval is how often the engine checks that the host
	// process is still alive.
	ParentPollInterval Duration `yaml:"parent_poll_interval" json:"parent_poll_interval"`

	// OutputCompression archives output.log at finalize.
	OutputCompression string `yaml:"output_compression" json:"output_compression"`
}

// RemoteSettings name the remote sink. An empty URL means local-only.
type RemoteSettings struct {
	// URL is nats://host:port or redis://host:port/db.
	URL string `yaml:"url" json:"url"`

	// Prefix namespaces subjects (NATS) or stream keys (Redis).
	Prefix string `yaml:"prefix" json:"prefix"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		BaseDir:    DefaultBaseDir,
		Mode:       "headless-sync",
		SyncBinary: "runlog-sync",
		Console:    ConsoleAuto,
		Supervisor: SupervisorSettings{
			HandshakeTimeout: Duration(30 * time.Second),
			KillTimeout:      Duration(2 * time.Second),
			PollInterval:     Duration(100 * time.Millisecond),
			FinishTimeout:    Duration(60 * time.Second),
			DrainTimeout:     Duration(time.Second),
		},
		Sync: SyncSettings{
			FilePollInterval:   Duration(5 * time.Second),
			ParentPollInterval: Duration(time.Second),
			OutputCompression:  CompressionZstd,
		},
		Remote: RemoteSettings{
			Prefix: "runlog",
		},
	}
}

// Load resolves the settings file, applies environment overrides, and
// validates the result. baseDir, when non-empty, is where the default
// settings file is looked for and takes precedence over the file's
// base_dir; it is normally the caller's Options.Dir.
func Load(lookup env.LookupFunc, baseDir string) (*Settings, error) {
	s := Default()

	searchBase := baseDir
	if searchBase == "" {
		searchBase = lookup.Get(env.Dir)
	}
	if searchBase == "" {
		searchBase = DefaultBaseDir
	}

	path, err := locate(lookup, searchBase)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := s.loadFile(path); err != nil {
			return nil, err
		}
	}

	s.applyEnvironment(lookup)
	if baseDir != "" {
		s.BaseDir = baseDir
	}
	s.expandVariables(lookup)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// locate returns the settings file to read, or "" when there is none.
// An explicit RUNLOG_SETTINGS path must exist.
func locate(lookup env.LookupFunc, baseDir string) (string, error) {
	if explicit := lookup.Get(env.Settings); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%s=%s: %w", env.Settings, explicit, err)
		}
		return explicit, nil
	}
	for _, name := range []string{"settings.yaml", "settings.json"} {
		candidate := filepath.Join(baseDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

func (s *Settings) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading settings %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), s); err != nil {
			return fmt.Errorf("parsing settings %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, s); err != nil {
			return fmt.Errorf("parsing settings %s: %w", path, err)
		}
	}
	return nil
}

func (s *Settings) applyEnvironment(lookup env.LookupFunc) {
	if value := lookup.Get(env.Dir); value != "" {
		s.BaseDir = value
	}
	if value := lookup.Get(env.Mode); value != "" {
		s.Mode = value
	}
	if value := lookup.Get(env.SyncBinary); value != "" {
		s.SyncBinary = value
	}
	if value := lookup.Get(env.Console); value != "" {
		s.Console = value
	}
	if lookup.Bool(env.Debug) {
		s.Debug = true
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func (s *Settings) expandVariables(lookup env.LookupFunc) {
	expand := func(value string) string {
		return varPattern.ReplaceAllStringFunc(value, func(match string) string {
			parts := varPattern.FindStringSubmatch(match)
			if resolved := lookup.Get(parts[1]); resolved != "" {
				return resolved
			}
			return parts[2]
		})
	}
	s.BaseDir = expand(s.BaseDir)
	s.SyncBinary = expand(s.SyncBinary)
}

// Validate checks enumerations and bounds.
func (s *Settings) Validate() error {
	var errs []error
	if s.BaseDir == "" {
		errs = append(errs, errors.New("base_dir is required"))
	}
	switch s.Mode {
	case "interactive-run", "headless-sync", "local-only":
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", s.Mode))
	}
	switch s.Console {
	case ConsoleAuto, ConsolePTY, ConsolePipe, ConsoleOff:
	default:
		errs = append(errs, fmt.Errorf("invalid console %q", s.Console))
	}
	switch s.Sync.OutputCompression {
	case CompressionZstd, CompressionLZ4, CompressionNone:
	default:
		errs = append(errs, fmt.Errorf("invalid sync.output_compression %q", s.Sync.OutputCompression))
	}
	for name, value := range map[string]Duration{
		"supervisor.handshake_timeout": s.Supervisor.HandshakeTimeout,
		"supervisor.kill_timeout":      s.Supervisor.KillTimeout,
		"supervisor.poll_interval":     s.Supervisor.PollInterval,
		"supervisor.finish_timeout":    s.Supervisor.FinishTimeout,
		"supervisor.drain_timeout":     s.Supervisor.DrainTimeout,
		"sync.file_poll_interval":      s.Sync.FilePollInterval,
		"sync.parent_poll_interval":    s.Sync.ParentPollInterval,
	} {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if s.Remote.URL != "" && !strings.HasPrefix(s.Remote.URL, "nats://") && !strings.HasPrefix(s.Remote.URL, "redis://") {
		errs = append(errs, fmt.Errorf("remote.url %q: scheme must be nats:// or redis://", s.Remote.URL))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
	}
	return nil
}
