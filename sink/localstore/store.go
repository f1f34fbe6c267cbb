// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package localstore persists a run's records in a SQLite database in
// the run directory (run.db).
//
// The store is the authoritative local copy of everything runlog-sync
// receives or produces: history rows, config, summary, captured
// output lines, synced file digests, and the exit record. A resumed
// run reopens the same database and keeps appending.
//
// Field lists are stored as JSON arrays of [key, value] pairs so key
// order survives. Values read back are JSON-decoded, so numbers come
// back as float64.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/runlog/lib/debuglog"
	"github.com/bureau-foundation/runlog/lib/sqlitepool"
	"github.com/bureau-foundation/runlog/protocol"
)

// FileName is the database's name inside the run directory.
const FileName = "run.db"

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT NOT NULL,
	step      INTEGER NOT NULL,
	timestamp TEXT NOT NULL,
	runtime   REAL NOT NULL,
	fields    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS config (
	run_id   TEXT NOT NULL,
	key      TEXT NOT NULL,
	position INTEGER NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (run_id, key)
);
CREATE TABLE IF NOT EXISTS summary (
	run_id   TEXT NOT NULL,
	key      TEXT NOT NULL,
	position INTEGER NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (run_id, key)
);
CREATE TABLE IF NOT EXISTS output (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	stream TEXT NOT NULL,
	line   TEXT NOT NULL,
	time   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
	run_id      TEXT NOT NULL,
	path        TEXT NOT NULL,
	policy      TEXT NOT NULL,
	size        INTEGER NOT NULL,
	digest      TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (run_id, path, digest)
);
CREATE TABLE IF NOT EXISTS exit (
	run_id    TEXT PRIMARY KEY,
	exit_code INTEGER NOT NULL,
	time      TEXT NOT NULL
);
`

// Config configures Open.
type Config struct {
	// RunDir holds run.db. Must exist.
	RunDir string

	// RunID scopes every row; one database may hold a run across
	// several resumed processes.
	RunID string

	Logger *slog.Logger
}

// Store is safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	runID  string
	logger *slog.Logger
}

// Open opens or creates run.db and ensures the schema.
func Open(config Config) (*Store, error) {
	if config.RunID == "" {
		return nil, fmt.Errorf("local store: RunID is required")
	}
	logger := debuglog.Subsystem(config.Logger, "localstore")
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(config.RunDir, FileName),
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	return &Store{pool: pool, runID: config.RunID, logger: logger}, nil
}

// timeLayout formats every stored time.
const timeLayout = time.RFC3339Nano

// Write persists message. Handshake and control-only messages (ready,
// failed, save, done) are ignored.
func (s *Store) Write(ctx context.Context, message protocol.Message) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("local store: %w", err)
	}
	defer s.pool.Put(conn)

	switch message.Type {
	case protocol.TypeRow:
		if message.Row == nil {
			return nil
		}
		return s.insertRow(conn, message.Row)
	case protocol.TypeConfig:
		return s.upsertConfig(conn, message.Config)
	case protocol.TypeSummary:
		return s.replaceSummary(conn, message.Summary)
	case protocol.TypeOutput:
		if message.Output == nil {
			return nil
		}
		return sqlitex.Execute(conn,
			`INSERT INTO output (run_id, stream, line, time) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				s.runID, message.Output.Stream, message.Output.Line,
				message.Output.Time.UTC().Format(timeLayout),
			}})
	case protocol.TypeFile:
		if message.File == nil {
			return nil
		}
		return sqlitex.Execute(conn,
			`INSERT INTO files (run_id, path, policy, size, digest, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (run_id, path, digest) DO NOTHING`,
			&sqlitex.ExecOptions{Args: []any{
				s.runID, message.File.Path, message.File.Policy, message.File.Size,
				message.File.Digest, time.Now().UTC().Format(timeLayout),
			}})
	case protocol.TypeExit:
		if message.ExitCode == nil {
			return nil
		}
		return sqlitex.Execute(conn,
			`INSERT INTO exit (run_id, exit_code, time) VALUES (?, ?, ?)
			 ON CONFLICT (run_id) DO UPDATE SET exit_code = excluded.exit_code, time = excluded.time`,
			&sqlitex.ExecOptions{Args: []any{
				s.runID, *message.ExitCode, time.Now().UTC().Format(timeLayout),
			}})
	default:
		return nil
	}
}

func (s *Store) insertRow(conn *sqlite.Conn, row *protocol.Row) error {
	fields, err := encodeFields(row.Fields)
	if err != nil {
		return fmt.Errorf("local store: row %d: %w", row.Step, err)
	}
	return sqlitex.Execute(conn,
		`INSERT INTO history (run_id, step, timestamp, runtime, fields) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			s.runID, row.Step, row.Timestamp.UTC().Format(timeLayout), row.Runtime, fields,
		}})
}

func (s *Store) upsertConfig(conn *sqlite.Conn, fields []protocol.Field) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("local store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, field := range fields {
		value, err := json.Marshal(field.Value)
		if err != nil {
			return fmt.Errorf("local store: config %q: %w", field.Key, err)
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO config (run_id, key, position, value)
			 VALUES (?1, ?2, (SELECT COALESCE(MAX(position), -1) + 1 FROM config WHERE run_id = ?1), ?3)
			 ON CONFLICT (run_id, key) DO UPDATE SET value = excluded.value`,
			&sqlitex.ExecOptions{Args: []any{s.runID, field.Key, string(value)}})
		if err != nil {
			return fmt.Errorf("local store: config %q: %w", field.Key, err)
		}
	}
	return nil
}

func (s *Store) replaceSummary(conn *sqlite.Conn, fields []protocol.Field) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("local store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err := sqlitex.Execute(conn, `DELETE FROM summary WHERE run_id = ?`,
		&sqlitex.ExecOptions{Args: []any{s.runID}}); err != nil {
		return fmt.Errorf("local store: clearing summary: %w", err)
	}
	for position, field := range fields {
		value, err := json.Marshal(field.Value)
		if err != nil {
			return fmt.Errorf("local store: summary %q: %w", field.Key, err)
		}
		if err := sqlitex.Execute(conn,
			`INSERT INTO summary (run_id, key, position, value) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{s.runID, field.Key, position, string(value)}}); err != nil {
			return fmt.Errorf("local store: summary %q: %w", field.Key, err)
		}
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func encodeFields(fields []protocol.Field) (string, error) {
	pairs := make([][2]any, len(fields))
	for i, field := range fields {
		pairs[i] = [2]any{field.Key, field.Value}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeFields(data string) ([]protocol.Field, error) {
	var pairs [][2]any
	if err := json.Unmarshal([]byte(data), &pairs); err != nil {
		return nil, err
	}
	fields := make([]protocol.Field, len(pairs))
	for i, pair := range pairs {
		key, ok := pair[0].(string)
		if !ok {
			return nil, fmt.Errorf("field %d has non-string key %v", i, pair[0])
		}
		fields[i] = protocol.Field{Key: key, Value: pair[1]}
	}
	return fields, nil
}
