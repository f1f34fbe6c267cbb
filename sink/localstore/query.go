// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/runlog/protocol"
)

// Rows returns the history in the order it was written.
func (s *Store) Rows(ctx context.Context) ([]protocol.Row, error) {
	var rows []protocol.Row
	err := s.query(ctx,
		`SELECT step, timestamp, runtime, fields FROM history WHERE run_id = ? ORDER BY id`,
		func(stmt *sqlite.Stmt) error {
			fields, err := decodeFields(stmt.ColumnText(3))
			if err != nil {
				return err
			}
			timestamp, err := time.Parse(timeLayout, stmt.ColumnText(1))
			if err != nil {
				return err
			}
			rows = append(rows, protocol.Row{
				Step:      stmt.ColumnInt64(0),
				Timestamp: timestamp,
				Runtime:   stmt.ColumnFloat(2),
				Fields:    fields,
			})
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("local store: reading history: %w", err)
	}
	return rows, nil
}

// Config returns the config in first-set order.
func (s *Store) Config(ctx context.Context) ([]protocol.Field, error) {
	fields, err := s.fields(ctx, `SELECT key, value FROM config WHERE run_id = ? ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("local store: reading config: %w", err)
	}
	return fields, nil
}

// Summary returns the latest summary snapshot.
func (s *Store) Summary(ctx context.Context) ([]protocol.Field, error) {
	fields, err := s.fields(ctx, `SELECT key, value FROM summary WHERE run_id = ? ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("local store: reading summary: %w", err)
	}
	return fields, nil
}

// Output returns captured lines in capture order.
func (s *Store) Output(ctx context.Context) ([]protocol.Output, error) {
	var lines []protocol.Output
	err := s.query(ctx,
		`SELECT stream, line, time FROM output WHERE run_id = ? ORDER BY id`,
		func(stmt *sqlite.Stmt) error {
			stamp, err := time.Parse(timeLayout, stmt.ColumnText(2))
			if err != nil {
				return err
			}
			lines = append(lines, protocol.Output{
				Stream: stmt.ColumnText(0),
				Line:   stmt.ColumnText(1),
				Time:   stamp,
			})
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("local store: reading output: %w", err)
	}
	return lines, nil
}

// Files returns every recorded file version.
func (s *Store) Files(ctx context.Context) ([]protocol.File, error) {
	var files []protocol.File
	err := s.query(ctx,
		`SELECT path, policy, size, digest FROM files WHERE run_id = ? ORDER BY recorded_at, path`,
		func(stmt *sqlite.Stmt) error {
			files = append(files, protocol.File{
				Path:   stmt.ColumnText(0),
				Policy: stmt.ColumnText(1),
				Size:   stmt.ColumnInt64(2),
				Digest: stmt.ColumnText(3),
			})
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("local store: reading files: %w", err)
	}
	return files, nil
}

// Exit returns the recorded exit code and whether one exists.
func (s *Store) Exit(ctx context.Context) (int, bool, error) {
	code, found := 0, false
	err := s.query(ctx, `SELECT exit_code FROM exit WHERE run_id = ?`,
		func(stmt *sqlite.Stmt) error {
			code, found = stmt.ColumnInt(0), true
			return nil
		})
	if err != nil {
		return 0, false, fmt.Errorf("local store: reading exit: %w", err)
	}
	return code, found, nil
}

func (s *Store) fields(ctx context.Context, query string) ([]protocol.Field, error) {
	var fields []protocol.Field
	err := s.query(ctx, query, func(stmt *sqlite.Stmt) error {
		var value any
		if err := json.Unmarshal([]byte(stmt.ColumnText(1)), &value); err != nil {
			return err
		}
		fields = append(fields, protocol.Field{Key: stmt.ColumnText(0), Value: value})
		return nil
	})
	return fields, err
}

func (s *Store) query(ctx context.Context, query string, result func(*sqlite.Stmt) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args:       []any{s.runID},
		ResultFunc: result,
	})
}
