// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package natssink publishes run records to NATS JetStream.
//
// Each record is CBOR-encoded and published to
// <prefix>.<run_id>.<type>, captured by a stream named after the
// prefix. Publishes wait for the JetStream acknowledgement, so a
// returned nil means the server stored the record.
package natssink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/bureau-foundation/runlog/lib/codec"
	"github.com/bureau-foundation/runlog/protocol"
	"github.com/bureau-foundation/runlog/sink"
)

// Config configures Open.
type Config struct {
	// URL is the NATS server, nats://host:port.
	URL string

	// Prefix is the subject root and (upper-cased) stream name.
	Prefix string

	RunID string

	// ConnectTimeout bounds the initial connection. Zero means 5s.
	ConnectTimeout time.Duration
}

// Sink publishes to JetStream.
type Sink struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
	runID  string
}

// Open connects and ensures the stream exists. Failures are
// *sink.CommunicationError.
func Open(ctx context.Context, config Config) (*Sink, error) {
	prefix := Token(config.Prefix)
	if prefix == "" {
		prefix = "runlog"
	}
	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	conn, err := nats.Connect(config.URL,
		nats.Name("runlog-sync "+config.RunID),
		nats.Timeout(timeout),
	)
	if err != nil {
		return nil, &sink.CommunicationError{Sink: "nats", Op: "connect", Err: err}
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, &sink.CommunicationError{Sink: "nats", Op: "jetstream init", Err: err}
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName(prefix),
		Subjects: []string{prefix + ".>"},
	})
	if err != nil {
		conn.Close()
		return nil, &sink.CommunicationError{Sink: "nats", Op: "stream create", Err: err}
	}

	return &Sink{conn: conn, js: js, prefix: prefix, runID: config.RunID}, nil
}

// Name implements sink.Named.
func (s *Sink) Name() string { return "nats" }

// Subject returns where a record of type t is published.
func (s *Sink) Subject(t protocol.Type) string {
	return Subject(s.prefix, s.runID, t)
}

// Write publishes message and waits for the acknowledgement.
func (s *Sink) Write(ctx context.Context, message protocol.Message) error {
	if message.RunID == "" {
		message.RunID = s.runID
	}
	payload, err := codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", message.Type, err)
	}
	subject := s.Subject(message.Type)
	if _, err := s.js.Publish(ctx, subject, payload); err != nil {
		return &sink.CommunicationError{Sink: "nats", Op: "publish " + subject, Err: err}
	}
	return nil
}

// Close flushes buffered publishes and closes the connection.
func (s *Sink) Close() error {
	err := s.conn.Drain()
	s.conn.Close()
	return err
}

// Subject builds <prefix>.<run_id>.<type>.
func Subject(prefix, runID string, t protocol.Type) string {
	return prefix + "." + Token(runID) + "." + string(t)
}

// StreamName derives the JetStream stream name from the prefix.
func StreamName(prefix string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(prefix))
}

// Token makes s safe as a single subject token: wildcards, separators,
// and whitespace become underscores.
func Token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
}
