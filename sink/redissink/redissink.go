// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package redissink appends run records to a Redis stream.
//
// Every record becomes one XADD entry on <prefix>:<run_id> with two
// fields: "type" (the record type) and "payload" (the CBOR-encoded
// record). Consumers can read the stream with XREAD or a consumer
// group.
package redissink

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/runlog/lib/codec"
	"github.com/bureau-foundation/runlog/protocol"
	"github.com/bureau-foundation/runlog/sink"
)

// Config configures Open.
type Config struct {
	// URL is redis://[user:password@]host:port[/db].
	URL string

	// Prefix namespaces stream keys.
	Prefix string

	RunID string

	// MaxLen, when positive, caps the stream length approximately.
	MaxLen int64

	// Client overrides the connection built from URL.
	Client *goredis.Client
}

// Sink writes to a Redis stream.
type Sink struct {
	client *goredis.Client
	stream string
	runID  string
	maxLen int64
}

// Open connects and pings. Failures are *sink.CommunicationError.
func Open(ctx context.Context, config Config) (*Sink, error) {
	client := config.Client
	if client == nil {
		options, err := goredis.ParseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client = goredis.NewClient(options)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, &sink.CommunicationError{Sink: "redis", Op: "connect", Err: err}
	}
	return &Sink{
		client: client,
		stream: StreamKey(config.Prefix, config.RunID),
		runID:  config.RunID,
		maxLen: config.MaxLen,
	}, nil
}

// Name implements sink.Named.
func (s *Sink) Name() string { return "redis" }

// Stream returns the stream key records are appended to.
func (s *Sink) Stream() string { return s.stream }

// Write appends message to the stream.
func (s *Sink) Write(ctx context.Context, message protocol.Message) error {
	if message.RunID == "" {
		message.RunID = s.runID
	}
	payload, err := codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", message.Type, err)
	}
	args := &goredis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":    string(message.Type),
			"payload": payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return &sink.CommunicationError{Sink: "redis", Op: "xadd " + s.stream, Err: err}
	}
	return nil
}

// Close closes the client.
func (s *Sink) Close() error {
	return s.client.Close()
}

// StreamKey builds <prefix>:<run_id>.
func StreamKey(prefix, runID string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "runlog"
	}
	return prefix + ":" + runID
}
