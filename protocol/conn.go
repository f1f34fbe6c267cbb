// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/runlog/lib/codec"
)

// Conn frames Messages over a stream connection. Send is safe for
// concurrent use; Receive must be called from one goroutine.
type Conn struct {
	conn net.Conn

	sendMu  sync.Mutex
	encoder *codec.Encoder
	decoder *codec.Decoder
}

// NewConn wraps conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:    conn,
		encoder: codec.NewEncoder(conn),
		decoder: codec.NewDecoder(conn),
	}
}

// Send writes one frame.
func (c *Conn) Send(message Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.encoder.Encode(message); err != nil {
		return fmt.Errorf("sending %s frame: %w", message.Type, err)
	}
	return nil
}

// Receive reads one frame. It returns io.EOF when the peer closed the
// connection cleanly between frames.
func (c *Conn) Receive() (Message, error) {
	var message Message
	if err := c.decoder.Decode(&message); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("receiving frame: %w", err)
	}
	return message, nil
}

// SetReadDeadline bounds the next Receive.
func (c *Conn) SetReadDeadline(deadline time.Time) error {
	return c.conn.SetReadDeadline(deadline)
}

// CloseWrite half-closes the connection so the peer's Receive sees
// EOF while this side can still read.
func (c *Conn) CloseWrite() error {
	if tcp, ok := c.conn.(*net.TCPConn); ok {
		return tcp.CloseWrite()
	}
	return c.conn.Close()
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
