// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package handshake proves that runlog-sync is alive and ready before
// the host process continues.
//
// The host binds an ephemeral loopback TCP port with Listen and passes
// the address to the child in its spawn bundle. The child dials back,
// finishes its own setup, and sends a ready (or failed) token as the
// first frame. The host accepts exactly one connection: the listener
// is closed after that accept whether or not the handshake succeeds,
// and the accepted connection becomes the run's control link.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/bureau-foundation/runlog/lib/version"
	"github.com/bureau-foundation/runlog/protocol"
)

// ErrTimeout is returned by Accept when no ready token arrived within
// the timeout. It is distinct from socket errors.
var ErrTimeout = errors.New("handshake: timed out waiting for the sync process")

// ErrIncompatibleVersion is returned by Accept when the child's build
// does not share the host's major and minor version.
var ErrIncompatibleVersion = errors.New("handshake: incompatible sync process version")

// FailedError is returned by Accept when the child reported failure.
type FailedError struct {
	Reason string
}

func (e *FailedError) Error() string {
	return "sync process reported failure: " + e.Reason
}

// Listener is a bound, not-yet-accepted handshake endpoint.
type Listener struct {
	listener *net.TCPListener
	runID    string
}

// Listen binds 127.0.0.1 on an ephemeral port. Only a connection whose
// ready token carries runID is accepted.
func Listen(runID string) (*Listener, error) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, fmt.Errorf("binding handshake listener: %w", err)
	}
	return &Listener{listener: listener, runID: runID}, nil
}

// Address returns "127.0.0.1:<port>".
func (l *Listener) Address() string {
	return l.listener.Addr().String()
}

// Port returns the bound port.
func (l *Listener) Port() int {
	return l.listener.Addr().(*net.TCPAddr).Port
}

// Close releases the listener. Accept closes it too; calling Close
// afterwards is harmless.
func (l *Listener) Close() error {
	if err := l.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Accept waits up to timeout for the child to connect and send its
// first frame. The listener is closed before Accept returns.
func (l *Listener) Accept(ctx context.Context, timeout time.Duration) (*Session, error) {
	defer l.Close()

	deadline := time.Now().Add(timeout)
	if err := l.listener.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting accept deadline: %w", err)
	}

	// Cancellation unblocks Accept and the first read by moving the
	// deadline into the past.
	stop := context.AfterFunc(ctx, func() {
		l.listener.SetDeadline(time.Unix(1, 0))
	})
	conn, err := l.listener.Accept()
	stop()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("accepting handshake connection: %w", err)
	}

	session := &Session{conn: protocol.NewConn(conn), runID: l.runID}
	if err := session.conn.SetReadDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting handshake read deadline: %w", err)
	}
	stop = context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Unix(1, 0))
	})
	token, err := session.conn.Receive()
	stop()
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("reading handshake token: %w", err)
	}

	switch {
	case token.Type == protocol.TypeFailed:
		conn.Close()
		return nil, &FailedError{Reason: token.Error}
	case token.Type != protocol.TypeReady:
		conn.Close()
		return nil, fmt.Errorf("unexpected handshake frame %q", token.Type)
	case l.runID != "" && token.RunID != l.runID:
		conn.Close()
		return nil, fmt.Errorf("handshake from run %q, expected %q", token.RunID, l.runID)
	case !version.Compatible(token.Version, version.Short()):
		conn.Close()
		return nil, fmt.Errorf("%w: sync process %q, host %q", ErrIncompatibleVersion, token.Version, version.Short())
	}
	session.peerVersion = token.Version

	if err := session.conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clearing handshake read deadline: %w", err)
	}
	return session, nil
}

// Dial connects to the host's handshake address from runlog-sync. The
// returned session has not yet sent its token: call Ready or Fail.
func Dial(ctx context.Context, address, runID string) (*Session, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialing handshake address %s: %w", address, err)
	}
	return &Session{conn: protocol.NewConn(conn), runID: runID}, nil
}

// Session is one end of an established control link.
type Session struct {
	conn        *protocol.Conn
	runID       string
	peerVersion string
}

// RunID returns the run the session belongs to.
func (s *Session) RunID() string {
	return s.runID
}

// PeerVersion returns the version the child reported in its ready
// token. Empty on the child's side of the session.
func (s *Session) PeerVersion() string {
	return s.peerVersion
}

// Ready sends the success token with this build's version.
func (s *Session) Ready() error {
	return s.conn.Send(protocol.Ready(s.runID, version.Short()))
}

// Fail sends the failure token and closes the session.
func (s *Session) Fail(reason error) error {
	sendErr := s.conn.Send(protocol.Failed(s.runID, reason))
	return errors.Join(sendErr, s.conn.Close())
}

// Send writes a control frame.
func (s *Session) Send(message protocol.Message) error {
	return s.conn.Send(message)
}

// Receive reads the next control frame; io.EOF when the peer closed.
func (s *Session) Receive() (protocol.Message, error) {
	return s.conn.Receive()
}

// CloseWrite signals end of frames to the peer.
func (s *Session) CloseWrite() error {
	return s.conn.CloseWrite()
}

// Close closes the connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
