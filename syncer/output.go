// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/runlog/lib/duplex"
	"github.com/bureau-foundation/runlog/protocol"
)

// stream is one captured console stream.
type stream struct {
	name   string
	reader io.ReadCloser
}

// streams returns the configured readers, opening bundle descriptors
// when no override is set.
func (e *Engine) streams() []stream {
	var streams []stream
	add := func(name string, override io.ReadCloser, fd int) {
		switch {
		case override != nil:
			streams = append(streams, stream{name: name, reader: override})
		case fd >= 0:
			// Inherited descriptors arrive in blocking mode. Switching
			// them to non-blocking lets the runtime poller interrupt a
			// pending read when finalize gives up waiting.
			if err := unix.SetNonblock(fd, true); err != nil {
				e.logger.Warn("setting captured stream non-blocking", "stream", name, "fd", fd, "error", err)
			}
			streams = append(streams, stream{name: name, reader: os.NewFile(uintptr(fd), name)})
		}
	}
	add("stdout", e.config.Stdout, e.bundle.StdoutFD)
	add("stderr", e.config.Stderr, e.bundle.StderrFD)
	return streams
}

// pump copies one stream into output.log and emits an output record
// per line. A trailing partial line is emitted at EOF.
func (e *Engine) pump(ctx context.Context, name string, reader io.Reader) {
	logger := e.logger.With("stream", name)
	var partial bytes.Buffer
	buffer := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buffer)
		if n > 0 {
			chunk := buffer[:n]
			e.appendOutput(chunk)
			partial.Write(chunk)
			e.emitLines(name, &partial)
		}
		if err != nil {
			if !duplex.IsEOF(err) {
				logger.Warn("reading captured stream", "error", err)
			}
			break
		}
	}
	if partial.Len() > 0 {
		e.emitLine(name, partial.String())
	}
	logger.Debug("captured stream closed")
}

func (e *Engine) appendOutput(chunk []byte) {
	e.outputMu.Lock()
	defer e.outputMu.Unlock()
	if _, err := e.outputLog.Write(chunk); err != nil {
		e.logger.Error("appending to output log", "error", err)
	}
}

// emitLines consumes every complete line in partial.
func (e *Engine) emitLines(name string, partial *bytes.Buffer) {
	for {
		index := bytes.IndexByte(partial.Bytes(), '\n')
		if index < 0 {
			return
		}
		line := string(partial.Next(index + 1))
		e.emitLine(name, strings.TrimRight(line, "\r\n"))
	}
}

func (e *Engine) emitLine(name, line string) {
	e.record(protocol.Message{
		Type:   protocol.TypeOutput,
		Output: &protocol.Output{Stream: name, Line: line, Time: e.clock.Now()},
	})
}
