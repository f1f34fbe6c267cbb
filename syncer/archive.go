// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/runlog/lib/settings"
)

// Archive compresses path next to itself (path.zst or path.lz4) and
// removes the original. With settings.CompressionNone, or when path
// is missing, it returns path unchanged.
func Archive(path, compression string) (string, error) {
	if compression == settings.CompressionNone || compression == "" {
		return path, nil
	}
	source, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer source.Close()

	var extension string
	switch compression {
	case settings.CompressionZstd:
		extension = ".zst"
	case settings.CompressionLZ4:
		extension = ".lz4"
	default:
		return "", fmt.Errorf("unknown compression %q", compression)
	}

	target := path + extension
	temporary := target + ".tmp"
	destination, err := os.Create(temporary)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", temporary, err)
	}
	if err := compress(destination, source, compression); err != nil {
		destination.Close()
		os.Remove(temporary)
		return "", err
	}
	if err := destination.Sync(); err != nil {
		destination.Close()
		os.Remove(temporary)
		return "", fmt.Errorf("syncing %s: %w", temporary, err)
	}
	if err := destination.Close(); err != nil {
		os.Remove(temporary)
		return "", fmt.Errorf("closing %s: %w", temporary, err)
	}
	if err := os.Rename(temporary, target); err != nil {
		os.Remove(temporary)
		return "", fmt.Errorf("renaming %s: %w", temporary, err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("removing %s: %w", path, err)
	}
	return target, nil
}

func compress(destination io.Writer, source io.Reader, compression string) error {
	var writer io.WriteCloser
	switch compression {
	case settings.CompressionZstd:
		encoder, err := zstd.NewWriter(destination, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("creating zstd encoder: %w", err)
		}
		writer = encoder
	case settings.CompressionLZ4:
		writer = lz4.NewWriter(destination)
	}
	if _, err := io.Copy(writer, source); err != nil {
		writer.Close()
		return fmt.Errorf("compressing: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finishing %s stream: %w", compression, err)
	}
	return nil
}

// OpenArchive returns a reader over an archived (or plain) output log,
// choosing the decoder by extension.
func OpenArchive(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, ".zst"):
		decoder, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		return &archiveReader{Reader: decoder, close: func() error {
			decoder.Close()
			return file.Close()
		}}, nil
	case strings.HasSuffix(path, ".lz4"):
		return &archiveReader{Reader: lz4.NewReader(file), close: file.Close}, nil
	default:
		return file, nil
	}
}

type archiveReader struct {
	io.Reader
	close func() error
}

func (r *archiveReader) Close() error { return r.close() }
