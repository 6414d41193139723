// Package source provides pull based byte sources for streaming uploads.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultBufferSize is the read size of reader backed sources.
const DefaultBufferSize = 256 * 1024

// Source yields the payload of a streaming upload piece by piece.
// Next returns io.EOF once the payload is exhausted. A returned slice is owned by the caller.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// SizedSource knows its total length up front.
type SizedSource interface {
	Source
	Size() int64
}

type readerSource struct {
	reader  io.Reader
	bufSize int
}

// FromReader reads r in pieces of at most bufSize bytes.
func FromReader(r io.Reader, bufSize int) Source {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &readerSource{reader: r, bufSize: bufSize}
}

func (s *readerSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, s.bufSize)
	for {
		n, err := s.reader.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
	}
}

type sliceSource struct {
	pieces [][]byte
}

// FromSlices yields the given pieces in order.
func FromSlices(pieces ...[]byte) Source {
	return &sliceSource{pieces: pieces}
}

func (s *sliceSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.pieces) == 0 {
		return nil, io.EOF
	}

	piece := s.pieces[0]
	s.pieces = s.pieces[1:]
	return piece, nil
}

// File is a file backed source. It must be closed after the upload.
type File struct {
	Source
	file *os.File
	size int64
}

// FromFile opens the file at path.
func FromFile(path string, bufSize int) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &File{
		Source: FromReader(f, bufSize),
		file:   f,
		size:   info.Size(),
	}, nil
}

// Size ...
func (f *File) Size() int64 {
	return f.size
}

// Close ...
func (f *File) Close() error {
	return f.file.Close()
}
