package download

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

type zstdReadCloser struct {
	decoder *zstd.Decoder
	source  io.Closer
}

// Decompress wraps a zstd compressed body, e.g. a stored archive, in a decoding reader.
// Closing the returned reader closes body.
func Decompress(body io.ReadCloser) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(body)
	if err != nil {
		_ = body.Close()
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}

	return &zstdReadCloser{decoder: decoder, source: body}, nil
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.decoder.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.decoder.Close()
	return z.source.Close()
}
