package resumable

import (
	"time"
)

// ChunkAlignment is the granularity every chunk except the last one must be a multiple of.
const ChunkAlignment int64 = 256 * 1024

// DefaultChunkSize is used when no chunk size is configured.
const DefaultChunkSize = 32 * ChunkAlignment // 8 MiB

// Config holds configuration for upload sessions.
type Config struct {
	// ChunkSize is the number of bytes sent per PUT. It is rounded up to a multiple of ChunkAlignment.
	// Default: 8 MiB
	ChunkSize int64

	// MaxAttempts is the total number of attempts for a single chunk, including the first one.
	// Default: 3
	MaxAttempts int

	// BackoffUnit is the base of the exponential backoff: retry n waits BackoffUnit * 2^n.
	// Default: 1 second
	BackoffUnit time.Duration

	// ChunkTimeout bounds a single chunk PUT.
	// Default: 5 minutes
	ChunkTimeout time.Duration

	// RequestTimeout bounds status queries, cancellation and initiation.
	// Default: 30 seconds
	RequestTimeout time.Duration

	// BytesPerSecond limits the upload bandwidth of a session. Zero means unlimited.
	BytesPerSecond int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      DefaultChunkSize,
		MaxAttempts:    3,
		BackoffUnit:    time.Second,
		ChunkTimeout:   5 * time.Minute,
		RequestTimeout: 30 * time.Second,
	}
}

// NormalizeChunkSize returns the smallest multiple of ChunkAlignment that is >= size.
// Non-positive sizes fall back to DefaultChunkSize.
func NormalizeChunkSize(size int64) int64 {
	if size <= 0 {
		return DefaultChunkSize
	}
	if rem := size % ChunkAlignment; rem != 0 {
		size += ChunkAlignment - rem
	}
	return size
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()

	c.ChunkSize = NormalizeChunkSize(c.ChunkSize)
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = def.BackoffUnit
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = def.ChunkTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}

	return c
}
