// Package download implements ranged and streamed retrieval of stored objects and exports.
package download

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bitrise-io/go-resumable/transport"
	"github.com/bitrise-io/go-utils/v2/log"
)

// DefaultMaxExportSize is the largest export payload returned in memory.
const DefaultMaxExportSize int64 = 10 * 1024 * 1024

// ProgressFunc is called as a body is read. total is -1 when the size is unknown.
type ProgressFunc func(read, total int64)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	Logger log.Logger

	// MaxExportSize caps export payloads.
	// Default: 10 MiB
	MaxExportSize int64

	// Concurrency is the number of parallel range requests of ToFile. Zero lets got decide.
	Concurrency uint

	// Retries is the number of full retries of ToFile.
	// Default: 3
	Retries uint

	// RetryWait is the wait between ToFile retries.
	// Default: 5 seconds
	RetryWait time.Duration

	Progress ProgressFunc
}

// Client downloads objects addressed by resource ID under a base URL.
type Client struct {
	exec          *transport.Executor
	baseURL       string
	logger        log.Logger
	maxExportSize int64
	concurrency   uint
	retries       uint
	retryWait     time.Duration
	progress      ProgressFunc
}

// NewClient ...
func NewClient(exec *transport.Executor, baseURL string, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = log.NewLogger()
	}
	if opts.MaxExportSize <= 0 {
		opts.MaxExportSize = DefaultMaxExportSize
	}
	if opts.Retries == 0 {
		opts.Retries = 3
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 5 * time.Second
	}

	return &Client{
		exec:          exec,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		logger:        opts.Logger,
		maxExportSize: opts.MaxExportSize,
		concurrency:   opts.Concurrency,
		retries:       opts.Retries,
		retryWait:     opts.RetryWait,
		progress:      opts.Progress,
	}
}

// ByteRange is an inclusive byte window. A negative End reads to the end of the object.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) header() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (r ByteRange) validate() error {
	if r.Start < 0 || (r.End >= 0 && r.End < r.Start) {
		return fmt.Errorf("invalid byte range %d-%d", r.Start, r.End)
	}
	return nil
}

func (c *Client) mediaURL(resourceID string) string {
	return fmt.Sprintf("%s/%s?alt=media", c.baseURL, url.PathEscape(resourceID))
}

func (c *Client) exportURL(resourceID, mimeType string) string {
	return fmt.Sprintf("%s/%s/export?mimeType=%s", c.baseURL, url.PathEscape(resourceID), url.QueryEscape(mimeType))
}
