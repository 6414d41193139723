package download

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bitrise-io/go-resumable/transport"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/docker/go-units"
	"github.com/melbahja/got"
)

// ToFile downloads an object to dest with parallel range requests. A failed download is
// retried from scratch.
func (c *Client) ToFile(ctx context.Context, resourceID, dest string) error {
	op := "download " + resourceID
	url := c.mediaURL(resourceID)
	client := c.httpClient()
	start := time.Now()

	err := retry.Times(c.retries).Wait(c.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			c.logger.Warnf("Retrying download of %s (attempt %d/%d)", resourceID, attempt+1, c.retries+1)
		}

		downloader := got.New()
		downloader.Client = client

		d := got.NewDownload(ctx, url, dest)
		if c.concurrency > 0 {
			d.Concurrency = c.concurrency
		}

		if err := downloader.Do(d); err != nil {
			c.logger.Debugf("Download attempt failed: %s", err)
			return err, ctx.Err() != nil
		}
		return nil, false
	})
	if err != nil {
		if ctx.Err() != nil {
			return transport.NewFatal(op, ctx.Err(), "")
		}
		return transport.NewFatal(op, fmt.Errorf("%w: %w", transport.ErrRetriesExhausted, err),
			fmt.Sprintf("download failed after %d retries: %s", c.retries, err))
	}

	if info, err := os.Stat(dest); err == nil {
		c.logger.Donef("Downloaded %s (%s) in %s", resourceID, units.BytesSize(float64(info.Size())), time.Since(start).Round(time.Millisecond))
	}

	return nil
}

func (c *Client) httpClient() *http.Client {
	if tr, ok := c.exec.Transport().(*transport.HTTPTransport); ok {
		return tr.StandardClient()
	}
	return http.DefaultClient
}
