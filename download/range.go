package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/bitrise-io/go-resumable/transport"
	"github.com/docker/go-units"
)

// Range returns the bytes of r, or the whole object when r is nil. A server that ignores the
// Range header answers 200; the full body is returned then.
func (c *Client) Range(ctx context.Context, resourceID string, r *ByteRange) ([]byte, error) {
	body, err := c.Stream(ctx, resourceID, r)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(body)

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, transport.FromNetwork("download "+resourceID, err)
	}

	c.logger.Debugf("Downloaded %s of %s", units.BytesSize(float64(len(data))), resourceID)
	return data, nil
}

// Stream is Range without buffering. The caller must close the returned body.
func (c *Client) Stream(ctx context.Context, resourceID string, r *ByteRange) (io.ReadCloser, error) {
	op := "download " + resourceID

	req := transport.Request{
		Method: http.MethodGet,
		URL:    c.mediaURL(resourceID),
		Header: http.Header{},
	}
	if r != nil {
		if err := r.validate(); err != nil {
			return nil, transport.NewFatal(op, fmt.Errorf("%w: %s", transport.ErrInvariant, err), err.Error())
		}
		req.Header.Set("Range", r.header())
	}

	resp, err := c.exec.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		if r != nil {
			c.logger.Warnf("Server ignored the range request for %s, reading the full body", resourceID)
		}
	default:
		defer c.closeBody(resp.Body)
		return nil, unexpectedFormat(op, resp.StatusCode, resp.Body)
	}

	return c.counting(resp), nil
}

func (c *Client) counting(resp *transport.Response) io.ReadCloser {
	if c.progress == nil {
		return resp.Body
	}
	return &countingReader{
		ReadCloser: resp.Body,
		total:      contentLength(resp.Header),
		report:     c.progress,
	}
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Errorf("Failed to close response body: %s", err)
	}
}

// unexpectedFormat classifies a status the download path cannot use. It is always fatal.
func unexpectedFormat(op string, status int, body io.Reader) *transport.Error {
	e := transport.FromStatus(op, status, transport.ReadErrorBody(body))
	return &transport.Error{
		Kind:       transport.Fatal,
		Op:         op,
		StatusCode: status,
		Message:    e.Message,
		Err:        fmt.Errorf("%w: %w", transport.ErrUnexpectedFormat, e.Err),
	}
}

func contentLength(header http.Header) int64 {
	n, err := strconv.ParseInt(header.Get("Content-Length"), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

type countingReader struct {
	io.ReadCloser
	read   int64
	total  int64
	report ProgressFunc
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 {
		r.read += int64(n)
		r.report(r.read, r.total)
	}
	return n, err
}
