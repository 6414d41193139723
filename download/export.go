package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/bitrise-io/go-resumable/transport"
	"github.com/docker/go-units"
)

// exportFormats is the sorted list of conversions the server supports.
var exportFormats = []string{
	"application/epub+zip",
	"application/pdf",
	"application/rtf",
	"application/vnd.google-apps.script+json",
	"application/vnd.oasis.opendocument.presentation",
	"application/vnd.oasis.opendocument.spreadsheet",
	"application/vnd.oasis.opendocument.text",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/x-vnd.oasis.opendocument.spreadsheet",
	"application/zip",
	"image/jpeg",
	"image/png",
	"image/svg+xml",
	"text/csv",
	"text/html",
	"text/markdown",
	"text/plain",
	"text/tab-separated-values",
}

// ExportFormats lists the MIME types Export accepts.
func ExportFormats() []string {
	return append([]string(nil), exportFormats...)
}

// IsExportFormat ...
func IsExportFormat(mimeType string) bool {
	i := sort.SearchStrings(exportFormats, mimeType)
	return i < len(exportFormats) && exportFormats[i] == mimeType
}

// Export converts a native document to mimeType and returns it in memory.
// Payloads over the configured cap fail with ErrExportTooLarge.
func (c *Client) Export(ctx context.Context, resourceID, mimeType string) ([]byte, error) {
	body, err := c.ExportStream(ctx, resourceID, mimeType)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(body)

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, transport.FromNetwork("export "+resourceID, err)
	}

	return data, nil
}

// ExportStream is Export without buffering. The caller must close the returned body; reading
// past the cap fails with ErrExportTooLarge.
func (c *Client) ExportStream(ctx context.Context, resourceID, mimeType string) (io.ReadCloser, error) {
	op := "export " + resourceID

	if !IsExportFormat(mimeType) {
		return nil, transport.NewFatal(op, fmt.Errorf("%w: %s", transport.ErrUnsupportedExport, mimeType), "")
	}

	resp, err := c.exec.Do(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    c.exportURL(resourceID, mimeType),
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer c.closeBody(resp.Body)
		return nil, unexpectedFormat(op, resp.StatusCode, resp.Body)
	}

	if size := contentLength(resp.Header); size > c.maxExportSize {
		c.closeBody(resp.Body)
		return nil, c.tooLarge(op)
	}

	return &cappedReader{
		ReadCloser: c.counting(resp),
		remaining:  c.maxExportSize,
		err:        c.tooLarge(op),
	}, nil
}

func (c *Client) tooLarge(op string) *transport.Error {
	return transport.NewFatal(op, transport.ErrExportTooLarge,
		fmt.Sprintf("export exceeds %s, use a download link instead", units.BytesSize(float64(c.maxExportSize))))
}

// cappedReader fails once more than remaining bytes are read.
type cappedReader struct {
	io.ReadCloser
	remaining int64
	err       error
}

func (r *cappedReader) Read(p []byte) (int, error) {
	if r.remaining < 0 {
		return 0, r.err
	}
	// Read one byte past the cap to tell an exact fit from an overflow.
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}

	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		return n + int(r.remaining), r.err
	}
	return n, err
}
