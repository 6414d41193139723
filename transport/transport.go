// Package transport sends single HTTP requests for the resumable upload and download engines
// and classifies their failures into fatal and transient errors.
package transport

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Request describes a single call against the remote storage API.
type Request struct {
	Method string
	URL    string
	Header http.Header
	// Body is sent as-is. An empty body is sent as a zero-length payload.
	Body []byte
	// Timeout bounds the call, including reading the response body. Zero means no extra bound.
	Timeout time.Duration
}

// Response is the raw result of a request that reached the server.
// The caller must close Body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Transport sends one request and returns the server's response, whatever its status.
// A failure to obtain a status at all is returned as an error.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}
