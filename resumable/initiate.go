package resumable

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bitrise-io/go-resumable/transport"
)

// InitiateRequest describes the POST that allocates an upload session.
type InitiateRequest struct {
	// URL is the upload collection URL, usually with uploadType=resumable in its query.
	URL string
	// Metadata is the JSON body describing the new object. Nil sends an empty object.
	Metadata    interface{}
	TotalSize   int64
	ContentType string
	Header      http.Header
}

// Initiate allocates a session on the server and returns it. The session endpoint comes from
// the response's Location header. opts.Transport defaults to the executor's transport.
func Initiate(ctx context.Context, exec *transport.Executor, req InitiateRequest, opts Options) (*Session, error) {
	const op = "initiate upload"

	if req.TotalSize < 0 {
		return nil, invariantError(op, "negative total size: %d", req.TotalSize)
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	var metadata interface{} = struct{}{}
	if req.Metadata != nil {
		metadata = req.Metadata
	}
	body, err := json.Marshal(metadata)
	if err != nil {
		return nil, transport.NewFatal(op, fmt.Errorf("encode metadata: %w", err), "")
	}

	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json; charset=UTF-8")
	header.Set("X-Upload-Content-Type", contentType)
	header.Set("X-Upload-Content-Length", strconv.FormatInt(req.TotalSize, 10))

	respHeader, err := exec.JSON(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     req.URL,
		Header:  header,
		Body:    body,
		Timeout: opts.Config.withDefaults().RequestTimeout,
	}, nil)
	if err != nil {
		return nil, err
	}

	endpoint, err := resolveLocation(req.URL, respHeader.Get("Location"))
	if err != nil {
		return nil, transport.NewFatal(op, err, "")
	}

	if opts.Transport == nil {
		opts.Transport = exec.Transport()
	}

	return NewSession(endpoint, req.TotalSize, contentType, opts)
}

func resolveLocation(base, location string) (string, error) {
	if location == "" {
		return "", transport.ErrNoEndpoint
	}

	loc, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: invalid Location %q: %s", transport.ErrNoEndpoint, location, err)
	}
	if loc.IsAbs() {
		return loc.String(), nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse initiation url: %w", err)
	}

	return baseURL.ResolveReference(loc).String(), nil
}
