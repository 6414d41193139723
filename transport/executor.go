package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Executor runs fully built requests and shapes their results.
// Failures are always returned as *Error values.
type Executor struct {
	transport Transport
	logger    log.Logger
}

// NewExecutor ...
func NewExecutor(transport Transport, logger log.Logger) *Executor {
	return &Executor{
		transport: transport,
		logger:    logger,
	}
}

// Transport returns the underlying transport.
func (e *Executor) Transport() Transport {
	return e.transport
}

// Do returns the raw response for any status; only network level failures are errors.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	resp, err := e.transport.Do(ctx, req)
	if err != nil {
		return nil, FromNetwork(operation(req), err)
	}
	return resp, nil
}

// JSON expects a 2xx response and decodes its body into v unless v is nil or the body is empty.
// The response headers are returned for callers that need them (e.g. Location).
func (e *Executor) JSON(ctx context.Context, req Request, v interface{}) (http.Header, error) {
	data, header, err := e.BytesWithHeaders(ctx, req)
	if err != nil {
		return nil, err
	}

	if v == nil || len(bytes.TrimSpace(data)) == 0 {
		return header, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, NewFatal(operation(req), fmt.Errorf("%w: %s", ErrUnexpectedFormat, err), "")
	}

	return header, nil
}

// Bytes expects a 2xx response and returns its body.
func (e *Executor) Bytes(ctx context.Context, req Request) ([]byte, error) {
	data, _, err := e.BytesWithHeaders(ctx, req)
	return data, err
}

// BytesWithHeaders is Bytes for callers that also need the response headers.
func (e *Executor) BytesWithHeaders(ctx context.Context, req Request) ([]byte, http.Header, error) {
	body, header, err := e.Stream(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	defer e.closeBody(body)

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, FromNetwork(operation(req), err)
	}

	return data, header, nil
}

// Stream expects a 2xx response and hands its body to the caller, who must close it.
func (e *Executor) Stream(ctx context.Context, req Request) (io.ReadCloser, http.Header, error) {
	resp, err := e.Do(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer e.closeBody(resp.Body)
		return nil, nil, FromStatus(operation(req), resp.StatusCode, ReadErrorBody(resp.Body))
	}

	return resp.Body, resp.Header, nil
}

func (e *Executor) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		e.logger.Errorf("Failed to close response body: %s", err)
	}
}

func operation(req Request) string {
	return fmt.Sprintf("%s %s", req.Method, req.URL)
}
