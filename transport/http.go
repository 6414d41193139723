package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const maxRedirects = 10

// Options configures an HTTPTransport.
type Options struct {
	// MaxRetries is the number of transport level retries of a request.
	// Upload session calls must use 0: chunk retries need a status reconciliation first,
	// which only the session can do.
	MaxRetries int

	// Header is added to every request, e.g. an Authorization header.
	Header http.Header
}

// HTTPTransport is a Transport backed by a retryablehttp client.
// A 308 is part of the resumable protocol and is never followed as a redirect.
type HTTPTransport struct {
	client *retryablehttp.Client
	header http.Header
	logger log.Logger
}

// NewHTTPTransport ...
func NewHTTPTransport(opts Options, logger log.Logger) *HTTPTransport {
	client := retryhttp.NewClient(logger)
	client.RetryMax = opts.MaxRetries
	if opts.MaxRetries > 0 {
		client.CheckRetry = createCustomRetryFunction(logger)
	} else {
		client.CheckRetry = noRetryPolicy
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.HTTPClient.CheckRedirect = checkRedirect

	return &HTTPTransport{
		client: client,
		header: opts.Header,
		logger: logger,
	}
}

// StandardClient returns a *http.Client that goes through the same retrying round tripper
// and sends the static headers.
func (t *HTTPTransport) StandardClient() *http.Client {
	client := t.client.StandardClient()
	if len(t.header) > 0 {
		client.Transport = &headerRoundTripper{next: client.Transport, header: t.header}
	}
	return client
}

// Do ...
func (t *HTTPTransport) Do(ctx context.Context, r Request) (*Response, error) {
	cancel := context.CancelFunc(func() {})
	if r.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
	}

	// A nil body keeps net/http from switching to chunked encoding for zero-length PUTs.
	var body interface{}
	if len(r.Body) > 0 {
		body = r.Body
	}

	req, err := retryablehttp.NewRequest(r.Method, r.URL, body)
	if err != nil {
		cancel()
		return nil, err
	}
	req = req.WithContext(ctx)

	for k, values := range t.header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	for k, values := range r.Header {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	// Add Content-Length header manually because retryablehttp doesn't do it automatically
	req.Header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	req.ContentLength = int64(len(r.Body))

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		t.logger.Warnf("error while dumping request: %s", err)
	}
	t.logger.Debugf("Request dump: %s", string(dump))

	resp, err := t.client.Do(req)
	if err != nil {
		if resp != nil {
			t.closeBody(resp.Body)
		}
		cancel()
		return nil, err
	}

	dump, err = httputil.DumpResponse(resp, false)
	if err != nil {
		t.logger.Warnf("error while dumping response: %s", err)
	}
	t.logger.Debugf("Response dump: %s", string(dump))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

func (t *HTTPTransport) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		t.logger.Errorf("Failed to close response body: %s", err)
	}
}

// cancelOnClose keeps the request context (and its timeout) alive until the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func noRetryPolicy(ctx context.Context, _ *http.Response, _ error) (bool, error) {
	return false, ctx.Err()
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		retry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", retry, checkErr, err)
		return retry, checkErr
	}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if req.Response != nil && req.Response.StatusCode == http.StatusPermanentRedirect {
		return http.ErrUseLastResponse
	}
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

type headerRoundTripper struct {
	next   http.RoundTripper
	header http.Header
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, values := range h.header {
		if req.Header.Get(k) != "" {
			continue
		}
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return h.next.RoundTrip(req)
}
