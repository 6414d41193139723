package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Kind tells whether a failure may be recovered by retrying.
type Kind int

const (
	// Fatal failures end the operation; retrying cannot help.
	Fatal Kind = iota
	// Transient failures (network drops, timeouts, 5xx) may succeed on retry.
	Transient
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "fatal"
}

var (
	ErrSessionExpired    = errors.New("upload session no longer exists, initiate a new upload")
	ErrNotFound          = errors.New("resource not found")
	ErrBadRequest        = errors.New("request rejected by server")
	ErrServer            = errors.New("server error")
	ErrInterrupted       = errors.New("interrupted")
	ErrUnexpectedStatus  = errors.New("unexpected status")
	ErrUnexpectedFormat  = errors.New("unexpected format")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrInvariant         = errors.New("invariant violation")
	ErrNoEndpoint        = errors.New("no upload endpoint in initiation response")
	ErrExportTooLarge    = errors.New("export too large, use a download link instead")
	ErrUnsupportedExport = errors.New("unsupported export format")
)

const maxErrorBodySize = 1024

// Error is a classified failure of a transfer operation.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	// Message is a human-readable description, usually taken from the server's error body.
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewFatal ...
func NewFatal(op string, err error, message string) *Error {
	return &Error{Kind: Fatal, Op: op, Err: err, Message: message}
}

// NewTransient ...
func NewTransient(op string, err error, message string) *Error {
	return &Error{Kind: Transient, Op: op, Err: err, Message: message}
}

// SessionExpired reports that the server no longer knows the upload session.
func SessionExpired(op string) *Error {
	return &Error{Kind: Fatal, Op: op, StatusCode: http.StatusNotFound, Err: ErrSessionExpired}
}

// FromNetwork classifies a failure that happened before a status was obtained.
// Cancellation by the caller is fatal, everything else is an interruption worth retrying.
func FromNetwork(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: Fatal, Op: op, Err: err}
	}
	return &Error{Kind: Transient, Op: op, Err: fmt.Errorf("%w: %w", ErrInterrupted, err)}
}

// FromStatus classifies a non-success status. body is the (possibly truncated) error body.
func FromStatus(op string, status int, body []byte) *Error {
	e := &Error{Op: op, StatusCode: status, Message: errorMessage(body)}

	switch {
	case status == http.StatusNotFound:
		e.Kind, e.Err = Fatal, ErrNotFound
	case status >= 400 && status < 500:
		e.Kind, e.Err = Fatal, ErrBadRequest
	case status >= 500 && status < 600:
		e.Kind, e.Err = Transient, ErrServer
	default:
		e.Kind, e.Err = Fatal, ErrUnexpectedStatus
	}

	if e.Message == "" {
		e.Message = e.Err.Error()
	}

	return e
}

// ReadErrorBody reads at most 1KiB of an error response body.
func ReadErrorBody(body io.Reader) []byte {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	return data
}

// Classify maps any error returned by this module, the standard library network stack or
// a context into a Kind.
func Classify(err error) Kind {
	if err == nil {
		return Fatal
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Fatal
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Transient
	}

	return Fatal
}

// IsRetryable ...
func IsRetryable(err error) bool {
	return err != nil && Classify(err) == Transient
}

type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

type nestedError struct {
	Message string `json:"message"`
}

// errorMessage extracts a readable message from the common JSON error shapes
// ({"error":{"message":...}}, {"error":"..."}, {"message":...}) and falls back to the raw text.
func errorMessage(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}

	var decoded errorBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		return text
	}

	if len(decoded.Error) > 0 {
		var nested nestedError
		if err := json.Unmarshal(decoded.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var plain string
		if err := json.Unmarshal(decoded.Error, &plain); err == nil && plain != "" {
			return plain
		}
	}
	if decoded.Message != "" {
		return decoded.Message
	}

	return text
}
