package resumable

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/bitrise-io/go-resumable/transport"
)

// Outcome is the result of one chunk PUT. It is one of Complete, InProgress, Fatal or Transient.
//
//	switch o := outcome.(type) {
//	case resumable.Complete:
//	case resumable.InProgress:
//	case resumable.Fatal:
//	case resumable.Transient:
//	}
type Outcome interface {
	outcome()
}

// Complete means the server assembled the whole object.
type Complete struct {
	Resource *Resource
}

// InProgress means the session continues; the next chunk must start at BytesConfirmed.
type InProgress struct {
	BytesConfirmed int64
}

// Fatal failures end the session from the caller's point of view.
type Fatal struct {
	Err error
}

// Transient failures may succeed on retry after a status reconciliation.
type Transient struct {
	Err error
}

func (Complete) outcome()   {}
func (InProgress) outcome() {}
func (Fatal) outcome()      {}
func (Transient) outcome()  {}

// outcomeFromError wraps a classified error into the matching outcome.
func outcomeFromError(err error) Outcome {
	if transport.IsRetryable(err) {
		return Transient{Err: err}
	}
	return Fatal{Err: err}
}

// Resource is the finished object record returned on completion.
// Only the identifying fields are decoded; Raw keeps the full server payload.
type Resource struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

func decodeResource(op string, body io.Reader) (*Resource, error) {
	resource := &Resource{}
	data, err := io.ReadAll(body)
	if err != nil {
		return resource, transport.FromNetwork(op, err)
	}
	if len(data) == 0 {
		return resource, nil
	}

	resource.Raw = data
	if err := json.Unmarshal(data, resource); err != nil {
		return &Resource{Raw: data}, transport.NewFatal(op, fmt.Errorf("%w: decode resource: %s", transport.ErrUnexpectedFormat, err), "")
	}

	return resource, nil
}
