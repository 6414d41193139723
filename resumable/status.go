package resumable

import (
	"context"
	"net/http"

	"github.com/bitrise-io/go-resumable/transport"
	"github.com/docker/go-units"
)

// Status is the server's view of an upload session.
type Status struct {
	BytesReceived int64
	TotalSize     int64
	Complete      bool
	// Resource is set when the session is complete.
	Resource *Resource
}

// QueryStatus asks the server how many bytes it holds without sending any payload.
// It is safe to call at any time, even while a chunk send is unacknowledged.
func (s *Session) QueryStatus(ctx context.Context) (Status, error) {
	return s.queryStatus(ctx)
}

// Resume reconciles the local ledger with the server. Upload methods continue from the
// returned byte count.
func (s *Session) Resume(ctx context.Context) (Status, error) {
	status, err := s.queryStatus(ctx)
	if err != nil {
		return Status{}, err
	}

	if status.Complete {
		s.logger.Infof("Upload session %s is already complete", s.ID)
	} else {
		s.logger.Infof("Resuming upload session %s at %s of %s", s.ID,
			units.BytesSize(float64(status.BytesReceived)), units.BytesSize(float64(status.TotalSize)))
	}

	return status, nil
}

func (s *Session) queryStatus(ctx context.Context) (Status, error) {
	const op = "query upload status"

	resp, err := s.exec.Do(ctx, transport.Request{
		Method:  http.MethodPut,
		URL:     s.Endpoint,
		Header:  http.Header{"Content-Range": []string{statusRange(s.TotalSize)}},
		Timeout: s.config.RequestTimeout,
	})
	if err != nil {
		return Status{}, err
	}
	defer s.closeBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		resource := s.complete(op, resp.Body)
		return Status{BytesReceived: s.TotalSize, TotalSize: s.TotalSize, Complete: true, Resource: resource}, nil
	case statusResumeIncomplete:
		return Status{BytesReceived: s.recordRange(op, resp.Header), TotalSize: s.TotalSize}, nil
	case http.StatusNotFound:
		s.setState(stateExpired)
		return Status{}, s.checkActive(op)
	default:
		// Server errors are not retried here; the caller decides whether to query again.
		cause := transport.FromStatus(op, resp.StatusCode, transport.ReadErrorBody(resp.Body))
		return Status{}, &transport.Error{
			Kind:       transport.Fatal,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    "status query failed: " + cause.Message,
			Err:        cause.Err,
		}
	}
}
