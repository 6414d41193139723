package resumable

import (
	"context"
	"net/http"

	"github.com/bitrise-io/go-resumable/transport"
)

const statusClientClosedRequest = 499

// Cancel terminates the session on the server. It never fails: a session that is already
// gone counts as cancelled, and other failures are only logged.
func (s *Session) Cancel(ctx context.Context) {
	switch s.currentState() {
	case stateCancelled, stateExpired:
		s.logger.Debugf("Upload session %s is already terminated", s.ID)
		return
	case stateCompleted:
		s.logger.Debugf("Upload session %s is already completed, nothing to cancel", s.ID)
		return
	}

	s.setState(stateCancelled)
	s.tracker.logUploadCancelled(s.progress.Confirmed())

	resp, err := s.exec.Do(ctx, transport.Request{
		Method:  http.MethodDelete,
		URL:     s.Endpoint,
		Timeout: s.config.RequestTimeout,
	})
	if err != nil {
		s.logger.Warnf("Cancel upload session %s: %s", s.ID, err)
		return
	}
	defer s.closeBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusNoContent, statusClientClosedRequest:
		s.logger.Infof("Upload session %s cancelled", s.ID)
	case http.StatusNotFound:
		s.logger.Infof("Upload session %s no longer exists", s.ID)
	default:
		s.logger.Warnf("Cancel upload session %s: unexpected status %d, treating the session as cancelled", s.ID, resp.StatusCode)
	}
}
