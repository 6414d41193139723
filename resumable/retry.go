package resumable

import (
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/go-resumable/transport"
)

// sendChunkReliable sends a chunk and retries transient failures. Before every retry it
// reconciles with the server and drops the prefix of the chunk the server already holds.
// The result is never Transient.
func (s *Session) sendChunkReliable(ctx context.Context, chunk []byte, offset int64) Outcome {
	const op = "upload chunk"

	chunkEnd := offset + int64(len(chunk))
	var lastErr error

	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := s.backoff(ctx, attempt); err != nil {
				return Fatal{Err: transport.NewFatal(op, err, "")}
			}
			// A completed session still answers the status query with its resource.
			if state := s.currentState(); state == stateCancelled || state == stateExpired {
				return Fatal{Err: s.checkActive(op)}
			}

			status, err := s.queryStatus(ctx)
			if err != nil {
				if !transport.IsRetryable(err) {
					return Fatal{Err: err}
				}
				s.logger.Warnf("Status query before retry %d failed: %s", attempt, err)
				lastErr = err
				continue
			}

			switch {
			case status.Complete:
				return Complete{Resource: status.Resource}
			case status.BytesReceived >= chunkEnd:
				return InProgress{BytesConfirmed: status.BytesReceived}
			case status.BytesReceived < offset:
				s.logger.Warnf("Server holds %d bytes, fewer than the chunk offset %d", status.BytesReceived, offset)
				return InProgress{BytesConfirmed: status.BytesReceived}
			case status.BytesReceived > offset:
				s.logger.Debugf("Server already holds bytes up to %d, skipping %d bytes of the chunk", status.BytesReceived, status.BytesReceived-offset)
				chunk = chunk[status.BytesReceived-offset:]
				offset = status.BytesReceived
			}
		}

		switch o := s.sendChunk(ctx, chunk, offset).(type) {
		case Transient:
			lastErr = o.Err
			s.logger.Warnf("Chunk at offset %d attempt %d/%d failed: %s", offset, attempt+1, s.config.MaxAttempts, o.Err)
			s.tracker.logChunkRetried(offset, attempt+1, o.Err)
		default:
			return o
		}
	}

	msg := fmt.Sprintf("upload failed after %d retries", s.config.MaxAttempts)
	return Fatal{Err: transport.NewFatal(op, fmt.Errorf("%w: %w", transport.ErrRetriesExhausted, lastErr), msg)}
}

// backoff waits BackoffUnit * 2^attempt or until ctx is done.
func (s *Session) backoff(ctx context.Context, attempt int) error {
	delay := s.config.BackoffUnit * time.Duration(1<<uint(attempt))
	s.logger.Debugf("Retrying in %s", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
