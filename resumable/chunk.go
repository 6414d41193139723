package resumable

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-resumable/transport"
	"github.com/docker/go-units"
)

const statusResumeIncomplete = http.StatusPermanentRedirect

// UploadChunk sends a single chunk starting at offset without retries. It is the low-level
// escape hatch under UploadBytes and UploadStream; callers must advance their offset to the
// value an InProgress outcome reports.
func (s *Session) UploadChunk(ctx context.Context, chunk []byte, offset int64) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sendChunk(ctx, chunk, offset)
}

func (s *Session) sendChunk(ctx context.Context, chunk []byte, offset int64) Outcome {
	const op = "upload chunk"

	if err := s.checkActive(op); err != nil {
		return Fatal{Err: err}
	}
	if len(chunk) == 0 {
		return Fatal{Err: invariantError(op, "empty chunk")}
	}
	last := offset + int64(len(chunk)) - 1
	if offset < 0 || last >= s.TotalSize {
		return Fatal{Err: invariantError(op, "chunk bytes %d-%d outside of the declared size %d", offset, last, s.TotalSize)}
	}

	if err := s.throttle(ctx, len(chunk)); err != nil {
		return Fatal{Err: transport.NewFatal(op, err, "")}
	}

	s.logger.Debugf("Sending chunk bytes %d-%d/%d (%s)", offset, last, s.TotalSize, units.BytesSize(float64(len(chunk))))

	start := time.Now()
	resp, err := s.exec.Do(ctx, transport.Request{
		Method: http.MethodPut,
		URL:    s.Endpoint,
		Header: http.Header{
			"Content-Range": []string{contentRange(offset, last, s.TotalSize)},
			"Content-Type":  []string{s.ContentType},
		},
		Body:    chunk,
		Timeout: s.config.ChunkTimeout,
	})
	if err != nil {
		return outcomeFromError(err)
	}
	defer s.closeBody(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		s.stats.Update(time.Since(start), len(chunk))
		return Complete{Resource: s.complete(op, resp.Body)}
	case resp.StatusCode == statusResumeIncomplete:
		s.stats.Update(time.Since(start), len(chunk))
		confirmed := s.recordRange(op, resp.Header)
		return InProgress{BytesConfirmed: confirmed}
	case resp.StatusCode == http.StatusNotFound:
		s.setState(stateExpired)
		return Fatal{Err: s.checkActive(op)}
	default:
		return outcomeFromError(transport.FromStatus(op, resp.StatusCode, transport.ReadErrorBody(resp.Body)))
	}
}

// complete records a finished upload and decodes the resource the server answered with.
// The server already holds every byte, so a body that cannot be decoded is kept as Raw.
func (s *Session) complete(op string, body io.Reader) *Resource {
	s.progress.set(s.TotalSize)
	s.setState(stateCompleted)

	resource, err := decodeResource(op, body)
	if err != nil {
		s.logger.Warnf("Upload session %s completed, but its resource could not be read: %s", s.ID, err)
	}
	return resource
}

// recordRange reads the confirmed byte count of a 308 response and records it.
// A missing or malformed Range header means nothing is confirmed and the upload restarts at 0.
func (s *Session) recordRange(op string, header http.Header) int64 {
	value := header.Get("Range")
	confirmed, ok := parseRange(value)
	if !ok {
		if value == "" {
			s.logger.Warnf("%s: resume incomplete without Range header, restarting from byte 0", op)
		} else {
			s.logger.Warnf("%s: malformed Range header %q, restarting from byte 0", op, value)
		}
	}

	if !s.progress.set(confirmed) {
		s.logger.Warnf("%s: server reports %d bytes, fewer than the %d confirmed earlier", op, confirmed, s.progress.Confirmed())
	}

	return confirmed
}

func (s *Session) throttle(ctx context.Context, n int) error {
	if s.limiter == nil {
		return nil
	}

	burst := s.limiter.Burst()
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		if err := s.limiter.WaitN(ctx, step); err != nil {
			return fmt.Errorf("bandwidth limiter: %w", err)
		}
		n -= step
	}

	return nil
}

func contentRange(first, last, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", first, last, total)
}

func statusRange(total int64) string {
	return fmt.Sprintf("bytes */%d", total)
}

// parseRange parses a "bytes=0-N" header and returns N+1.
func parseRange(value string) (int64, bool) {
	ranges, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes=")
	if !ok {
		return 0, false
	}
	first, last, ok := strings.Cut(ranges, "-")
	if !ok {
		return 0, false
	}

	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, false
	}
	end, err := strconv.ParseInt(strings.TrimSpace(last), 10, 64)
	if err != nil || end < start {
		return 0, false
	}

	return end + 1, true
}
