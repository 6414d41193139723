package resumable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-resumable/resumable/source"
	"github.com/bitrise-io/go-resumable/transport"
	"github.com/docker/go-units"
)

// UploadBytes uploads content, whose length must equal TotalSize, and returns the finished resource.
// It starts at the confirmed offset, so a resumed session does not resend accepted bytes.
func (s *Session) UploadBytes(ctx context.Context, content []byte) (*Resource, error) {
	const op = "upload"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(op); err != nil {
		return nil, err
	}
	if int64(len(content)) != s.TotalSize {
		return nil, invariantError(op, "content is %d bytes but the session declared %d", len(content), s.TotalSize)
	}
	if s.TotalSize == 0 {
		return s.finalizeEmpty(ctx)
	}

	start := time.Now()
	offset := s.progress.Confirmed()
	stalled := 0

	for offset < s.TotalSize {
		end := offset + s.ChunkSize
		if end > s.TotalSize {
			end = s.TotalSize
		}

		switch o := s.sendChunkReliable(ctx, content[offset:end], offset).(type) {
		case Complete:
			s.uploadDone(start)
			return o.Resource, nil
		case InProgress:
			if o.BytesConfirmed <= offset {
				stalled++
				if stalled >= s.config.MaxAttempts {
					return nil, invariantError(op, "server made no progress past byte %d", offset)
				}
			} else {
				stalled = 0
			}
			offset = o.BytesConfirmed
		case Fatal:
			return nil, o.Err
		case Transient:
			return nil, o.Err
		}
	}

	return nil, invariantError(op, "upload loop ended unexpectedly")
}

// UploadStream uploads the bytes yielded by src, which must total TotalSize.
// Pieces are accumulated into ChunkSize windows. A failing source interrupts the upload
// without a retry; the caller owns replaying the source. Bytes the server confirmed before
// the call are skipped from the start of src.
func (s *Session) UploadStream(ctx context.Context, src source.Source) (*Resource, error) {
	const op = "upload stream"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(op); err != nil {
		return nil, err
	}

	start := time.Now()
	bufStart := s.progress.Confirmed()
	skip := bufStart
	buf := make([]byte, 0, s.ChunkSize)
	var read int64
	eof := false
	stalled := 0

	for {
		for !eof && int64(len(buf)) < s.ChunkSize {
			piece, err := src.Next(ctx)
			if len(piece) > 0 {
				read += int64(len(piece))
				if read > s.TotalSize {
					return nil, invariantError(op, "source yielded more than the declared %d bytes", s.TotalSize)
				}
				if skip > 0 {
					drop := skip
					if drop > int64(len(piece)) {
						drop = int64(len(piece))
					}
					piece = piece[drop:]
					skip -= drop
				}
				buf = append(buf, piece...)
			}
			if errors.Is(err, io.EOF) {
				eof = true
			} else if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return nil, transport.NewFatal(op, err, "")
				}
				return nil, transport.NewTransient(op, fmt.Errorf("%w: %w", transport.ErrInterrupted, err), "reading upload source failed")
			}
		}

		if eof && read < s.TotalSize {
			return nil, invariantError(op, "source ended after %d of the declared %d bytes", read, s.TotalSize)
		}
		if s.TotalSize == 0 {
			return s.finalizeEmpty(ctx)
		}
		if len(buf) == 0 {
			return nil, invariantError(op, "upload loop ended unexpectedly")
		}

		window := buf
		if int64(len(window)) > s.ChunkSize {
			window = window[:s.ChunkSize]
		}

		switch o := s.sendChunkReliable(ctx, window, bufStart).(type) {
		case Complete:
			s.uploadDone(start)
			return o.Resource, nil
		case InProgress:
			confirmed := o.BytesConfirmed
			if confirmed < bufStart {
				return nil, invariantError(op, "server holds %d bytes but the stream already released bytes before %d", confirmed, bufStart)
			}
			if confirmed > bufStart+int64(len(buf)) {
				return nil, invariantError(op, "server confirmed %d bytes, more than the %d sent", confirmed, bufStart+int64(len(buf)))
			}

			if confirmed == bufStart {
				stalled++
				if stalled >= s.config.MaxAttempts {
					return nil, invariantError(op, "server made no progress past byte %d", bufStart)
				}
			} else {
				stalled = 0
			}

			// Unacknowledged bytes stay in the buffer and lead the next window.
			n := copy(buf, buf[confirmed-bufStart:])
			buf = buf[:n]
			bufStart = confirmed
		case Fatal:
			return nil, o.Err
		case Transient:
			return nil, o.Err
		}
	}
}

// finalizeEmpty completes a zero-length upload with a status query.
func (s *Session) finalizeEmpty(ctx context.Context) (*Resource, error) {
	status, err := s.queryStatus(ctx)
	if err != nil {
		return nil, err
	}
	if !status.Complete {
		return nil, invariantError("upload", "upload loop ended unexpectedly")
	}
	return status.Resource, nil
}

func (s *Session) uploadDone(start time.Time) {
	took := time.Since(start)
	s.logger.Donef("Uploaded %s in %s (%d chunks, avg %s per chunk, %s/s)",
		units.BytesSize(float64(s.TotalSize)), took.Round(time.Millisecond), s.stats.SentCount(),
		s.stats.Average().Round(time.Millisecond), units.BytesSize(s.stats.Throughput()))
	s.tracker.logUploadCompleted(took, s.TotalSize, s.stats.SentCount())
}
