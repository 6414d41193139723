package resumable

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Tracker receives upload analytics events. analytics.Tracker satisfies it.
type Tracker interface {
	Enqueue(eventName string, properties ...analytics.Properties)
	Wait()
}

// NewDefaultTracker returns the go-utils analytics tracker with the given base properties.
func NewDefaultTracker(logger log.Logger, properties analytics.Properties) Tracker {
	return analytics.NewDefaultTracker(logger, properties)
}

type noopTracker struct{}

func (noopTracker) Enqueue(string, ...analytics.Properties) {}
func (noopTracker) Wait()                                   {}

type sessionTracker struct {
	tracker   Tracker
	sessionID string
}

func newSessionTracker(tracker Tracker, sessionID string) sessionTracker {
	if tracker == nil {
		tracker = noopTracker{}
	}
	return sessionTracker{tracker: tracker, sessionID: sessionID}
}

func (t sessionTracker) logBytesTransferred(delta, confirmed, total int64) {
	t.tracker.Enqueue("resumable_upload_bytes_transferred", analytics.Properties{
		"session_id":      t.sessionID,
		"delta_bytes":     delta,
		"confirmed_bytes": confirmed,
		"total_bytes":     total,
	})
}

func (t sessionTracker) logChunkRetried(offset int64, attempt int, reason error) {
	t.tracker.Enqueue("resumable_upload_chunk_retried", analytics.Properties{
		"session_id": t.sessionID,
		"offset":     offset,
		"attempt":    attempt,
		"reason":     reason.Error(),
	})
}

func (t sessionTracker) logUploadCompleted(uploadTime time.Duration, total int64, chunkCount int64) {
	t.tracker.Enqueue("resumable_upload_completed", analytics.Properties{
		"session_id":        t.sessionID,
		"upload_time_s":     uploadTime.Truncate(time.Second).Seconds(),
		"upload_size_bytes": total,
		"chunk_count":       chunkCount,
	})
}

func (t sessionTracker) logUploadCancelled(confirmed int64) {
	t.tracker.Enqueue("resumable_upload_cancelled", analytics.Properties{
		"session_id":      t.sessionID,
		"confirmed_bytes": confirmed,
	})
}

func (t sessionTracker) wait() {
	t.tracker.Wait()
}
