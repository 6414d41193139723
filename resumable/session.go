package resumable

import (
	"fmt"
	"io"
	"sync"

	"github.com/bitrise-io/go-resumable/transport"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const defaultContentType = "application/octet-stream"

type sessionState int

const (
	stateActive sessionState = iota
	stateCompleted
	stateCancelled
	stateExpired
)

// Options configures a Session. Zero values fall back to defaults.
type Options struct {
	Config    Config
	Transport transport.Transport
	Logger    log.Logger
	Tracker   Tracker
}

// Session is one in-flight resumable upload. The endpoint, total size, content type and
// chunk size never change after construction.
//
// Upload methods serialize on the session; Cancel and QueryStatus may be called concurrently
// with a running upload.
type Session struct {
	// ID is a local identifier used in logs and analytics events.
	ID          string
	Endpoint    string
	TotalSize   int64
	ChunkSize   int64
	ContentType string

	config   Config
	exec     *transport.Executor
	logger   log.Logger
	tracker  sessionTracker
	limiter  *rate.Limiter
	progress *Progress
	stats    *Stats

	mu      sync.Mutex
	stateMu sync.Mutex
	state   sessionState
}

// NewSession returns a session for an endpoint the caller already holds, e.g. one persisted
// before a crash. Call Resume before uploading to continue where the server left off.
func NewSession(endpoint string, totalSize int64, contentType string, opts Options) (*Session, error) {
	if endpoint == "" {
		return nil, transport.NewFatal("new session", transport.ErrNoEndpoint, "")
	}
	if totalSize < 0 {
		return nil, invariantError("new session", "negative total size: %d", totalSize)
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	config := opts.Config.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	tr := opts.Transport
	if tr == nil {
		tr = transport.NewHTTPTransport(transport.Options{}, logger)
	}

	s := &Session{
		ID:          uuid.NewString(),
		Endpoint:    endpoint,
		TotalSize:   totalSize,
		ChunkSize:   config.ChunkSize,
		ContentType: contentType,
		config:      config,
		exec:        transport.NewExecutor(tr, logger),
		logger:      logger,
		stats:       &Stats{},
	}
	s.tracker = newSessionTracker(opts.Tracker, s.ID)
	s.progress = newProgress(totalSize, s.tracker.logBytesTransferred)
	if config.BytesPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.BytesPerSecond), int(config.ChunkSize))
	}

	return s, nil
}

// Progress returns the session's confirmed byte ledger.
func (s *Session) Progress() *Progress {
	return s.progress
}

// Stats returns chunk send statistics.
func (s *Session) Stats() *Stats {
	return s.stats
}

// WaitForTracker blocks until queued analytics events are sent.
func (s *Session) WaitForTracker() {
	s.tracker.wait()
}

func (s *Session) setState(state sessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == stateActive {
		s.state = state
	}
}

func (s *Session) currentState() sessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// checkActive returns the error for operations on a terminated session.
func (s *Session) checkActive(op string) error {
	switch s.currentState() {
	case stateCompleted:
		return invariantError(op, "upload session already completed")
	case stateCancelled:
		return invariantError(op, "upload session was cancelled")
	case stateExpired:
		return transport.SessionExpired(op)
	}
	return nil
}

func (s *Session) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		s.logger.Errorf("Failed to close response body: %s", err)
	}
}

func invariantError(op, format string, args ...interface{}) *transport.Error {
	msg := fmt.Sprintf(format, args...)
	return transport.NewFatal(op, fmt.Errorf("%w: %s", transport.ErrInvariant, msg), msg)
}
