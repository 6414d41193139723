package resumable

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-resumable/transport"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		ChunkSize:   ChunkAlignment,
		BackoffUnit: time.Millisecond,
	}
}

func respond(status int, header http.Header, body string) *transport.Response {
	if header == nil {
		header = http.Header{}
	}
	return &transport.Response{StatusCode: status, Header: header, Body: io.NopCloser(strings.NewReader(body))}
}

func rangeHeader(confirmed int64) http.Header {
	return http.Header{"Range": []string{fmt.Sprintf("bytes=0-%d", confirmed-1)}}
}

// recordingTransport answers requests with handler and keeps a copy of each request.
type recordingTransport struct {
	handler  func(n int, req transport.Request) (*transport.Response, error)
	requests []transport.Request
	mu       sync.Mutex
}

func (r *recordingTransport) Do(_ context.Context, req transport.Request) (*transport.Response, error) {
	r.mu.Lock()
	n := len(r.requests)
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	return r.handler(n, req)
}

func (r *recordingTransport) contentRanges() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ranges []string
	for _, req := range r.requests {
		ranges = append(ranges, req.Header.Get("Content-Range"))
	}
	return ranges
}

// fault overrides the server's answer to the next chunk PUT. The first accept bytes of the
// chunk are stored before status is returned; a negative accept stores the whole chunk.
type fault struct {
	status int
	accept int
}

// fakeUploadServer implements the resumable upload protocol in memory.
type fakeUploadServer struct {
	total      int64
	received   []byte
	completed  bool
	cancelled  bool
	faults     []fault
	duplicates int
	chunkSizes []int
	queries    int
	deletes    int
	mu         sync.Mutex
}

func newFakeUploadServer(total int64) *fakeUploadServer {
	return &fakeUploadServer{total: total}
}

func (f *fakeUploadServer) Do(_ context.Context, req transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if req.Method == http.MethodDelete {
		f.deletes++
		if f.cancelled {
			return respond(http.StatusNotFound, nil, ""), nil
		}
		f.cancelled = true
		return respond(http.StatusNoContent, nil, ""), nil
	}
	if f.cancelled {
		return respond(http.StatusNotFound, nil, ""), nil
	}

	contentRange := req.Header.Get("Content-Range")
	if strings.HasPrefix(contentRange, "bytes */") {
		f.queries++
		return f.status(), nil
	}

	var first, last, total int64
	if _, err := fmt.Sscanf(contentRange, "bytes %d-%d/%d", &first, &last, &total); err != nil {
		return respond(http.StatusBadRequest, nil, `{"error":{"message":"invalid Content-Range"}}`), nil
	}
	f.chunkSizes = append(f.chunkSizes, len(req.Body))
	if first < int64(len(f.received)) {
		f.duplicates += int(minInt64(last+1, int64(len(f.received))) - first)
	}
	if first != int64(len(f.received)) || last-first+1 != int64(len(req.Body)) || total != f.total {
		return respond(http.StatusBadRequest, nil, `{"error":{"message":"offset mismatch"}}`), nil
	}

	if len(f.faults) > 0 {
		flt := f.faults[0]
		f.faults = f.faults[1:]
		accept := flt.accept
		if accept < 0 || accept > len(req.Body) {
			accept = len(req.Body)
		}
		f.received = append(f.received, req.Body[:accept]...)
		return respond(flt.status, nil, "backend error"), nil
	}

	f.received = append(f.received, req.Body...)
	return f.status(), nil
}

func (f *fakeUploadServer) status() *transport.Response {
	if int64(len(f.received)) == f.total {
		f.completed = true
		return respond(http.StatusOK, nil, `{"id":"file-1","name":"payload.bin","mimeType":"application/octet-stream"}`)
	}
	if len(f.received) == 0 {
		return respond(statusResumeIncomplete, nil, "")
	}
	return respond(statusResumeIncomplete, rangeHeader(int64(len(f.received))), "")
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func newTestSession(t *testing.T, total int64, tr transport.Transport) *Session {
	t.Helper()
	session, err := NewSession("https://upload.example.com/session/1", total, "application/octet-stream", Options{
		Config:    testConfig(),
		Transport: tr,
		Logger:    log.NewLogger(),
	})
	require.NoError(t, err)
	return session
}

func payload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
