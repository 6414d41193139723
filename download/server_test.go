package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bitrise-io/go-resumable/transport"
)

// objectServer is an in-memory object store speaking the resumable upload protocol,
// ranged media downloads and exports.
type objectServer struct {
	objects      map[string][]byte
	exports      map[string][]byte
	ignoreRanges bool
	// chunkedExports omits Content-Length from export responses.
	chunkedExports bool

	pending  []byte
	total    int64
	requests int
	mu       sync.Mutex
}

func newObjectServer() *objectServer {
	return &objectServer{
		objects: map[string][]byte{},
		exports: map[string][]byte{},
	}
}

func (s *objectServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/upload/files":
		total, err := strconv.ParseInt(r.Header.Get("X-Upload-Content-Length"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":{"message":"missing X-Upload-Content-Length"}}`, http.StatusBadRequest)
			return
		}
		s.total = total
		s.pending = nil
		w.Header().Set("Location", "/upload/session/1")
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && r.URL.Path == "/upload/session/1":
		s.servePut(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/export"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/files/"), "/export")
		data, ok := s.exports[id]
		if !ok {
			http.Error(w, `{"error":{"message":"File not found"}}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", r.URL.Query().Get("mimeType"))
		if s.chunkedExports {
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write(data)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/files/"):
		data, ok := s.objects[strings.TrimPrefix(r.URL.Path, "/files/")]
		if !ok {
			http.Error(w, `{"error":{"message":"File not found"}}`, http.StatusNotFound)
			return
		}
		if s.ignoreRanges {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			_, _ = w.Write(data)
			return
		}
		http.ServeContent(w, r, "object", time.Time{}, bytes.NewReader(data))
	default:
		http.Error(w, "unexpected request", http.StatusMethodNotAllowed)
	}
}

func (s *objectServer) servePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	contentRange := r.Header.Get("Content-Range")
	if !strings.HasPrefix(contentRange, "bytes */") {
		var first, last, total int64
		if _, err := fmt.Sscanf(contentRange, "bytes %d-%d/%d", &first, &last, &total); err != nil {
			http.Error(w, `{"error":{"message":"invalid Content-Range"}}`, http.StatusBadRequest)
			return
		}
		if first != int64(len(s.pending)) || last-first+1 != int64(len(body)) {
			http.Error(w, `{"error":{"message":"offset mismatch"}}`, http.StatusBadRequest)
			return
		}
		s.pending = append(s.pending, body...)
	}

	if int64(len(s.pending)) == s.total {
		s.objects["file-1"] = s.pending
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"file-1","name":"payload.bin"}`))
		return
	}
	if len(s.pending) > 0 {
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(s.pending)-1))
	}
	w.WriteHeader(http.StatusPermanentRedirect)
}

func (s *objectServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

type transportFunc func(ctx context.Context, req transport.Request) (*transport.Response, error)

func (f transportFunc) Do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	return f(ctx, req)
}

func payload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 241)
	}
	return data
}
