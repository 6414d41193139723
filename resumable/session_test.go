package resumable

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/bitrise-io/go-resumable/transport"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	session, err := NewSession("https://upload.example.com/session/1", 1000, "", Options{
		Config: Config{ChunkSize: 300000},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2*ChunkAlignment), session.ChunkSize)
	assert.Equal(t, "application/octet-stream", session.ContentType)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, int64(0), session.Progress().Confirmed())
	assert.Equal(t, int64(1000), session.Progress().Total())

	_, err = NewSession("", 1000, "", Options{})
	assert.ErrorIs(t, err, transport.ErrNoEndpoint)

	_, err = NewSession("https://upload.example.com/session/1", -1, "", Options{})
	assert.ErrorIs(t, err, transport.ErrInvariant)
}

func TestProgress_NeverRegresses(t *testing.T) {
	var advances []int64
	progress := newProgress(1000, func(delta, confirmed, total int64) {
		advances = append(advances, delta)
		assert.Equal(t, int64(1000), total)
	})

	assert.True(t, progress.set(400))
	assert.False(t, progress.set(100))
	assert.Equal(t, int64(400), progress.Confirmed())
	assert.True(t, progress.set(400))
	assert.True(t, progress.set(5000))
	assert.Equal(t, int64(1000), progress.Confirmed())
	assert.Equal(t, int64(0), progress.Remaining())
	assert.Equal(t, []int64{400, 600}, advances)
}

func TestQueryStatus(t *testing.T) {
	tests := []struct {
		name      string
		response  *transport.Response
		want      Status
		wantErr   error
		wantFatal bool
	}{
		{
			name:     "incomplete",
			response: respond(statusResumeIncomplete, rangeHeader(262144), ""),
			want:     Status{BytesReceived: 262144, TotalSize: 1 << 20},
		},
		{
			name:     "nothing received",
			response: respond(statusResumeIncomplete, nil, ""),
			want:     Status{BytesReceived: 0, TotalSize: 1 << 20},
		},
		{
			name:     "complete",
			response: respond(http.StatusCreated, nil, `{"id":"file-1"}`),
			want: Status{BytesReceived: 1 << 20, TotalSize: 1 << 20, Complete: true, Resource: &Resource{
				ID:  "file-1",
				Raw: json.RawMessage(`{"id":"file-1"}`),
			}},
		},
		{
			name:     "complete with a body that is not a resource",
			response: respond(http.StatusOK, nil, "OK"),
			want: Status{BytesReceived: 1 << 20, TotalSize: 1 << 20, Complete: true, Resource: &Resource{
				Raw: json.RawMessage("OK"),
			}},
		},
		{
			name:      "expired",
			response:  respond(http.StatusNotFound, nil, ""),
			wantErr:   transport.ErrSessionExpired,
			wantFatal: true,
		},
		{
			name:      "server error is fatal for a status query",
			response:  respond(http.StatusServiceUnavailable, nil, ""),
			wantErr:   transport.ErrServer,
			wantFatal: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &recordingTransport{handler: func(int, transport.Request) (*transport.Response, error) {
				return tt.response, nil
			}}
			session := newTestSession(t, 1<<20, tr)

			status, err := session.QueryStatus(context.Background())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.wantFatal, !transport.IsRetryable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, tt.want.BytesReceived, session.Progress().Confirmed())

			require.Len(t, tr.requests, 1)
			req := tr.requests[0]
			assert.Equal(t, http.MethodPut, req.Method)
			assert.Equal(t, "bytes */1048576", req.Header.Get("Content-Range"))
			assert.Empty(t, req.Body)
		})
	}
}

func TestQueryStatus_StatusQueryFailedMessage(t *testing.T) {
	tr := &recordingTransport{handler: func(int, transport.Request) (*transport.Response, error) {
		return respond(http.StatusForbidden, nil, `{"error":{"message":"forbidden"}}`), nil
	}}
	session := newTestSession(t, 10, tr)

	_, err := session.QueryStatus(context.Background())
	var e *transport.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "status query failed: forbidden", e.Message)
	assert.Equal(t, http.StatusForbidden, e.StatusCode)
	assert.Equal(t, transport.Fatal, e.Kind)
	assert.ErrorIs(t, err, transport.ErrBadRequest)
	assert.Equal(t, "query upload status: status query failed: forbidden (HTTP 403)", err.Error())
}

func TestQueryStatus_ServerErrorIsFatal(t *testing.T) {
	tr := &recordingTransport{handler: func(int, transport.Request) (*transport.Response, error) {
		return respond(http.StatusBadGateway, nil, ""), nil
	}}
	session := newTestSession(t, 10, tr)

	_, err := session.QueryStatus(context.Background())
	var e *transport.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, transport.Fatal, e.Kind)
	assert.Equal(t, "status query failed: server error", e.Message)
	assert.ErrorIs(t, err, transport.ErrServer)
}

func TestCancel_Idempotent(t *testing.T) {
	server := newFakeUploadServer(1000)
	session := newTestSession(t, 1000, server)

	session.Cancel(context.Background())
	session.Cancel(context.Background())
	assert.Equal(t, 1, server.deletes)

	_, err := session.UploadBytes(context.Background(), payload(1000))
	assert.ErrorIs(t, err, transport.ErrInvariant)
	assert.Empty(t, server.chunkSizes)
}

func TestCancel_NeverFails(t *testing.T) {
	tests := []struct {
		name    string
		handler func(int, transport.Request) (*transport.Response, error)
	}{
		{name: "no content", handler: func(int, transport.Request) (*transport.Response, error) {
			return respond(http.StatusNoContent, nil, ""), nil
		}},
		{name: "client closed request", handler: func(int, transport.Request) (*transport.Response, error) {
			return respond(499, nil, ""), nil
		}},
		{name: "already gone", handler: func(int, transport.Request) (*transport.Response, error) {
			return respond(http.StatusNotFound, nil, ""), nil
		}},
		{name: "server error", handler: func(int, transport.Request) (*transport.Response, error) {
			return respond(http.StatusInternalServerError, nil, ""), nil
		}},
		{name: "network failure", handler: func(int, transport.Request) (*transport.Response, error) {
			return nil, errors.New("connection reset by peer")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &recordingTransport{handler: tt.handler}
			session := newTestSession(t, 1000, tr)

			assert.NotPanics(t, func() { session.Cancel(context.Background()) })
			require.Len(t, tr.requests, 1)
			assert.Equal(t, http.MethodDelete, tr.requests[0].Method)
			assert.Equal(t, session.Endpoint, tr.requests[0].URL)
		})
	}
}

func TestCancel_ExpiredSession(t *testing.T) {
	tr := &recordingTransport{handler: func(int, transport.Request) (*transport.Response, error) {
		return respond(http.StatusNotFound, nil, ""), nil
	}}
	session := newTestSession(t, 1000, tr)

	_, err := session.QueryStatus(context.Background())
	require.ErrorIs(t, err, transport.ErrSessionExpired)

	session.Cancel(context.Background())
	assert.Len(t, tr.requests, 1)
}

func TestInitiate(t *testing.T) {
	tr := &recordingTransport{handler: func(n int, req transport.Request) (*transport.Response, error) {
		return respond(http.StatusOK, http.Header{"Location": []string{"/upload/files?upload_id=xyz"}}, ""), nil
	}}
	exec := transport.NewExecutor(tr, log.NewLogger())

	session, err := Initiate(context.Background(), exec, InitiateRequest{
		URL:         "https://api.example.com/upload/files?uploadType=resumable",
		Metadata:    map[string]string{"name": "report.pdf"},
		TotalSize:   2048,
		ContentType: "application/pdf",
		Header:      http.Header{"Authorization": []string{"Bearer token"}},
	}, Options{Config: testConfig()})
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/upload/files?upload_id=xyz", session.Endpoint)
	assert.Equal(t, int64(2048), session.TotalSize)
	assert.Equal(t, "application/pdf", session.ContentType)

	require.Len(t, tr.requests, 1)
	req := tr.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/pdf", req.Header.Get("X-Upload-Content-Type"))
	assert.Equal(t, "2048", req.Header.Get("X-Upload-Content-Length"))
	assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
	assert.JSONEq(t, `{"name":"report.pdf"}`, string(req.Body))

	// The session reuses the executor's transport.
	session.Cancel(context.Background())
	assert.Len(t, tr.requests, 2)
}

func TestInitiate_NoLocation(t *testing.T) {
	tr := &recordingTransport{handler: func(int, transport.Request) (*transport.Response, error) {
		return respond(http.StatusOK, nil, `{}`), nil
	}}
	exec := transport.NewExecutor(tr, log.NewLogger())

	session, err := Initiate(context.Background(), exec, InitiateRequest{URL: "https://api.example.com/upload", TotalSize: 10}, Options{})
	require.Error(t, err)
	assert.Nil(t, session)
	assert.ErrorIs(t, err, transport.ErrNoEndpoint)
	assert.JSONEq(t, `{}`, string(tr.requests[0].Body))
}

func TestInitiate_Rejected(t *testing.T) {
	tr := &recordingTransport{handler: func(int, transport.Request) (*transport.Response, error) {
		return respond(http.StatusUnauthorized, nil, `{"error":{"message":"invalid credentials"}}`), nil
	}}
	exec := transport.NewExecutor(tr, log.NewLogger())

	_, err := Initiate(context.Background(), exec, InitiateRequest{URL: "https://api.example.com/upload", TotalSize: 10}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrBadRequest)
	assert.Contains(t, err.Error(), "invalid credentials")
}

type recordingTracker struct {
	events []string
}

func (r *recordingTracker) Enqueue(eventName string, _ ...analytics.Properties) {
	r.events = append(r.events, eventName)
}

func (r *recordingTracker) Wait() {}

func TestSession_TracksEvents(t *testing.T) {
	content := payload(600000)
	server := newFakeUploadServer(int64(len(content)))
	server.faults = []fault{{status: http.StatusServiceUnavailable, accept: 0}}
	tracker := &recordingTracker{}
	session, err := NewSession("https://upload.example.com/session/1", int64(len(content)), "", Options{
		Config:    testConfig(),
		Transport: server,
		Tracker:   tracker,
	})
	require.NoError(t, err)

	_, err = session.UploadBytes(context.Background(), content)
	require.NoError(t, err)
	session.WaitForTracker()

	assert.Equal(t, []string{
		"resumable_upload_chunk_retried",
		"resumable_upload_bytes_transferred",
		"resumable_upload_bytes_transferred",
		"resumable_upload_bytes_transferred",
		"resumable_upload_completed",
	}, tracker.events)
	assert.Equal(t, int64(3), session.Stats().SentCount())
}
