package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/foreman/internal/control"
	"github.com/mattjoyce/foreman/internal/events"
)

type fakeWorker struct {
	stats   map[string]any
	revoked []string
	err     error
}

func (f *fakeWorker) Stats() map[string]any      { return f.stats }
func (f *fakeWorker) Revoked() ([]string, error) { return f.revoked, f.err }

type fakeBroadcaster struct {
	commands []string
	args     map[string]any
	replies  []control.Reply
	err      error
}

func (f *fakeBroadcaster) Broadcast(command string, args map[string]any) error {
	f.commands = append(f.commands, command)
	f.args = args
	return f.err
}

func (f *fakeBroadcaster) BroadcastReply(ctx context.Context, command string, args map[string]any, limit int, timeout time.Duration) ([]control.Reply, error) {
	f.commands = append(f.commands, command)
	f.args = args
	return f.replies, f.err
}

func newTestServer(worker *fakeWorker, client *fakeBroadcaster, hub *events.Hub) *Server {
	if hub == nil {
		hub = events.NewHub(16)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{Listen: "127.0.0.1:0", APIKey: "test-key"}, worker, client, hub, logger)
}

func doRequest(s *Server, method, path, body string, authed bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer test-key")
	}
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoAuth(t *testing.T) {
	s := newTestServer(&fakeWorker{}, &fakeBroadcaster{}, nil)

	rec := doRequest(s, http.MethodGet, "/v1/health", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestProtectedRoutesRejectMissingKey(t *testing.T) {
	s := newTestServer(&fakeWorker{}, &fakeBroadcaster{}, nil)

	for _, path := range []string{"/v1/status", "/v1/revoked", "/v1/events"} {
		rec := doRequest(s, http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := doRequest(s, http.MethodPost, "/v1/control/ping", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusReportsWorkerStats(t *testing.T) {
	worker := &fakeWorker{stats: map[string]any{"hostname": "w1@host", "pool_size": float64(4)}}
	s := newTestServer(worker, &fakeBroadcaster{}, nil)

	rec := doRequest(s, http.MethodGet, "/v1/status", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "w1@host", resp.Worker["hostname"])
}

func TestControlFireAndForget(t *testing.T) {
	client := &fakeBroadcaster{}
	s := newTestServer(&fakeWorker{}, client, nil)

	rec := doRequest(s, http.MethodPost, "/v1/control/revoke",
		`{"arguments":{"task_id":"t1"}}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ControlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "revoke", resp.Command)
	assert.Equal(t, "broadcast", resp.Status)

	require.Equal(t, []string{"revoke"}, client.commands)
	assert.Equal(t, "t1", client.args["task_id"])
}

func TestControlCollectsReplies(t *testing.T) {
	client := &fakeBroadcaster{replies: []control.Reply{
		{Hostname: "w1@host", Result: json.RawMessage(`"pong"`)},
		{Hostname: "w2@host", Result: json.RawMessage(`"pong"`)},
	}}
	s := newTestServer(&fakeWorker{}, client, nil)

	rec := doRequest(s, http.MethodPost, "/v1/control/ping", `{"replies":2}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ControlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Replies, 2)
	assert.Equal(t, "w1@host", resp.Replies[0].Hostname)
}

func TestControlRejectsInvalidBody(t *testing.T) {
	client := &fakeBroadcaster{}
	s := newTestServer(&fakeWorker{}, client, nil)

	rec := doRequest(s, http.MethodPost, "/v1/control/ping", "{not json", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, client.commands)
}

func TestRevokedList(t *testing.T) {
	worker := &fakeWorker{revoked: []string{"t1", "t2"}}
	s := newTestServer(worker, &fakeBroadcaster{}, nil)

	rec := doRequest(s, http.MethodGet, "/v1/revoked", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RevokedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, []string{"t1", "t2"}, resp.TaskIDs)
}

func TestEventsStreamReplaysBuffer(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.InboxStarted, map[string]any{"hostname": "w1@host"})
	hub.Publish(events.CommandReceived, map[string]any{"command": "ping"})

	s := newTestServer(&fakeWorker{}, &fakeBroadcaster{}, hub)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer test-key")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.setupRoutes().ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "id: 1\n")
	assert.Contains(t, body, "event: "+events.InboxStarted)
	assert.Contains(t, body, "event: "+events.CommandReceived)
	assert.Contains(t, body, `"command":"ping"`)
}

func TestEventsStreamHonoursLastEventID(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.InboxStarted, nil)
	hub.Publish(events.InboxReset, nil)

	s := newTestServer(&fakeWorker{}, &fakeBroadcaster{}, hub)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer test-key")
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.setupRoutes().ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.NotContains(t, body, "event: "+events.InboxStarted)
	assert.Contains(t, body, "event: "+events.InboxReset)
}
