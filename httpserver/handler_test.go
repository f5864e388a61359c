package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonebnation/ebizimba-content/catalog"
	"github.com/zonebnation/ebizimba-content/delivery"
	"github.com/zonebnation/ebizimba-content/fetch"
	"github.com/zonebnation/ebizimba-content/interfaces"
	"github.com/zonebnation/ebizimba-content/offline"
	"github.com/zonebnation/ebizimba-content/sequence"
	"github.com/zonebnation/ebizimba-content/storage"
)

type testEnv struct {
	server  *Server
	service *delivery.Service
	origin  *httptest.Server
	hits    atomic.Int32
}

// newTestEnv serves pages p-01..p-10 from a local origin. p-03 is missing
// upstream.
func newTestEnv(t *testing.T, withDurable bool) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{}

	env.origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.hits.Add(1)
		id := strings.TrimPrefix(r.URL.Path, "/ipfs/")
		if id == "p-03" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, "page %s", id)
	}))
	t.Cleanup(env.origin.Close)

	pages := sequence.Pattern{Prefix: "p-", Width: 2, First: 1, Last: 10}
	var descs []interfaces.ContentDescriptor
	for n := pages.First; n <= pages.Last; n++ {
		descs = append(descs, interfaces.ContentDescriptor{
			ID:              pages.ID(n),
			Kind:            interfaces.PageImageKind,
			MimeType:        "image/png",
			SourceLocations: []string{env.origin.URL + "/ipfs/{id}"},
		})
	}

	factory := storage.NewGatewayFactory(logger, storage.FactoryOptions{})
	publisher, err := factory.CreateMultiPublisher([]string{"file://" + t.TempDir()})
	require.NoError(t, err)

	cfg := delivery.Config{
		Catalog:   catalog.NewMemoryCatalog(descs...),
		Gateways:  factory,
		Publisher: publisher,
		Sequencer: pages,
		Policy:    fetch.Policy{MaxRetriesPerSource: 1, AttemptTimeout: 5 * time.Second},
		Log:       logger,
	}
	if withDurable {
		durable, err := storage.NewFileStorage(t.TempDir(), logger)
		require.NoError(t, err)
		cfg.Durable = durable
	}

	env.service, err = delivery.New(cfg)
	require.NoError(t, err)
	require.NoError(t, env.service.Sync(context.Background()))
	t.Cleanup(func() { _ = env.service.Close() })

	env.server, err = New(&HTTPServerConfig{Log: logger}, NewHandler(env.service, 1024, logger))
	require.NoError(t, err)
	return env
}

func (env *testEnv) do(t *testing.T, method, target string, body io.Reader) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	resp := w.Result()
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHandleGetContent(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, http.MethodGet, "/api/content/p-01", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "p-01", resp.Header.Get(ContentIDHeader))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "page p-01", string(data))

	resp = env.do(t, http.MethodGet, "/api/content/p-01", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), env.hits.Load())
}

func TestHandleGetContent_Errors(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, http.MethodGet, "/api/content/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, decodeError(t, resp).Retryable)

	resp = env.do(t, http.MethodGet, "/api/content/p-03", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decodeError(t, resp)
	assert.True(t, body.Retryable)
	assert.Contains(t, body.Error, "all sources exhausted")
}

func TestHandleUpload(t *testing.T) {
	env := newTestEnv(t, false)
	payload := []byte("a small pdf")

	resp := env.do(t, http.MethodPost, "/api/content?title=Notes&kind=book&mime=application/pdf", bytes.NewReader(payload))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	id := interfaces.ComputeID(payload)
	assert.Equal(t, string(id), body["id"])

	desc, err := env.service.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, "Notes", desc.Title)
	assert.Equal(t, interfaces.DocumentKind, desc.Kind)

	resp = env.do(t, http.MethodGet, "/api/content/"+string(id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestHandleUpload_Rejects(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, http.MethodPost, "/api/content?kind=hologram", strings.NewReader("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/content", bytes.NewReader(make([]byte, 2048)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/content", http.NoBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlePrefetch(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, http.MethodPost, "/api/prefetch/p-05?forward=2&backward=1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body struct {
		IDs []interfaces.ContentID `json:"ids"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []interfaces.ContentID{"p-06", "p-07", "p-04"}, body.IDs)

	require.Eventually(t, func() bool { return env.hits.Load() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return env.service.Status().PrefetchRunning == 0 }, time.Second, 5*time.Millisecond)

	resp = env.do(t, http.MethodGet, "/api/content/p-07", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), env.hits.Load())

	resp = env.do(t, http.MethodPost, "/api/prefetch/p-05?forward=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleOfflineRange(t *testing.T) {
	env := newTestEnv(t, true)

	resp := env.do(t, http.MethodPost, "/api/offline/range", strings.NewReader(`{"start":"p-01","end":"p-05"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res offline.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, offline.Result{Succeeded: 4, Failed: 1}, res)

	progress := env.server.admin.Progress()
	assert.Equal(t, "complete", progress.State)
	assert.Equal(t, 5, progress.Done)
	assert.Equal(t, 5, progress.Total)

	resp = env.do(t, http.MethodGet, "/api/offline/progress", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got DownloadProgress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 4, got.Succeeded)
	assert.Equal(t, interfaces.ContentID("p-01"), got.Start)
}

// gatedOffline holds every offline download until release is closed.
type gatedOffline struct {
	*delivery.Service
	started chan struct{}
	release chan struct{}
}

func (g gatedOffline) DownloadOfflineRange(ctx context.Context, start, end interfaces.ContentID, onProgress offline.ProgressFunc) (offline.Result, error) {
	close(g.started)
	<-g.release
	return g.Service.DownloadOfflineRange(ctx, start, end, onProgress)
}

func TestHandleOfflineRange_RunningBeforeFirstItem(t *testing.T) {
	env := newTestEnv(t, true)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := gatedOffline{Service: env.service, started: make(chan struct{}), release: make(chan struct{})}
	srv, err := New(&HTTPServerConfig{Log: logger}, NewHandler(svc, 0, logger))
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/offline/range", strings.NewReader(`{"start":"p-01","end":"p-02"}`)))
		done <- w.Code
	}()
	<-svc.started

	progress := srv.admin.Progress()
	assert.Equal(t, "running", progress.State)
	assert.Equal(t, interfaces.ContentID("p-01"), progress.Start)
	assert.False(t, progress.StartedAt.IsZero())

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/offline/range", strings.NewReader(`{"start":"p-04","end":"p-05"}`)))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, interfaces.ContentID("p-01"), srv.admin.Progress().Start)

	close(svc.release)
	require.Equal(t, http.StatusOK, <-done)
	progress = srv.admin.Progress()
	assert.Equal(t, "complete", progress.State)
	assert.Equal(t, 2, progress.Succeeded)
}

func TestHandleOfflineRange_Rejects(t *testing.T) {
	env := newTestEnv(t, true)

	resp := env.do(t, http.MethodPost, "/api/offline/range", strings.NewReader(`{"start":"p-05","end":"p-01"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "failed", env.server.admin.Progress().State)

	resp = env.do(t, http.MethodPost, "/api/offline/range", strings.NewReader(`{"start":"p-01"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/offline/range", strings.NewReader(`not json`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleInvalidateAndClear(t *testing.T) {
	env := newTestEnv(t, false)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/content/p-02", nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/content/p-02", nil).StatusCode)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/content/p-02", nil).StatusCode)
	assert.Equal(t, int32(2), env.hits.Load())

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/cache/clear", nil).StatusCode)
	assert.Equal(t, 0, env.service.Status().CachedEntries)
}

func TestHandleClearMemory(t *testing.T) {
	env := newTestEnv(t, false)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/content/p-01", nil).StatusCode)
	require.Equal(t, 1, env.service.Status().CachedEntries)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/cache/clear-memory", nil).StatusCode)
	assert.Equal(t, 0, env.service.Status().CachedEntries)
}

func TestHandleSyncAndStatus(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, http.MethodPost, "/api/registry/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/registry/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status delivery.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 10, status.Descriptors)
	assert.False(t, status.Stale)
	assert.True(t, status.UploadsEnabled)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, false)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/livez", nil).StatusCode)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", nil).StatusCode)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/drain", nil).StatusCode)
	assert.False(t, env.server.IsReady())
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/readyz", nil).StatusCode)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/undrain", nil).StatusCode)
	assert.True(t, env.server.IsReady())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		retryable bool
	}{
		{interfaces.ErrNotRegistered, http.StatusNotFound, false},
		{fmt.Errorf("wrapped: %w", interfaces.ErrInvalidRange), http.StatusBadRequest, false},
		{&interfaces.FetchError{ContentID: "x"}, http.StatusBadGateway, true},
		{interfaces.ErrBundleInProgress, http.StatusConflict, true},
		{interfaces.ErrStorageUnavailable, http.StatusServiceUnavailable, false},
		{&RequestError{StatusCode: http.StatusTeapot, Err: interfaces.ErrNotRegistered}, http.StatusTeapot, false},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, true},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, retryable := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.retryable, retryable)
		})
	}
}
