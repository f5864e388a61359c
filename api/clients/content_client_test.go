package clients

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonebnation/ebizimba-content/catalog"
	"github.com/zonebnation/ebizimba-content/delivery"
	"github.com/zonebnation/ebizimba-content/fetch"
	"github.com/zonebnation/ebizimba-content/httpserver"
	"github.com/zonebnation/ebizimba-content/interfaces"
	"github.com/zonebnation/ebizimba-content/offline"
	"github.com/zonebnation/ebizimba-content/sequence"
	"github.com/zonebnation/ebizimba-content/storage"
	"github.com/zonebnation/ebizimba-content/upload"
)

// newTestClient runs a content server over pages p-01..p-06; p-02 cannot be
// fetched.
func newTestClient(t *testing.T) *ContentClient {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/")
		if id == "p-02" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, "body of %s", id)
	}))
	t.Cleanup(origin.Close)

	pages := sequence.Pattern{Prefix: "p-", Width: 2, First: 1, Last: 6}
	var descs []interfaces.ContentDescriptor
	for n := pages.First; n <= pages.Last; n++ {
		descs = append(descs, interfaces.ContentDescriptor{
			ID:              pages.ID(n),
			Kind:            interfaces.PageImageKind,
			SourceLocations: []string{origin.URL + "/{id}"},
		})
	}

	factory := storage.NewGatewayFactory(logger, storage.FactoryOptions{})
	publisher, err := factory.CreateMultiPublisher([]string{"file://" + t.TempDir()})
	require.NoError(t, err)
	durable, err := storage.NewFileStorage(t.TempDir(), logger)
	require.NoError(t, err)

	svc, err := delivery.New(delivery.Config{
		Catalog:   catalog.NewMemoryCatalog(descs...),
		Gateways:  factory,
		Durable:   durable,
		Publisher: publisher,
		Sequencer: pages,
		Policy:    fetch.Policy{MaxRetriesPerSource: 1, AttemptTimeout: 5 * time.Second},
		Log:       logger,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Sync(context.Background()))
	t.Cleanup(func() { _ = svc.Close() })

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{Log: logger}, httpserver.NewHandler(svc, 0, logger))
	require.NoError(t, err)
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)

	client := NewContentClient(api.URL + "/")
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestContentClient_Fetch(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	data, err := client.Fetch(ctx, "p-01")
	require.NoError(t, err)
	assert.Equal(t, "body of p-01", string(data))

	_, err = client.Fetch(ctx, "missing")
	require.ErrorIs(t, err, interfaces.ErrNotRegistered)

	_, err = client.Fetch(ctx, "p-02")
	require.ErrorIs(t, err, interfaces.ErrSourcesExhausted)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestContentClient_UploadRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	payload := []byte("Ebizimba: a Luganda reader")

	id, err := client.Upload(ctx, payload, upload.Options{Title: "Reader", Kind: interfaces.DocumentKind, MimeType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(payload), id)

	data, err := client.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	_, err = client.Upload(ctx, nil, upload.Options{})
	require.ErrorIs(t, err, interfaces.ErrInvalidRange)
}

func TestContentClient_Prefetch(t *testing.T) {
	client := newTestClient(t)

	ids, err := client.Prefetch(context.Background(), "p-03", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.ContentID{"p-04", "p-05", "p-02"}, ids)

	ids, err = client.Prefetch(context.Background(), "p-06", -1, -1)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.ContentID{"p-05", "p-04"}, ids)
}

func TestContentClient_Offline(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	res, err := client.DownloadOfflineRange(ctx, "p-01", "p-06")
	require.NoError(t, err)
	assert.Equal(t, offline.Result{Succeeded: 5, Failed: 1}, res)

	progress, err := client.OfflineProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "complete", progress.State)
	assert.Equal(t, 6, progress.Total)

	_, err = client.DownloadOfflineRange(ctx, "p-06", "p-01")
	require.ErrorIs(t, err, interfaces.ErrInvalidRange)
}

func TestContentClient_Maintenance(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Fetch(ctx, "p-01")
	require.NoError(t, err)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, status.Descriptors)
	assert.Equal(t, 1, status.CachedEntries)
	assert.True(t, status.DurableCache)

	require.NoError(t, client.ClearMemory(ctx))
	status, err = client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.CachedEntries)

	_, err = client.Fetch(ctx, "p-01")
	require.NoError(t, err)
	require.NoError(t, client.Invalidate(ctx, "p-01"))
	require.NoError(t, client.ClearAll(ctx))
	require.NoError(t, client.Sync(ctx))

	status, err = client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.CachedEntries)
}

func TestAPIError_Is(t *testing.T) {
	err := &APIError{StatusCode: http.StatusConflict}
	assert.ErrorIs(t, err, interfaces.ErrBundleInProgress)
	assert.NotErrorIs(t, err, interfaces.ErrNotRegistered)

	err = &APIError{StatusCode: http.StatusServiceUnavailable}
	assert.ErrorIs(t, err, interfaces.ErrStorageUnavailable)
}
