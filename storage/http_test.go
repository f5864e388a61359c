package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

func TestHTTPGateway_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ipfs/good":
			w.Write([]byte("content"))
		case "/ipfs/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gw := NewHTTPGateway("test", srv.Client(), testLogger())
	assert.Equal(t, "test", gw.Name())

	t.Run("success", func(t *testing.T) {
		data, err := gw.Fetch(context.Background(), srv.URL+"/ipfs/good", "good")
		require.NoError(t, err)
		assert.Equal(t, []byte("content"), data)
	})

	t.Run("non-success status", func(t *testing.T) {
		_, err := gw.Fetch(context.Background(), srv.URL+"/ipfs/missing", "missing")
		assert.ErrorIs(t, err, interfaces.ErrTransientFetch)
	})

	t.Run("deadline exceeded", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := gw.Fetch(ctx, srv.URL+"/ipfs/slow", "slow")
		assert.ErrorIs(t, err, interfaces.ErrTransientFetch)
	})

	t.Run("malformed location", func(t *testing.T) {
		_, err := gw.Fetch(context.Background(), "http://[::1", "x")
		assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
	})
}

func TestGitHubBackend_Fetch(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Write([]byte("png"))
	}))
	defer srv.Close()

	backend := NewGitHubBackend("zonebnation", "pages", testLogger()).WithRawBaseURL(srv.URL + "/")

	data, err := backend.Fetch(context.Background(), "github://zonebnation/pages/scans/001.png?ref=v2", "001")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
	assert.Equal(t, "/zonebnation/pages/v2/scans/001.png", requested)

	_, err = backend.Fetch(context.Background(), "github://zonebnation/pages/scans/002.png", "002")
	require.NoError(t, err)
	assert.Equal(t, "/zonebnation/pages/main/scans/002.png", requested)

	_, err = backend.Fetch(context.Background(), "github://other/repo/scans/001.png", "001")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

// MockGateway implements interfaces.Gateway for testing
type MockGateway struct {
	mock.Mock
	name string
}

func (m *MockGateway) Fetch(ctx context.Context, location string, id interfaces.ContentID) ([]byte, error) {
	args := m.Called(ctx, location, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockGateway) Name() string {
	return m.name
}

func TestRateLimitedGateway(t *testing.T) {
	inner := &MockGateway{name: "inner"}
	inner.On("Fetch", mock.Anything, "https://gw/x", interfaces.ContentID("x")).Return([]byte("x"), nil).Once()

	gw := NewRateLimitedGateway(inner, 0.5, 1)
	assert.Equal(t, "inner", gw.Name())

	data, err := gw.Fetch(context.Background(), "https://gw/x", "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)

	// The bucket is empty and refills in two seconds, past the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = gw.Fetch(ctx, "https://gw/x", "x")
	assert.ErrorIs(t, err, interfaces.ErrTransientFetch)

	inner.AssertExpectations(t)
}
