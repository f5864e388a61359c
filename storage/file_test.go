package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStorage(t.TempDir(), testLogger())
	require.NoError(t, err)

	t.Run("read missing file", func(t *testing.T) {
		_, err := s.ReadFile(ctx, "cache/missing")
		assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

		ok, err := s.Stat(ctx, "cache/missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("write then read", func(t *testing.T) {
		require.NoError(t, s.WriteFile(ctx, "cache/a", []byte("hello")))

		data, err := s.ReadFile(ctx, "cache/a")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)

		ok, err := s.Stat(ctx, "cache/a")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("overwrite leaves no temporary files", func(t *testing.T) {
		require.NoError(t, s.WriteFile(ctx, "cache/b", []byte("one")))
		require.NoError(t, s.WriteFile(ctx, "cache/b", []byte("two")))

		data, err := s.ReadFile(ctx, "cache/b")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), data)

		entries, err := os.ReadDir(filepath.Join(s.BaseDir(), "cache"))
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp")
		}
	})

	t.Run("paths cannot escape the base directory", func(t *testing.T) {
		require.NoError(t, s.WriteFile(ctx, "../../escape", []byte("x")))
		_, err := os.Stat(filepath.Join(s.BaseDir(), "escape"))
		assert.NoError(t, err)
	})

	t.Run("remove directory", func(t *testing.T) {
		require.NoError(t, s.Mkdir(ctx, "offline"))
		require.NoError(t, s.WriteFile(ctx, "offline/p1", []byte("x")))
		require.NoError(t, s.Remove(ctx, "offline"))

		ok, err := s.Stat(ctx, "offline/p1")
		require.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, s.Remove(ctx, "offline"))
	})

	t.Run("root path is rejected", func(t *testing.T) {
		assert.Error(t, s.WriteFile(ctx, "/", []byte("x")))
	})
}

func TestFileBackend_PublishAndFetch(t *testing.T) {
	ctx := context.Background()
	baseDir := t.TempDir()

	backend, err := NewFileBackend(baseDir, testLogger())
	require.NoError(t, err)

	data := []byte("page scan bytes")
	id, locations, err := backend.Publish(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)
	require.Len(t, locations, 1)
	assert.Contains(t, locations[0], interfaces.IDPlaceholder)

	fetched, err := backend.Fetch(ctx, interfaces.ExpandTemplate(locations[0], id), id)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)

	t.Run("missing file is a transient failure", func(t *testing.T) {
		missing := interfaces.ContentID("missing")
		_, err := backend.Fetch(ctx, interfaces.ExpandTemplate(locations[0], missing), missing)
		assert.ErrorIs(t, err, interfaces.ErrTransientFetch)
	})

	t.Run("location outside base directory", func(t *testing.T) {
		_, err := backend.Fetch(ctx, "file:///etc/passwd", id)
		assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
	})
}
