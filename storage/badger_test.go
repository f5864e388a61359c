package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

func TestBadgerStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewBadgerStorage("", testLogger())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ReadFile(ctx, "cache/a")
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, s.WriteFile(ctx, "cache/a", []byte("one")))
	require.NoError(t, s.WriteFile(ctx, "cache/b", []byte("two")))
	require.NoError(t, s.WriteFile(ctx, "cachex", []byte("sibling")))

	data, err := s.ReadFile(ctx, "/cache/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	ok, err := s.Stat(ctx, "cache/b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Mkdir(ctx, "cache"))
	require.NoError(t, s.Remove(ctx, "cache"))

	ok, err = s.Stat(ctx, "cache/a")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Stat(ctx, "cachex")
	require.NoError(t, err)
	assert.True(t, ok, "remove must not touch keys sharing only a prefix")
}

func TestBadgerStorage_TTL(t *testing.T) {
	ctx := context.Background()
	s, err := NewBadgerStorage(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WriteFileTTL(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, s.WriteFileTTL(ctx, "long", []byte("y"), time.Hour))

	ok, err := s.Stat(ctx, "short")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(2100 * time.Millisecond)

	ok, err = s.Stat(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)

	data, err := s.ReadFile(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), data)
}
