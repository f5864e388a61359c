package offline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonebnation/ebizimba-content/interfaces"
	"github.com/zonebnation/ebizimba-content/sequence"
	"github.com/zonebnation/ebizimba-content/storage"
)

type fakeFetcher struct {
	unreachable map[interfaces.ContentID]bool
	block       chan struct{}

	mu    sync.Mutex
	calls map[interfaces.ContentID]int
}

func newFakeFetcher(unreachable ...interfaces.ContentID) *fakeFetcher {
	f := &fakeFetcher{unreachable: make(map[interfaces.ContentID]bool), calls: make(map[interfaces.ContentID]int)}
	for _, id := range unreachable {
		f.unreachable[id] = true
	}
	return f
}

func (f *fakeFetcher) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	f.mu.Lock()
	f.calls[id]++
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.unreachable[id] {
		return nil, &interfaces.FetchError{ContentID: id}
	}
	return []byte("image of " + string(id)), nil
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func newStorage(t *testing.T) *storage.FileStorage {
	t.Helper()
	fs, err := storage.NewFileStorage(t.TempDir(), nil)
	require.NoError(t, err)
	return fs
}

func TestDownloadRange_PartialFailure(t *testing.T) {
	pages := sequence.Pages()
	fetcher := newFakeFetcher(pages.ID(2), pages.ID(5), pages.ID(9))
	b := New(newStorage(t), fetcher, pages, Options{}, nil)

	var progress []Progress
	res, err := b.DownloadRange(context.Background(), pages.ID(1), pages.ID(10), func(p Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Succeeded: 7, Failed: 3}, res)

	require.Len(t, progress, 10)
	failed := 0
	for i, p := range progress {
		assert.Equal(t, i+1, p.Done)
		assert.Equal(t, 10, p.Total)
		if p.Err != nil {
			failed++
			assert.ErrorIs(t, p.Err, interfaces.ErrSourcesExhausted)
		}
	}
	assert.Equal(t, 3, failed)

	for n := 1; n <= 10; n++ {
		ok, err := b.Available(context.Background(), pages.ID(n))
		require.NoError(t, err)
		assert.Equal(t, !fetcher.unreachable[pages.ID(n)], ok, "page %d", n)
	}
}

func TestDownloadRange_SkipsAvailableIDs(t *testing.T) {
	pages := sequence.Pages()
	fetcher := newFakeFetcher(pages.ID(3))
	b := New(newStorage(t), fetcher, pages, Options{}, nil)

	_, err := b.DownloadRange(context.Background(), pages.ID(1), pages.ID(4), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, fetcher.totalCalls())

	res, err := b.DownloadRange(context.Background(), pages.ID(1), pages.ID(4), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Succeeded: 3, Failed: 1}, res)
	assert.Equal(t, 5, fetcher.totalCalls())
	assert.Equal(t, 2, fetcher.calls[pages.ID(3)])
}

func TestDownloadRange_ManifestSurvivesRestart(t *testing.T) {
	pages := sequence.Pages()
	fs := newStorage(t)

	b := New(fs, newFakeFetcher(), pages, Options{}, nil)
	_, err := b.DownloadRange(context.Background(), pages.ID(20), pages.ID(22), nil)
	require.NoError(t, err)

	fetcher := newFakeFetcher()
	restarted := New(fs, fetcher, pages, Options{}, nil)
	res, err := restarted.DownloadRange(context.Background(), pages.ID(20), pages.ID(22), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Succeeded: 3}, res)
	assert.Zero(t, fetcher.totalCalls())

	data, err := restarted.Read(context.Background(), pages.ID(21))
	require.NoError(t, err)
	assert.Equal(t, []byte("image of quran-page-021"), data)

	entries, err := restarted.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, pages.ID(20), entries[0].ID)
	assert.Equal(t, int64(len("image of quran-page-020")), entries[0].Size)
}

func TestDownloadRange_InvalidRange(t *testing.T) {
	pages := sequence.Pages()
	fetcher := newFakeFetcher()
	b := New(newStorage(t), fetcher, pages, Options{MaxRange: 5}, nil)

	tests := []struct {
		name       string
		start, end interfaces.ContentID
	}{
		{"reversed", pages.ID(10), pages.ID(1)},
		{"outside sequence", pages.ID(1), "quran-page-700"},
		{"unknown id", "book-1", pages.ID(3)},
		{"too large", pages.ID(1), pages.ID(6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := b.DownloadRange(context.Background(), tt.start, tt.end, nil)
			assert.ErrorIs(t, err, interfaces.ErrInvalidRange)
			assert.Equal(t, Result{}, res)
		})
	}
	assert.Zero(t, fetcher.totalCalls())
}

func TestDownloadRange_NoDurableStorage(t *testing.T) {
	pages := sequence.Pages()
	fetcher := newFakeFetcher()
	b := New(nil, fetcher, pages, Options{}, nil)

	res, err := b.DownloadRange(context.Background(), pages.ID(1), pages.ID(10), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Zero(t, fetcher.totalCalls())

	ok, err := b.Available(context.Background(), pages.ID(1))
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = b.Read(context.Background(), pages.ID(1))
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
	assert.NoError(t, b.Clear(context.Background()))

	_, err = b.DownloadRange(context.Background(), pages.ID(2), pages.ID(1), nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidRange)
}

func TestDownloadRange_OneAtATime(t *testing.T) {
	pages := sequence.Pages()
	fetcher := newFakeFetcher()
	fetcher.block = make(chan struct{})
	b := New(newStorage(t), fetcher, pages, Options{}, nil)

	done := make(chan Result, 1)
	go func() {
		res, _ := b.DownloadRange(context.Background(), pages.ID(1), pages.ID(3), nil)
		done <- res
	}()
	require.Eventually(t, b.InProgress, time.Second, time.Millisecond)

	_, err := b.DownloadRange(context.Background(), pages.ID(4), pages.ID(5), nil)
	assert.ErrorIs(t, err, interfaces.ErrBundleInProgress)
	assert.ErrorIs(t, b.Clear(context.Background()), interfaces.ErrBundleInProgress)

	close(fetcher.block)
	assert.Equal(t, Result{Succeeded: 3}, <-done)
	assert.False(t, b.InProgress())
}

func TestDownloadRange_Cancelled(t *testing.T) {
	pages := sequence.Pages()
	fetcher := newFakeFetcher()
	fetcher.block = make(chan struct{})
	b := New(newStorage(t), fetcher, pages, Options{Concurrency: 2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := b.DownloadRange(ctx, pages.ID(1), pages.ID(10), nil)
		done <- outcome{res, err}
	}()
	require.Eventually(t, func() bool { return fetcher.totalCalls() == 2 }, time.Second, time.Millisecond)
	cancel()

	out := <-done
	assert.ErrorIs(t, out.err, context.Canceled)
	assert.Equal(t, Result{}, out.res)

	entries, err := b.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, b.InProgress())
}

func TestReadRemoveClear(t *testing.T) {
	pages := sequence.Pages()
	fs := newStorage(t)
	b := New(fs, newFakeFetcher(), pages, Options{}, nil)
	ctx := context.Background()

	_, err := b.DownloadRange(ctx, pages.ID(1), pages.ID(3), nil)
	require.NoError(t, err)

	_, err = b.Read(ctx, pages.ID(4))
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, b.Remove(ctx, pages.ID(2)))
	ok, err := b.Available(ctx, pages.ID(2))
	require.NoError(t, err)
	assert.False(t, ok)
	exists, err := fs.Stat(ctx, dataPath(pages.ID(2)))
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, b.Remove(ctx, pages.ID(2)))

	t.Run("missing file drops entry", func(t *testing.T) {
		require.NoError(t, fs.Remove(ctx, dataPath(pages.ID(3))))
		_, err := b.Read(ctx, pages.ID(3))
		assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
		ok, err := b.Available(ctx, pages.ID(3))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	require.NoError(t, b.Clear(ctx))
	entries, err := b.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	exists, err = fs.Stat(ctx, ManifestPath)
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = fs.Stat(ctx, dataPath(pages.ID(1)))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestManifest_Decode(t *testing.T) {
	_, err := decodeManifest([]byte(`{"version":2,"entries":{}}`))
	assert.Error(t, err)
	_, err = decodeManifest([]byte(`not json`))
	assert.Error(t, err)

	m, err := decodeManifest([]byte(`{"version":1}`))
	require.NoError(t, err)
	assert.NotNil(t, m.Entries)

	assert.Equal(t, "offline/data/a%2Fb", dataPath("a/b"))
	assert.Equal(t, fmt.Sprintf("%s/%s", DataDir, "quran-page-001"), dataPath("quran-page-001"))
}
