package prefetch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/zonebnation/ebizimba-content/cache"
	"github.com/zonebnation/ebizimba-content/catalog"
	"github.com/zonebnation/ebizimba-content/fetch"
	"github.com/zonebnation/ebizimba-content/interfaces"
	"github.com/zonebnation/ebizimba-content/registry"
	"github.com/zonebnation/ebizimba-content/sequence"
)

type fakeFetcher struct {
	fail  map[interfaces.ContentID]bool
	block chan struct{}

	mu      sync.Mutex
	fetched []interfaces.ContentID
	active  int
	peak    int
}

func (f *fakeFetcher) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	f.active++
	f.peak = max(f.peak, f.active)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[id] {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrSourcesExhausted, id)
	}
	return []byte(id), nil
}

func (f *fakeFetcher) ids() []interfaces.ContentID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interfaces.ContentID(nil), f.fetched...)
}

func TestNeighbours(t *testing.T) {
	p := New(&fakeFetcher{}, sequence.Pages(), 0, nil)

	assert.Equal(t, []interfaces.ContentID{
		"quran-page-011", "quran-page-012", "quran-page-013", "quran-page-014", "quran-page-015",
		"quran-page-009", "quran-page-008",
	}, p.Neighbours("quran-page-010", DefaultForward, DefaultBackward))

	assert.Equal(t, []interfaces.ContentID{
		"quran-page-604", "quran-page-602", "quran-page-601",
	}, p.Neighbours("quran-page-603", 5, 2))

	assert.Empty(t, p.Neighbours("quran-page-001", 0, 3))
	assert.Empty(t, p.Neighbours("not-a-page", 5, 2))
}

func TestWarm_FetchesWindowAndDiscardsErrors(t *testing.T) {
	f := &fakeFetcher{fail: map[interfaces.ContentID]bool{"quran-page-012": true}}
	p := New(f, sequence.Pages(), 2, nil)

	job := p.Warm(context.Background(), "quran-page-010", 3, 1)
	res := job.Wait()

	assert.Equal(t, Result{Fetched: 3, Failed: 1}, res)
	assert.ElementsMatch(t, []interfaces.ContentID{
		"quran-page-011", "quran-page-012", "quran-page-013", "quran-page-009",
	}, f.ids())
	assert.Zero(t, p.Running())
}

func TestWarm_DoesNotBlockAndIsCancellable(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	p := New(f, sequence.Pages(), 2, nil)

	returned := make(chan *Job, 1)
	go func() { returned <- p.Warm(context.Background(), "quran-page-100", 5, 2) }()

	var job *Job
	select {
	case job = <-returned:
	case <-time.After(time.Second):
		t.Fatal("Warm blocked its caller")
	}
	require.Eventually(t, func() bool { return len(f.ids()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, p.Running())

	job.Cancel()
	res := job.Wait()
	assert.Zero(t, res.Fetched)
	assert.LessOrEqual(t, len(f.ids()), 2)
	assert.Zero(t, p.Running())
}

func TestWarm_BoundedConcurrency(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	p := New(f, sequence.Pages(), 3, nil)

	job := p.Warm(context.Background(), "quran-page-300", 10, 0)
	require.Eventually(t, func() bool { return len(f.ids()) == 3 }, time.Second, time.Millisecond)
	close(f.block)
	assert.Equal(t, Result{Fetched: 10}, job.Wait())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 3, f.peak)
}

func TestStop(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	p := New(f, sequence.Pages(), 1, nil)

	job := p.Warm(context.Background(), "quran-page-050", 5, 0)
	require.Eventually(t, func() bool { return len(f.ids()) == 1 }, time.Second, time.Millisecond)

	p.Stop()
	select {
	case <-job.Done():
	default:
		t.Fatal("Stop returned before the job finished")
	}

	late := p.Warm(context.Background(), "quran-page-060", 5, 0)
	assert.Equal(t, Result{}, late.Wait())
	assert.Len(t, f.ids(), 1)
}

type countingGateway struct {
	release chan struct{}
	calls   atomic.Int32
}

func (g *countingGateway) Fetch(ctx context.Context, location string, id interfaces.ContentID) ([]byte, error) {
	g.calls.Inc()
	select {
	case <-g.release:
		return []byte("page " + string(id)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *countingGateway) Name() string { return "counting" }

func (g *countingGateway) GatewayFor(string) (interfaces.Gateway, error) { return g, nil }

func TestWarm_CoalescesWithUserFetch(t *testing.T) {
	pages := sequence.Pages()
	var descs []interfaces.ContentDescriptor
	for n := 1; n <= 5; n++ {
		descs = append(descs, interfaces.ContentDescriptor{
			ID:              pages.ID(n),
			Kind:            interfaces.PageImageKind,
			SourceLocations: []string{"https://pages.example/{id}.png"},
		})
	}
	reg := registry.NewContentRegistry(catalog.NewMemoryCatalog(descs...), nil)
	require.NoError(t, reg.Sync(context.Background()))

	gw := &countingGateway{release: make(chan struct{})}
	pipeline := fetch.New(fetch.Config{
		Registry: reg,
		Cache:    cache.NewStore(nil, cache.Options{}, nil),
		Gateways: gw,
	})
	p := New(pipeline, pages, 4, nil)

	job := p.Warm(context.Background(), "quran-page-001", 1, 0)
	require.Eventually(t, func() bool { return gw.calls.Load() == 1 }, time.Second, time.Millisecond)

	userDone := make(chan []byte, 1)
	go func() {
		data, err := pipeline.Fetch(context.Background(), "quran-page-002")
		assert.NoError(t, err)
		userDone <- data
	}()

	// Give the user request time to join the in-flight fetch.
	time.Sleep(20 * time.Millisecond)
	close(gw.release)

	assert.Equal(t, []byte("page quran-page-002"), <-userDone)
	assert.Equal(t, Result{Fetched: 1}, job.Wait())
	assert.Equal(t, int32(1), gw.calls.Load())
}
