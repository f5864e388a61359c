package fetch

import (
	"context"
	"sync"
)

// flight is one in-progress load shared by every waiter for its key.
type flight struct {
	done    chan struct{}
	val     []byte
	err     error
	waiters int
	cancel  context.CancelFunc
}

// coalescer merges concurrent loads of the same key into one. Unlike
// singleflight, waiters may abandon a flight; once all of them have, the
// flight's context is cancelled and the next request starts a fresh one.
type coalescer struct {
	mu      sync.Mutex
	flights map[string]*flight
}

func newCoalescer() *coalescer {
	return &coalescer{flights: make(map[string]*flight)}
}

// do runs fn once per key among concurrent callers and returns its result to
// all of them. shared reports whether the caller joined an existing flight.
// fn runs on a context detached from any single caller.
func (g *coalescer) do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) (val []byte, err error, shared bool) {
	g.mu.Lock()
	f, shared := g.flights[key]
	if !shared {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{done: make(chan struct{}), cancel: cancel}
		g.flights[key] = f
		go g.run(fctx, key, f, fn)
	}
	f.waiters++
	g.mu.Unlock()

	select {
	case <-f.done:
		return f.val, f.err, shared
	case <-ctx.Done():
		g.abandon(key, f)
		return nil, ctx.Err(), shared
	}
}

func (g *coalescer) run(ctx context.Context, key string, f *flight, fn func(context.Context) ([]byte, error)) {
	defer f.cancel()
	f.val, f.err = fn(ctx)

	g.mu.Lock()
	if g.flights[key] == f {
		delete(g.flights, key)
	}
	g.mu.Unlock()

	close(f.done)
}

func (g *coalescer) abandon(key string, f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	select {
	case <-f.done:
	default:
		f.cancel()
		if g.flights[key] == f {
			delete(g.flights, key)
		}
	}
}

// inflight returns the number of running flights.
func (g *coalescer) inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.flights)
}
